package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Ensure implementations satisfy the interface.
var (
	_ RateLimitStore = (*InMemoryRateLimitStore)(nil)
	_ RateLimitStore = (*RedisRateLimitStore)(nil)
)

func newTestStore(clock *time.Time) *InMemoryRateLimitStore {
	s := NewInMemoryRateLimitStore()
	s.now = func() time.Time { return *clock }
	return s
}

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(&clock)
	cfg := RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := store.Allow(ctx, "ip:1.2.3.4", cfg)
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i+1, allowed, err)
		}
	}

	allowed, retryAfter, _ := store.Allow(ctx, "ip:1.2.3.4", cfg)
	if allowed {
		t.Fatal("sixth request within the burst should be refused")
	}
	// One token refills roughly every 12s.
	if retryAfter <= 0 || retryAfter > 13*time.Second {
		t.Errorf("retryAfter = %v, want within (0, 13s]", retryAfter)
	}

	if allowed, _, _ := store.Allow(ctx, "ip:5.6.7.8", cfg); !allowed {
		t.Error("other keys must have their own bucket")
	}

	clock = clock.Add(13 * time.Second)
	if allowed, _, _ := store.Allow(ctx, "ip:1.2.3.4", cfg); !allowed {
		t.Error("a token should have refilled after 13s")
	}
	if allowed, _, _ := store.Allow(ctx, "ip:1.2.3.4", cfg); allowed {
		t.Error("only one token should have refilled")
	}
}

func TestInMemoryRateLimitStore_Concurrency(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(&clock)
	cfg := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := store.Allow(context.Background(), "ip:9.9.9.9", cfg); ok {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 50 {
		t.Errorf("allowed %d requests, want exactly 50", allowedCount)
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStore(&clock)
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}

	_, _, _ = store.Allow(context.Background(), "ip:old", cfg)
	clock = clock.Add(10 * time.Minute)
	_, _, _ = store.Allow(context.Background(), "ip:new", cfg)

	store.Cleanup(5 * time.Minute)

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.limiters["ip:old"]; ok {
		t.Error("idle bucket should be removed")
	}
	if _, ok := store.limiters["ip:new"]; !ok {
		t.Error("recent bucket should be kept")
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "ip:192.168.1.1"},
		{"ipv6 remote addr", "[::1]:12345", nil, "ip:::1"},
		{"remote addr without port", "192.168.1.1", nil, "ip:192.168.1.1"},
		{"forwarded chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.1"}, "ip:203.0.113.5"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.7"}, "ip:198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IPKeyFunc()(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:1234"
	if got := UserKeyFunc()(req); got != "ip:192.168.1.1" {
		t.Errorf("anonymous key = %q", got)
	}
	req = req.WithContext(SetUserID(req.Context(), "user-7"))
	if got := UserKeyFunc()(req); got != "user:user-7" {
		t.Errorf("authenticated key = %q", got)
	}
}

func TestRateLimiter_BlocksExcessiveTraffic(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	metrics := NewMetrics()
	handler := RateLimiter(store, cfg, IPKeyFunc(), metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 5)
	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/r1/matches", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	want := []int{200, 200, 200, 429, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("status codes = %v, want %v", codes, want)
		}
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("429 response must carry Retry-After and X-RateLimit-Reset")
	}
	if ct := last.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if v := counterValue(t, metrics.rateLimitBlocked.WithLabelValues("/api/v1/reports/{id}/matches", "ip")); v != 2 {
		t.Errorf("blocked counter = %v, want 2", v)
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, RateLimitConfig) (bool, time.Duration, error) {
	return false, 0, errors.New("connection refused")
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	metrics := NewMetrics()
	handler := RateLimiter(failingStore{}, DefaultPublicLimit(), IPKeyFunc(), metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/weights", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the store fails", rr.Code)
	}
	if v := counterValue(t, metrics.rateLimitStoreErrs); v != 1 {
		t.Errorf("store error counter = %v, want 1", v)
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr bool
	}{
		{"valid", RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}, false},
		{"zero requests", RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}, true},
		{"negative window", RateLimitConfig{RequestsPerWindow: 10, WindowDuration: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	for _, cfg := range []RateLimitConfig{DefaultPublicLimit(), DefaultAdminLimit()} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("default %+v invalid: %v", cfg, err)
		}
	}
}
