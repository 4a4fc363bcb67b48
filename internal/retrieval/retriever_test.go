package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/lostfound/internal/geo"
	"github.com/onnwee/lostfound/internal/report"
)

var (
	colombo = geo.Point{Lat: 6.9271, Lng: 79.8612}
	now     = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
)

// kmNorth returns a point d km due north of colombo.
func kmNorth(d float64) *geo.Point {
	return &geo.Point{Lat: colombo.Lat + d/111.1951, Lng: colombo.Lng}
}

// flakyStore fails the first failures calls, then delegates.
type flakyStore struct {
	*report.InMemoryStore
	failures int32
	calls    atomic.Int32
	err      error
}

func (s *flakyStore) QueryCandidates(ctx context.Context, q report.CandidateQuery) ([]*report.Report, error) {
	n := s.calls.Add(1)
	if n <= s.failures {
		return nil, s.err
	}
	return s.InMemoryStore.QueryCandidates(ctx, q)
}

// leakyStore returns everything, ignoring the query, to exercise exact filtering.
type leakyStore struct {
	reports []*report.Report
}

func (s *leakyStore) GetReport(context.Context, string) (*report.Report, error) {
	return nil, report.ErrNotFound
}

func (s *leakyStore) QueryCandidates(context.Context, report.CandidateQuery) ([]*report.Report, error) {
	return s.reports, nil
}

func fastConfig() Config {
	return Config{
		MaxRadiusKm: 5,
		MaxDays:     30,
		Retry:       RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	}
}

func sourceReport() *report.Report {
	return &report.Report{ID: "src", Type: report.TypeLost, Status: report.StatusOpen, Location: &colombo, OccurredAt: now}
}

func found(id string, km float64, occurred time.Time) *report.Report {
	return &report.Report{ID: id, Type: report.TypeFound, Status: report.StatusOpen, Location: kmNorth(km), OccurredAt: occurred}
}

func ids(set CandidateSet) []string {
	out := make([]string, len(set.Candidates))
	for i, c := range set.Candidates {
		out[i] = c.Report.ID
	}
	return out
}

func TestRetrieve_ExactFilter(t *testing.T) {
	src := sourceReport()
	resolved := found("resolved", 1, now)
	resolved.Status = report.StatusResolved
	sameType := found("lost-other", 1, now)
	sameType.Type = report.TypeLost
	noLoc := found("noloc", 0, now)
	noLoc.Location = nil

	store := &leakyStore{reports: []*report.Report{
		found("far", 6, now),
		found("near", 1, now.Add(48*time.Hour)),
		found("nearest", 0.5, now),
		found("old", 1, now.AddDate(0, 0, -31)),
		found("edge-time", 2, now.AddDate(0, 0, 30)),
		resolved,
		sameType,
		noLoc,
		{ID: "src", Type: report.TypeFound, Status: report.StatusOpen, Location: &colombo, OccurredAt: now},
	}}

	r, err := NewRetriever(store, fastConfig(), nil)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	set, err := r.Retrieve(context.Background(), src)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	got := fmt.Sprint(ids(set))
	if want := "[nearest near edge-time]"; got != want {
		t.Errorf("candidates = %s, want %s", got, want)
	}
	if set.Narrowed || set.RadiusKm != 5 {
		t.Errorf("unexpected narrowing: %+v", set)
	}
	if set.Candidates[0].DistanceKm < 0.49 || set.Candidates[0].DistanceKm > 0.51 {
		t.Errorf("distance = %v, want ~0.5", set.Candidates[0].DistanceKm)
	}
}

func TestRetrieve_NoLocationYieldsEmptySet(t *testing.T) {
	store := &flakyStore{InMemoryStore: report.NewInMemoryStore()}
	r, _ := NewRetriever(store, fastConfig(), nil)

	src := sourceReport()
	src.Location = nil
	set, err := r.Retrieve(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Candidates == nil || len(set.Candidates) != 0 {
		t.Errorf("expected empty non-nil candidates, got %#v", set.Candidates)
	}
	if store.calls.Load() != 0 {
		t.Error("store should not be queried without a location")
	}
}

func TestRetrieve_EmptyStoreIsNotAnError(t *testing.T) {
	store := &flakyStore{InMemoryStore: report.NewInMemoryStore()}
	r, _ := NewRetriever(store, fastConfig(), nil)

	set, err := r.Retrieve(context.Background(), sourceReport())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(set.Candidates))
	}
	if store.calls.Load() != 1 {
		t.Errorf("empty result should not be retried, got %d calls", store.calls.Load())
	}
}

func TestRetrieve_RetriesTransientFailures(t *testing.T) {
	mem := report.NewInMemoryStore()
	mem.Put(found("f-1", 1, now))
	store := &flakyStore{InMemoryStore: mem, failures: 2, err: errors.New("connection refused")}
	r, _ := NewRetriever(store, fastConfig(), nil)

	set, err := r.Retrieve(context.Background(), sourceReport())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(set.Candidates) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(set.Candidates))
	}
	if store.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", store.calls.Load())
	}
}

func TestRetrieve_ExhaustedRetries(t *testing.T) {
	storeErr := errors.New("connection refused")
	store := &flakyStore{InMemoryStore: report.NewInMemoryStore(), failures: 100, err: storeErr}
	r, _ := NewRetriever(store, fastConfig(), nil)

	_, err := r.Retrieve(context.Background(), sourceReport())
	if !errors.Is(err, ErrRetrievalFailed) {
		t.Fatalf("expected ErrRetrievalFailed, got %v", err)
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
	if store.calls.Load() != 3 {
		t.Errorf("calls = %d, want MaxAttempts 3", store.calls.Load())
	}
}

func TestRetrieve_InvalidQueryNotRetried(t *testing.T) {
	store := &flakyStore{InMemoryStore: report.NewInMemoryStore(), failures: 100, err: report.ErrInvalidQuery}
	r, _ := NewRetriever(store, fastConfig(), nil)

	_, err := r.Retrieve(context.Background(), sourceReport())
	if !errors.Is(err, report.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if store.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", store.calls.Load())
	}
}

func TestRetrieve_CancelledContext(t *testing.T) {
	store := &flakyStore{InMemoryStore: report.NewInMemoryStore(), failures: 100, err: errors.New("timeout")}
	cfg := fastConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 50, InitialInterval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond}
	r, _ := NewRetriever(store, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Retrieve(ctx, sourceReport())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRetrieve_NarrowsRadiusInsteadOfTruncating(t *testing.T) {
	mem := report.NewInMemoryStore()
	// Ten candidates at 0.4, 0.8, ... 4.0 km.
	for i := 1; i <= 10; i++ {
		mem.Put(found(fmt.Sprintf("f-%02d", i), 0.4*float64(i), now))
	}
	cfg := fastConfig()
	cfg.Cap = 4
	r, _ := NewRetriever(mem, cfg, nil)

	set, err := r.Retrieve(context.Background(), sourceReport())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !set.Narrowed {
		t.Fatal("expected narrowing")
	}
	if len(set.Candidates) != 4 {
		t.Fatalf("got %d candidates, want 4", len(set.Candidates))
	}
	if set.RadiusKm < 1.6 || set.RadiusKm >= 2.0 {
		t.Errorf("radius = %.3f, want within [1.6, 2.0)", set.RadiusKm)
	}
	for _, c := range set.Candidates {
		if c.DistanceKm > set.RadiusKm {
			t.Errorf("candidate %s at %.3f km outside radius %.3f", c.Report.ID, c.DistanceKm, set.RadiusKm)
		}
	}
}

func TestRetrieve_OverflowAtMinimumRadius(t *testing.T) {
	mem := report.NewInMemoryStore()
	for i := 0; i < 5; i++ {
		mem.Put(found(fmt.Sprintf("f-%d", i), 0.01, now))
	}
	cfg := fastConfig()
	cfg.Cap = 3
	r, _ := NewRetriever(mem, cfg, nil)

	if _, err := r.Retrieve(context.Background(), sourceReport()); !errors.Is(err, ErrCandidateOverflow) {
		t.Fatalf("expected ErrCandidateOverflow, got %v", err)
	}
}

func TestNewRetriever_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero radius", Config{MaxRadiusKm: 0, MaxDays: 30}},
		{"negative days", Config{MaxRadiusKm: 5, MaxDays: -1}},
		{"negative cap", Config{MaxRadiusKm: 5, MaxDays: 30, Cap: -1}},
		{"min radius above max", Config{MaxRadiusKm: 5, MaxDays: 30, MinRadiusKm: 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRetriever(report.NewInMemoryStore(), tt.cfg, nil); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewRetriever_Defaults(t *testing.T) {
	r, err := NewRetriever(report.NewInMemoryStore(), Config{MaxRadiusKm: 5, MaxDays: 30}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := r.Config()
	if cfg.Cap != DefaultCap || cfg.MinRadiusKm != DefaultMinRadiusKm || cfg.Retry.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
