package main

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/onnwee/lostfound/internal/config"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LOSTFOUND_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "learner-test-secret-0123456789abcdef")
	t.Setenv("TRACING_ENABLED", "false")
	cfg, errs := config.Load("")
	if len(errs) > 0 {
		t.Fatalf("config.Load: %v", errs)
	}
	return cfg
}

func TestRun_OnceWithoutFeedbackSkips(t *testing.T) {
	cfg := testConfig(t)
	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	if err := run(cfg, logger, true, "", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(logs.String(), "weight learning skipped") {
		t.Errorf("expected a skipped run in logs:\n%s", logs.String())
	}
	if strings.Contains(logs.String(), "proposal created") {
		t.Error("no proposal should be created without feedback")
	}
}

func TestRun_StopsOnSignal(t *testing.T) {
	cfg := testConfig(t)
	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	quit := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- run(cfg, logger, false, "127.0.0.1:0", quit) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(logs.String(), "learner started") {
		if time.Now().After(deadline) {
			t.Fatalf("learner did not start:\n%s", logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	quit <- syscall.SIGINT

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(shutdownTimeout + 2*time.Second):
		t.Fatal("run did not return after SIGINT")
	}
	if !strings.Contains(logs.String(), "shutting down learner") {
		t.Errorf("missing shutdown log:\n%s", logs.String())
	}
}
