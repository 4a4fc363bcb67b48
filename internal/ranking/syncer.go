package ranking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/lostfound/internal/jobs"
)

// DefaultSyncInterval is how often a Syncer polls the snapshot store.
const DefaultSyncInterval = 15 * time.Second

// Syncer publishes newer persisted snapshots into a local Registry.
type Syncer struct {
	registry *Registry
	store    SnapshotStore
	interval time.Duration
	logger   *slog.Logger
	metrics  SyncMetrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SyncMetrics receives the outcome of each poll. *jobs.Metrics implements it.
type SyncMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// NewSyncer creates a Syncer. A zero interval uses DefaultSyncInterval.
func NewSyncer(registry *Registry, store SnapshotStore, interval time.Duration, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{registry: registry, store: store, interval: interval, logger: logger}
}

// SetMetrics attaches job metrics. Call before Start.
func (s *Syncer) SetMetrics(m SyncMetrics) {
	s.metrics = m
}

// SyncNow loads the stored snapshot and publishes it when newer than the
// active vector. It reports whether the registry changed.
func (s *Syncer) SyncNow(ctx context.Context) (bool, error) {
	stored, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored.Version <= s.registry.Active().Version {
		return false, nil
	}
	if err := s.registry.Publish(stored); err != nil {
		// Another writer may have published the same or a newer version.
		if errors.Is(err, ErrStaleVersion) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Start runs an initial sync and then polls in the background until Stop or
// ctx cancellation.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if _, err := s.SyncNow(ctx); err != nil {
		s.logger.Warn("initial weight sync failed", "error", err)
	}
	go s.run(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether the poll loop is active.
func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Syncer) poll(ctx context.Context) {
	start := time.Now()
	changed, err := s.SyncNow(ctx)
	status := jobs.StatusSkipped
	switch {
	case err != nil:
		status = jobs.StatusFailure
		s.logger.Warn("weight sync failed", "error", err)
	case changed:
		status = jobs.StatusSuccess
	}
	if s.metrics == nil {
		return
	}
	s.metrics.IncJobsTotal(jobs.JobTypeWeightSync, status)
	s.metrics.ObserveJobDuration(jobs.JobTypeWeightSync, time.Since(start).Seconds())
	if err != nil {
		s.metrics.IncJobErrors(jobs.JobTypeWeightSync, "store")
	}
}
