package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/lostfound/internal/jobs"
	"github.com/onnwee/lostfound/internal/ranking"
)

type fakeJobMetrics struct {
	mu          sync.Mutex
	totals      map[string]int
	errors      map[string]int
	durations   int
	lastSuccess map[string]float64
}

func newFakeJobMetrics() *fakeJobMetrics {
	return &fakeJobMetrics{
		totals:      map[string]int{},
		errors:      map[string]int{},
		lastSuccess: map[string]float64{},
	}
}

func (m *fakeJobMetrics) IncJobsTotal(jobType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[jobType+"/"+status]++
}

func (m *fakeJobMetrics) ObserveJobDuration(string, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *fakeJobMetrics) IncJobErrors(jobType, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[jobType+"/"+errorType]++
}

func (m *fakeJobMetrics) SetLastSuccess(jobType string, unixSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccess[jobType] = unixSeconds
}

func (m *fakeJobMetrics) total(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[key]
}

var _ JobMetrics = (*jobs.Metrics)(nil)

type jobFixture struct {
	job       *Job
	events    *InMemoryStore
	proposals *InMemoryProposalStore
	registry  *ranking.Registry
	metrics   *fakeJobMetrics
}

func newJobFixture(t *testing.T, autoPromote bool, interval time.Duration) jobFixture {
	t.Helper()
	events := NewInMemoryStore()
	proposals := NewInMemoryProposalStore()
	registry, err := ranking.NewRegistry(ranking.DefaultWeights(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	metrics := newFakeJobMetrics()
	learner := newTestLearner(events, proposals)
	promoter := NewPromoter(proposals, registry, ranking.NewInMemorySnapshotStore(), learner.Config().MaxDelta, nil)
	job := NewJob(JobConfig{
		Interval:    interval,
		AutoPromote: autoPromote,
		JobMetrics:  metrics,
	}, learner, promoter, registry)
	return jobFixture{job: job, events: events, proposals: proposals, registry: registry, metrics: metrics}
}

func TestJob_RunNowSkipsWithoutFeedback(t *testing.T) {
	f := newJobFixture(t, false, time.Hour)

	p, err := f.job.RunNow(context.Background())
	if err != nil || p != nil {
		t.Fatalf("RunNow = %v, %v; want nil, nil", p, err)
	}
	if got := f.metrics.total(jobs.JobTypeWeightLearning + "/" + jobs.StatusSkipped); got != 1 {
		t.Errorf("skipped runs = %d, want 1", got)
	}
}

func TestJob_RunNowProposesWithoutPromoting(t *testing.T) {
	f := newJobFixture(t, false, time.Hour)
	seedEvents(t, f.events, 60, geoOnly)

	p, err := f.job.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if p == nil || p.Status != ProposalPending {
		t.Fatalf("expected pending proposal, got %+v", p)
	}
	if f.registry.Active().Version != 1 {
		t.Error("registry must not change without promotion")
	}
	if got := f.metrics.total(jobs.JobTypeWeightLearning + "/" + jobs.StatusSuccess); got != 1 {
		t.Errorf("success runs = %d, want 1", got)
	}
	if _, ok := f.metrics.lastSuccess[jobs.JobTypeWeightLearning]; !ok {
		t.Error("last success not recorded")
	}
}

func TestJob_AutoPromote(t *testing.T) {
	f := newJobFixture(t, true, time.Hour)
	seedEvents(t, f.events, 60, geoOnly)

	p, err := f.job.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if p.Status != ProposalPromoted {
		t.Fatalf("status = %s, want promoted", p.Status)
	}
	if f.registry.Active().Version != 2 {
		t.Errorf("active version = %d, want 2", f.registry.Active().Version)
	}
	if got := f.metrics.total(jobs.JobTypeProposalPromotion + "/" + jobs.StatusSuccess); got != 1 {
		t.Errorf("promotions = %d, want 1", got)
	}
}

func TestJob_StartStop(t *testing.T) {
	f := newJobFixture(t, false, 5*time.Millisecond)
	ctx := context.Background()

	f.job.Start(ctx)
	f.job.Start(ctx)
	if !f.job.IsRunning() {
		t.Fatal("expected job to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.metrics.total(jobs.JobTypeWeightLearning+"/"+jobs.StatusSkipped) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.job.Stop()
	f.job.Stop()
	if f.job.IsRunning() {
		t.Error("expected job to be stopped")
	}
}

func TestJob_StopsOnContextCancel(t *testing.T) {
	f := newJobFixture(t, false, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	f.job.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		f.job.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
