package feedback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/lostfound/internal/jobs"
	"github.com/onnwee/lostfound/internal/ranking"
)

// JobMetrics receives background job results. *jobs.Metrics implements it.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
	SetLastSuccess(jobType string, unixSeconds float64)
}

// JobConfig configures the periodic learning job.
type JobConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// AutoPromote promotes proposals that pass validation without review.
	AutoPromote bool
	Logger      *slog.Logger
	JobMetrics  JobMetrics
}

const (
	// DefaultJobInterval is the default time between learning runs.
	DefaultJobInterval = 24 * time.Hour
	// DefaultJobTimeout bounds a single learning run.
	DefaultJobTimeout = 5 * time.Minute
)

// Job runs the learner on a ticker against the active global weights.
type Job struct {
	config   JobConfig
	learner  *Learner
	promoter *Promoter
	registry *ranking.Registry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJob creates a learning job. promoter may be nil when AutoPromote is off.
func NewJob(config JobConfig, learner *Learner, promoter *Promoter, registry *ranking.Registry) *Job {
	if config.Interval <= 0 {
		config.Interval = DefaultJobInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultJobTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Job{config: config, learner: learner, promoter: promoter, registry: registry}
}

// Start launches the job loop and returns immediately.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning reports whether the loop is active.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("weight learning job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("weight learning job stopping due to stop signal")
			return
		case <-ticker.C:
			_, _ = j.RunNow(ctx)
		}
	}
}

// RunNow performs one learning run. It returns the proposal, or nil when
// there was not enough feedback. With AutoPromote the proposal is promoted
// if it passes validation; a rejection is not a job failure.
func (j *Job) RunNow(parent context.Context) (*Proposal, error) {
	ctx, cancel := context.WithTimeout(parent, j.config.Timeout)
	defer cancel()

	start := time.Now()
	base := j.registry.Active()
	prop, err := j.learner.Propose(ctx, base)
	duration := time.Since(start).Seconds()

	switch {
	case errors.Is(err, ErrInsufficientFeedback):
		j.config.Logger.Info("weight learning skipped", "reason", err.Error())
		j.record(jobs.JobTypeWeightLearning, jobs.StatusSkipped, duration, "")
		return nil, nil
	case err != nil:
		errType := "learner"
		if errors.Is(err, context.DeadlineExceeded) {
			errType = "timeout"
		}
		j.config.Logger.Error("weight learning failed", "error", err, "duration_seconds", duration)
		j.record(jobs.JobTypeWeightLearning, jobs.StatusFailure, duration, errType)
		return nil, err
	}
	j.record(jobs.JobTypeWeightLearning, jobs.StatusSuccess, duration, "")

	if j.config.AutoPromote && j.promoter != nil {
		j.autoPromote(ctx, prop)
	}

	j.config.Logger.Info("weight learning completed",
		"duration_seconds", duration,
		"proposal_id", prop.ID,
		"auto_promote", j.config.AutoPromote)
	return prop, nil
}

func (j *Job) autoPromote(ctx context.Context, prop *Proposal) {
	start := time.Now()
	v, err := j.promoter.Promote(ctx, prop.ID)
	duration := time.Since(start).Seconds()
	switch {
	case errors.Is(err, ErrDeltaExceeded), errors.Is(err, ErrProposalWorse):
		prop.Status = ProposalRejected
		j.record(jobs.JobTypeProposalPromotion, jobs.StatusSkipped, duration, "")
	case err != nil:
		j.config.Logger.Error("automatic promotion failed", "proposal_id", prop.ID, "error", err)
		j.record(jobs.JobTypeProposalPromotion, jobs.StatusFailure, duration, "promote")
	default:
		prop.Status = ProposalPromoted
		j.config.Logger.Info("proposal promoted automatically",
			"proposal_id", prop.ID,
			"version", v.Version)
		j.record(jobs.JobTypeProposalPromotion, jobs.StatusSuccess, duration, "")
	}
}

func (j *Job) record(jobType, status string, seconds float64, errType string) {
	m := j.config.JobMetrics
	if m == nil {
		return
	}
	m.IncJobsTotal(jobType, status)
	m.ObserveJobDuration(jobType, seconds)
	if errType != "" {
		m.IncJobErrors(jobType, errType)
	}
	if status == jobs.StatusSuccess {
		m.SetLastSuccess(jobType, float64(time.Now().Unix()))
	}
}
