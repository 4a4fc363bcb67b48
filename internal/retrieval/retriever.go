// Package retrieval bounds the candidate set for a source report with a
// geo-temporal window before any signal is scored.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/lostfound/internal/geo"
	"github.com/onnwee/lostfound/internal/report"
	"github.com/onnwee/lostfound/internal/tracing"
)

var (
	// ErrInvalidConfig is returned by NewRetriever for unusable settings.
	ErrInvalidConfig = errors.New("invalid retrieval config")

	// ErrRetrievalFailed is returned when the store stays unreachable after
	// all retries. It wraps the last store error.
	ErrRetrievalFailed = errors.New("candidate retrieval failed")

	// ErrCandidateOverflow is returned when even the minimum radius holds
	// more candidates than the cap.
	ErrCandidateOverflow = errors.New("candidate set exceeds cap at minimum radius")
)

// Defaults for Config fields left zero.
const (
	DefaultCap             = 500
	DefaultMinRadiusKm     = 0.05
	DefaultMaxAttempts     = 4
	DefaultInitialInterval = 50 * time.Millisecond
	DefaultMaxInterval     = time.Second
)

// RetryConfig bounds the backoff around store queries.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config holds the retrieval window and cap.
type Config struct {
	MaxRadiusKm float64
	MaxDays     float64
	// Cap is the largest candidate set returned; larger sets narrow the radius.
	Cap int
	// MinRadiusKm is the resolution of radius narrowing.
	MinRadiusKm float64
	Retry       RetryConfig
}

func (c *Config) applyDefaults() {
	if c.Cap == 0 {
		c.Cap = DefaultCap
	}
	if c.MinRadiusKm == 0 {
		c.MinRadiusKm = DefaultMinRadiusKm
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = DefaultInitialInterval
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = DefaultMaxInterval
	}
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if c.MaxRadiusKm <= 0 {
		return fmt.Errorf("%w: max radius must be positive, got %v", ErrInvalidConfig, c.MaxRadiusKm)
	}
	if c.MaxDays <= 0 {
		return fmt.Errorf("%w: max days must be positive, got %v", ErrInvalidConfig, c.MaxDays)
	}
	if c.Cap <= 0 {
		return fmt.Errorf("%w: cap must be positive, got %d", ErrInvalidConfig, c.Cap)
	}
	if c.MinRadiusKm <= 0 || c.MinRadiusKm > c.MaxRadiusKm {
		return fmt.Errorf("%w: min radius must be in (0, max radius], got %v", ErrInvalidConfig, c.MinRadiusKm)
	}
	return nil
}

// Candidate is an opposite-type report inside the window.
type Candidate struct {
	Report     *report.Report
	DistanceKm float64
}

// CandidateSet is the bounded candidate list for one source. It is rebuilt
// on every call and never persisted.
type CandidateSet struct {
	Source     *report.Report
	Candidates []Candidate
	// RadiusKm is the effective radius after any narrowing.
	RadiusKm float64
	Narrowed bool
}

// Retriever queries the report store for candidates.
type Retriever struct {
	store  report.Store
	config Config
	logger *slog.Logger
}

// NewRetriever validates cfg and creates a Retriever.
func NewRetriever(store report.Store, cfg Config, logger *slog.Logger) (*Retriever, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, config: cfg, logger: logger}, nil
}

// Config returns the effective configuration.
func (r *Retriever) Config() Config {
	return r.config
}

// Retrieve returns open opposite-type reports within MaxRadiusKm and
// MaxDays of source, ordered by distance then ID. A source without a
// location yields an empty set.
func (r *Retriever) Retrieve(ctx context.Context, source *report.Report) (set CandidateSet, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "retrieval.retrieve",
		attribute.String("source_id", source.ID))
	defer func() { endSpan(err) }()

	set = CandidateSet{Source: source, Candidates: []Candidate{}, RadiusKm: r.config.MaxRadiusKm}

	if source.Location == nil {
		r.logger.InfoContext(ctx, "source has no location, skipping retrieval",
			"source_id", source.ID)
		return set, nil
	}

	window := time.Duration(r.config.MaxDays * 24 * float64(time.Hour))
	query := report.CandidateQuery{
		Type: source.Type.Opposite(),
		BBox: geo.BoundingBoxAround(*source.Location, r.config.MaxRadiusKm),
		From: source.OccurredAt.Add(-window),
		To:   source.OccurredAt.Add(window),
	}

	rows, err := r.query(ctx, query)
	if err != nil {
		return CandidateSet{}, err
	}

	for _, c := range rows {
		if c.ID == source.ID || c.Type != query.Type || !c.Matchable() || c.Location == nil {
			continue
		}
		if absDuration(c.OccurredAt.Sub(source.OccurredAt)) > window {
			continue
		}
		d := geo.HaversineKm(*source.Location, *c.Location)
		if d > r.config.MaxRadiusKm {
			continue
		}
		set.Candidates = append(set.Candidates, Candidate{Report: c, DistanceKm: d})
	}

	sort.Slice(set.Candidates, func(i, j int) bool {
		a, b := set.Candidates[i], set.Candidates[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Report.ID < b.Report.ID
	})

	if len(set.Candidates) > r.config.Cap {
		if err := r.narrow(&set); err != nil {
			r.logger.WarnContext(ctx, "candidate overflow",
				"source_id", source.ID,
				"cell", geo.LogCell(source.Location),
				"fetched", len(set.Candidates),
				"cap", r.config.Cap)
			return CandidateSet{}, err
		}
	}

	tracing.SetAttributes(ctx,
		attribute.Int("candidates", len(set.Candidates)),
		attribute.Float64("radius_km", set.RadiusKm),
		attribute.Bool("narrowed", set.Narrowed))
	r.logger.DebugContext(ctx, "retrieved candidates",
		"source_id", source.ID,
		"cell", geo.LogCell(source.Location),
		"fetched", len(rows),
		"candidates", len(set.Candidates),
		"radius_km", set.RadiusKm,
		"narrowed", set.Narrowed)

	return set, nil
}

// query runs the store query with bounded exponential backoff. Invalid
// queries are not retried; an empty result is a valid answer.
func (r *Retriever) query(ctx context.Context, q report.CandidateQuery) ([]*report.Report, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.Retry.InitialInterval
	b.MaxInterval = r.config.Retry.MaxInterval

	attempt := 0
	operation := func() ([]*report.Report, error) {
		attempt++
		rows, err := r.store.QueryCandidates(ctx, q)
		if err == nil {
			return rows, nil
		}
		if errors.Is(err, report.ErrInvalidQuery) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	rows, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.config.Retry.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.WarnContext(ctx, "candidate query failed, retrying",
				"attempt", attempt,
				"retry_in", next,
				"error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, report.ErrInvalidQuery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetrievalFailed, attempt, err)
	}
	return rows, nil
}

// narrow binary-searches the largest radius, to MinRadiusKm resolution,
// whose candidate count fits the cap, and keeps exactly the candidates inside
// it. Candidates must be sorted by distance.
func (r *Retriever) narrow(set *CandidateSet) error {
	count := func(radius float64) int {
		return sort.Search(len(set.Candidates), func(i int) bool {
			return set.Candidates[i].DistanceKm > radius
		})
	}

	lo, hi := r.config.MinRadiusKm, r.config.MaxRadiusKm
	if count(lo) > r.config.Cap {
		return fmt.Errorf("%w: %d candidates within %.3f km, cap %d",
			ErrCandidateOverflow, count(lo), lo, r.config.Cap)
	}
	for hi-lo > r.config.MinRadiusKm {
		mid := lo + (hi-lo)/2
		if count(mid) <= r.config.Cap {
			lo = mid
		} else {
			hi = mid
		}
	}

	set.Candidates = set.Candidates[:count(lo)]
	set.RadiusKm = lo
	set.Narrowed = true
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
