package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/lostfound/internal/experiment"
	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/geo"
	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/report"
	"github.com/onnwee/lostfound/internal/retrieval"
	"github.com/onnwee/lostfound/internal/signal"
	"github.com/onnwee/lostfound/internal/tracing"
)

// Defaults for Config fields left zero.
const (
	DefaultProviderTimeout = 250 * time.Millisecond
	DefaultWorkers         = 8
)

// Config tunes the scoring fan-out.
type Config struct {
	ProviderTimeout time.Duration
	Workers         int
}

// Dependencies are the collaborators of a Service. Experiments and Metrics
// are optional.
type Dependencies struct {
	Reports     report.Store
	Retriever   *retrieval.Retriever
	Signals     *signal.Set
	Registry    *ranking.Registry
	Experiments *experiment.Engine
	Feedback    feedback.Store
	Ledger      Ledger
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Service is the ranking entry point: retrieval, scoring, fusion, ordering
// and explanation.
type Service struct {
	deps   Dependencies
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Reports == nil || deps.Retriever == nil || deps.Signals == nil || deps.Registry == nil {
		return nil, errors.New("matching: reports, retriever, signals and registry are required")
	}
	if deps.Feedback == nil {
		return nil, errors.New("matching: feedback store is required")
	}
	if deps.Ledger == nil {
		deps.Ledger = NewInMemoryLedger(DefaultLedgerTTL)
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, config: cfg, logger: logger, now: time.Now}, nil
}

// activeWeights is the vector chosen for one request.
type activeWeights struct {
	weights      ranking.WeightVector
	experimentID string
	variant      string
}

// resolveWeights returns the variant vector when experimentID names a
// running experiment, otherwise the global vector. Without a user the
// control vector is used.
func (s *Service) resolveWeights(ctx context.Context, experimentID, userID string) (activeWeights, error) {
	if experimentID != "" && s.deps.Experiments != nil {
		res, ok, err := s.deps.Experiments.Resolve(ctx, experimentID, userID)
		if err != nil {
			return activeWeights{}, fmt.Errorf("failed to resolve experiment: %w", err)
		}
		if ok {
			return activeWeights{weights: res.Weights, experimentID: res.ExperimentID, variant: string(res.Variant)}, nil
		}
	}
	return activeWeights{weights: s.deps.Registry.Active()}, nil
}

// GetActiveWeights returns the vector a request with these parameters would
// rank with.
func (s *Service) GetActiveWeights(ctx context.Context, experimentID, userID string) (ranking.WeightVector, error) {
	aw, err := s.resolveWeights(ctx, experimentID, userID)
	if err != nil {
		return ranking.WeightVector{}, err
	}
	return aw.weights, nil
}

// RankForItem ranks the open opposite-type reports near sourceID. The
// result is deterministic for a fixed source, candidate set and weight
// vector. An empty candidate set yields an empty slice. A cancelled call
// returns an error and no results.
func (s *Service) RankForItem(ctx context.Context, sourceID string, opts RankOptions) (results []MatchResult, err error) {
	start := s.now()
	ctx, endSpan := tracing.StartSpan(ctx, "matching.rank_for_item",
		attribute.String("source_id", sourceID),
		attribute.String("experiment_id", opts.ExperimentID))
	status := statusOK
	defer func() {
		if err != nil {
			status = statusFor(err)
		}
		s.deps.Metrics.observeRequest(status, time.Since(start).Seconds())
		endSpan(err)
	}()

	source, err := s.deps.Reports.GetReport(ctx, sourceID)
	if errors.Is(err, report.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source report: %w", err)
	}

	userID := opts.UserID
	if userID == "" {
		userID = source.OwnerID
	}
	aw, err := s.resolveWeights(ctx, opts.ExperimentID, userID)
	if err != nil {
		return nil, err
	}

	set, err := s.deps.Retriever.Retrieve(ctx, source)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.observeCandidates(len(set.Candidates))
	if len(set.Candidates) == 0 {
		status = statusEmpty
		s.logger.DebugContext(ctx, "no candidates",
			"report_id", sourceID,
			"cell", geo.LogCell(source.Location))
		return []MatchResult{}, nil
	}

	results, err = s.score(ctx, source, set, aw)
	if err != nil {
		return nil, err
	}
	sortResults(results)

	for i := range results {
		results[i].UserID = userID
	}
	if err := s.deps.Ledger.Put(ctx, results); err != nil {
		s.deps.Metrics.incLedgerFailure()
		s.logger.WarnContext(ctx, "failed to record issued matches",
			"report_id", sourceID,
			"error", err)
	}

	s.logger.InfoContext(ctx, "ranked candidates",
		"report_id", sourceID,
		"candidates", len(results),
		"radius_km", set.RadiusKm,
		"narrowed", set.Narrowed,
		"weights_version", aw.weights.Version,
		"experiment_id", aw.experimentID,
		"variant", aw.variant,
		"cell", geo.LogCell(source.Location))
	return results, nil
}

// score fans out over candidates. Each goroutine writes only its own slot.
func (s *Service) score(ctx context.Context, source *report.Report, set retrieval.CandidateSet, aw activeWeights) ([]MatchResult, error) {
	ctx, endSpan := tracing.StartSpan(ctx, "matching.score",
		attribute.Int("candidates", len(set.Candidates)))
	var err error
	defer func() { endSpan(err) }()

	rankedAt := s.now().UTC()
	results := make([]MatchResult, len(set.Candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, c := range set.Candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores := s.deps.Signals.ScoreAll(gctx, source, c.Report, s.config.ProviderTimeout)
			fusion := ranking.Fuse(scores, aw.weights)

			var distance *float64
			if source.Location != nil && c.Report.Location != nil {
				d := c.DistanceKm
				distance = &d
			}
			results[i] = MatchResult{
				MatchID:            matchID(source.ID, c.Report.ID, aw.weights.Version, aw.experimentID, aw.variant),
				SourceID:           source.ID,
				CandidateID:        c.Report.ID,
				Score:              fusion.Score,
				LowConfidence:      fusion.LowConfidence,
				Signals:            scores,
				Contributions:      fusion.Contributions,
				Explanation:        explain(fusion, scores),
				DistanceKm:         distance,
				CandidateCreatedAt: c.Report.CreatedAt,
				RankedAt:           rankedAt,
				WeightsVersion:     aw.weights.Version,
				ExperimentID:       aw.experimentID,
				Variant:            aw.variant,
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("ranking aborted: %w", err)
	}

	for _, r := range results {
		for _, sc := range r.Signals {
			if !sc.Available {
				s.deps.Metrics.incUnavailable(string(sc.Name), string(sc.Reason))
			}
		}
	}
	return results, nil
}

// sortResults orders by score descending, then distance ascending with
// unknown distances last, then newer candidates first, then candidate ID.
func sortResults(results []MatchResult) {
	dist := func(r MatchResult) float64 {
		if r.DistanceKm == nil {
			return math.Inf(1)
		}
		return *r.DistanceKm
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if da, db := dist(a), dist(b); da != db {
			return da < db
		}
		if !a.CandidateCreatedAt.Equal(b.CandidateCreatedAt) {
			return a.CandidateCreatedAt.After(b.CandidateCreatedAt)
		}
		return a.CandidateID < b.CandidateID
	})
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, ErrSourceNotFound):
		return statusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return statusCancelled
	default:
		return statusError
	}
}

// RecordFeedback stores a user's verdict on an issued match together with
// the signal values it was ranked on. A second verdict from the same user
// returns feedback.ErrDuplicateEvent.
func (s *Service) RecordFeedback(ctx context.Context, matchID string, accepted bool, userID string) (*feedback.Event, error) {
	if matchID == "" || userID == "" {
		return nil, fmt.Errorf("%w: match id and user id are required", ErrInvalidFeedback)
	}
	match, err := s.deps.Ledger.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}

	ev := feedback.Event{
		ID:          uuid.NewString(),
		MatchID:     match.MatchID,
		SourceID:    match.SourceID,
		CandidateID: match.CandidateID,
		UserID:      userID,
		Accepted:    accepted,
		Signals:     match.AvailableSignals(),
		CreatedAt:   s.now().UTC(),
	}

	// Match ids are shared by every user in a variant, so the engine decides
	// whether this user was exposed by re-deriving their assignment.
	tagged := match.ExperimentID != "" && s.deps.Experiments != nil
	if tagged {
		ev.ExperimentID = match.ExperimentID
		ev.Variant = match.Variant
		err = s.deps.Experiments.TrackInteraction(ctx, ev)
		if errors.Is(err, experiment.ErrNotRunning) || errors.Is(err, experiment.ErrNotFound) ||
			errors.Is(err, experiment.ErrVariantMismatch) {
			// Concluded since ranking, or the user sits in the other arm; keep
			// the verdict for learning.
			ev.ExperimentID, ev.Variant = "", ""
			tagged = false
			err = s.deps.Feedback.Append(ctx, ev)
		}
	} else {
		err = s.deps.Feedback.Append(ctx, ev)
	}
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.incFeedback(accepted, tagged)
	s.logger.InfoContext(ctx, "feedback recorded",
		"match_id", matchID,
		"accepted", accepted,
		"experiment_id", ev.ExperimentID,
		"variant", ev.Variant)
	return &ev, nil
}
