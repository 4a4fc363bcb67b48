package feedback

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

var (
	// ErrInsufficientFeedback is returned when there are too few events, or
	// the training split lacks accepted or rejected examples.
	ErrInsufficientFeedback = errors.New("insufficient feedback to learn weights")

	// ErrDeltaExceeded is returned when a proposal moves a normalized weight
	// further than the configured bound.
	ErrDeltaExceeded = errors.New("proposal exceeds maximum weight delta")

	// ErrProposalWorse is returned when a proposal ranks the held-out set
	// worse than the weights it would replace.
	ErrProposalWorse = errors.New("proposal performs worse than baseline on held-out feedback")
)

// Learner defaults.
const (
	DefaultLookback     = 30 * 24 * time.Hour
	DefaultMaxEvents    = 50000
	DefaultMinSamples   = 50
	DefaultHoldoutEvery = 5
	DefaultGridStep     = 0.05
	DefaultMaxDelta     = 0.1
)

// deltaTolerance absorbs float error when comparing against MaxDelta.
const deltaTolerance = 1e-9

// LearnerConfig bounds what the learner reads and how far it may move.
type LearnerConfig struct {
	Lookback     time.Duration
	MaxEvents    int // newest events kept when the window holds more
	MinSamples   int
	HoldoutEvery int     // every Nth event by ID hash is held out
	GridStep     float64 // simplex grid resolution
	MaxDelta     float64 // max change of any normalized weight
}

// DefaultLearnerConfig returns the default bounds.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		Lookback:     DefaultLookback,
		MaxEvents:    DefaultMaxEvents,
		MinSamples:   DefaultMinSamples,
		HoldoutEvery: DefaultHoldoutEvery,
		GridStep:     DefaultGridStep,
		MaxDelta:     DefaultMaxDelta,
	}
}

func (c LearnerConfig) withDefaults() LearnerConfig {
	d := DefaultLearnerConfig()
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.HoldoutEvery < 2 {
		c.HoldoutEvery = d.HoldoutEvery
	}
	if c.GridStep <= 0 || c.GridStep > 1 {
		c.GridStep = d.GridStep
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = d.MaxDelta
	}
	return c
}

// Learner proposes weight vectors from accumulated feedback. It never
// touches the live registry; proposals are persisted as pending.
type Learner struct {
	events    Store
	proposals ProposalStore
	config    LearnerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewLearner creates a Learner.
func NewLearner(events Store, proposals ProposalStore, config LearnerConfig, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		events:    events,
		proposals: proposals,
		config:    config.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// Config returns the effective configuration.
func (l *Learner) Config() LearnerConfig {
	return l.config
}

type sample struct {
	scores   []signal.Score
	accepted bool
}

// Propose learns a vector near base from recent feedback and stores it as a
// pending proposal.
func (l *Learner) Propose(ctx context.Context, base ranking.WeightVector) (*Proposal, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	now := l.now().UTC()
	events, err := l.events.ListSince(ctx, now.Add(-l.config.Lookback), l.config.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	if len(events) < l.config.MinSamples {
		return nil, fmt.Errorf("%w: %d events, need %d", ErrInsufficientFeedback, len(events), l.config.MinSamples)
	}

	train, holdout := split(events, l.config.HoldoutEvery)
	if !hasBothClasses(train) {
		return nil, fmt.Errorf("%w: training set needs accepted and rejected events", ErrInsufficientFeedback)
	}

	normBase := base.Normalized()
	best, trainAUC, err := l.search(ctx, normBase, train)
	if err != nil {
		return nil, err
	}

	proposed := ranking.WeightVector{
		Version:   base.Version + 1,
		Weights:   best,
		UpdatedAt: now,
		Source:    ranking.SourceLearner,
	}
	p := &Proposal{
		ID:           uuid.NewString(),
		Base:         base.Clone(),
		Proposed:     proposed,
		Correlations: correlations(events),
		TrainAUC:     trainAUC,
		HoldoutAUC:   auc(holdout, proposed),
		BaselineAUC:  auc(holdout, normBase),
		TrainSize:    len(train),
		HoldoutSize:  len(holdout),
		Status:       ProposalPending,
		CreatedAt:    now,
	}
	if err := l.proposals.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save proposal: %w", err)
	}

	l.logger.InfoContext(ctx, "weight proposal created",
		"proposal_id", p.ID,
		"base_version", base.Version,
		"proposed", proposed.String(),
		"train_auc", p.TrainAUC,
		"holdout_auc", p.HoldoutAUC,
		"baseline_auc", p.BaselineAUC,
		"train_size", p.TrainSize,
		"holdout_size", p.HoldoutSize)
	return p, nil
}

// search enumerates simplex grid points within MaxDelta of base and returns
// the one with the best training AUC. The base itself always competes, and
// ties go to the point closest to base.
func (l *Learner) search(ctx context.Context, base ranking.WeightVector, train []sample) (map[signal.Name]float64, float64, error) {
	names := signal.Names()
	units := int(math.Round(1 / l.config.GridStep))
	step := 1 / float64(units)

	bestWeights := base.Clone().Weights
	bestAUC := auc(train, base)
	bestDist := 0.0

	current := make([]int, len(names))
	var evaluated int
	var walk func(i, remaining int) error
	walk = func(i, remaining int) error {
		if i == len(names)-1 {
			current[i] = remaining
			if !withinDelta(names[i], float64(remaining)*step, base, l.config.MaxDelta) {
				return nil
			}
			evaluated++
			if evaluated%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			cand := make(map[signal.Name]float64, len(names))
			for j, n := range names {
				cand[n] = float64(current[j]) * step
			}
			w := ranking.WeightVector{Weights: cand}
			score := auc(train, w)
			dist := l1Distance(cand, base)
			if score > bestAUC+deltaTolerance || (math.Abs(score-bestAUC) <= deltaTolerance && dist < bestDist) {
				bestWeights, bestAUC, bestDist = cand, score, dist
			}
			return nil
		}
		for k := 0; k <= remaining; k++ {
			if !withinDelta(names[i], float64(k)*step, base, l.config.MaxDelta) {
				continue
			}
			current[i] = k
			if err := walk(i+1, remaining-k); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, units); err != nil {
		return nil, 0, err
	}

	l.logger.Debug("weight grid search finished",
		"evaluated", evaluated,
		"best_auc", bestAUC)
	return bestWeights, bestAUC, nil
}

func withinDelta(name signal.Name, v float64, base ranking.WeightVector, maxDelta float64) bool {
	return math.Abs(v-base.Get(name)) <= maxDelta+deltaTolerance
}

func l1Distance(w map[signal.Name]float64, base ranking.WeightVector) float64 {
	var d float64
	for _, n := range signal.Names() {
		d += math.Abs(w[n] - base.Get(n))
	}
	return d
}

// split assigns each event to training or holdout by a stable hash of its
// ID, so reruns over the same data make the same split.
func split(events []Event, every int) (train, holdout []sample) {
	for _, e := range events {
		s := toSample(e)
		h := fnv.New32a()
		h.Write([]byte(e.ID))
		if h.Sum32()%uint32(every) == 0 {
			holdout = append(holdout, s)
		} else {
			train = append(train, s)
		}
	}
	return train, holdout
}

func toSample(e Event) sample {
	scores := make([]signal.Score, 0, len(e.Signals))
	for _, n := range signal.Names() {
		if v, ok := e.Signals[n]; ok {
			scores = append(scores, signal.Available(n, v, signal.Measurement{}))
		}
	}
	return sample{scores: scores, accepted: e.Accepted}
}

func hasBothClasses(samples []sample) bool {
	var pos, neg bool
	for _, s := range samples {
		if s.accepted {
			pos = true
		} else {
			neg = true
		}
	}
	return pos && neg
}

// auc is the Mann-Whitney probability that an accepted pair outscores a
// rejected one under w, with ties counting half. A set lacking either class
// scores 0.5.
func auc(samples []sample, w ranking.WeightVector) float64 {
	type scored struct {
		score    float64
		accepted bool
	}
	all := make([]scored, len(samples))
	var nPos, nNeg int
	for i, s := range samples {
		all[i] = scored{score: ranking.Fuse(s.scores, w).Score, accepted: s.accepted}
		if s.accepted {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score < all[j].score })

	// Sum of ranks of accepted samples, averaging ranks within ties.
	var rankSum float64
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].score == all[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks i+1..j
		for k := i; k < j; k++ {
			if all[k].accepted {
				rankSum += avgRank
			}
		}
		i = j
	}
	u := rankSum - float64(nPos*(nPos+1))/2
	return u / float64(nPos*nNeg)
}

// correlations returns the point-biserial correlation between each signal's
// value and acceptance, over events where the signal was available.
func correlations(events []Event) map[signal.Name]float64 {
	out := make(map[signal.Name]float64, len(signal.Names()))
	for _, n := range signal.Names() {
		var xs, ys []float64
		for _, e := range events {
			v, ok := e.Signals[n]
			if !ok {
				continue
			}
			xs = append(xs, v)
			if e.Accepted {
				ys = append(ys, 1)
			} else {
				ys = append(ys, 0)
			}
		}
		out[n] = pearson(xs, ys)
	}
	return out
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

// ValidateProposal checks p against the delta bound and its held-out result.
func ValidateProposal(p *Proposal, maxDelta float64) error {
	if d := p.Base.MaxDelta(p.Proposed); d > maxDelta+deltaTolerance {
		return fmt.Errorf("%w: %.4f > %.4f", ErrDeltaExceeded, d, maxDelta)
	}
	if p.HoldoutAUC < p.BaselineAUC {
		return fmt.Errorf("%w: holdout auc %.4f < baseline %.4f", ErrProposalWorse, p.HoldoutAUC, p.BaselineAUC)
	}
	return nil
}
