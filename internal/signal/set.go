package signal

import (
	"context"
	"time"

	"github.com/onnwee/lostfound/internal/report"
)

// Config selects and parameterises the providers in a Set.
type Config struct {
	// NLPEnabled mirrors the NLP_ON flag.
	NLPEnabled bool
	// CVEnabled mirrors the CV_ON flag.
	CVEnabled bool

	MaxRadiusKm           float64
	MaxDays               float64
	VisionEmbeddingWeight float64
}

// Set is the ordered list of providers used for every pair.
type Set struct {
	providers []Provider
}

// NewSet builds providers in Names() order. A provider whose service flag is
// off is replaced by a DisabledProvider.
func NewSet(cfg Config) *Set {
	var text, image Provider = NewDisabledProvider(Text), NewDisabledProvider(Image)
	if cfg.NLPEnabled {
		text = NewTextProvider()
	}
	if cfg.CVEnabled {
		image = NewVisionProvider(cfg.VisionEmbeddingWeight)
	}
	return &Set{providers: []Provider{
		text,
		image,
		NewGeoProvider(cfg.MaxRadiusKm),
		NewTimeProvider(cfg.MaxDays),
		NewAttributeProvider(),
	}}
}

// NewSetFrom wraps an explicit provider list.
func NewSetFrom(providers ...Provider) *Set {
	return &Set{providers: providers}
}

// Providers returns the providers in scoring order.
func (s *Set) Providers() []Provider {
	return s.providers
}

// ScoreAll runs every provider for one pair through Call, in order.
func (s *Set) ScoreAll(ctx context.Context, source, candidate *report.Report, timeout time.Duration) []Score {
	out := make([]Score, len(s.providers))
	for i, p := range s.providers {
		out[i] = Call(ctx, p, source, candidate, timeout)
	}
	return out
}

// Call runs p with its own deadline. A provider that overruns degrades to
// ReasonTimeout; cancellation of ctx degrades to ReasonCancelled. A
// non-positive timeout disables the per-call deadline.
func Call(ctx context.Context, p Provider, source, candidate *report.Report, timeout time.Duration) Score {
	if ctx.Err() != nil {
		return Unavailable(p.Name(), ReasonCancelled)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := make(chan Score, 1)
	go func() {
		result <- p.Score(callCtx, source, candidate)
	}()

	select {
	case s := <-result:
		return s
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Unavailable(p.Name(), ReasonCancelled)
		}
		return Unavailable(p.Name(), ReasonTimeout)
	}
}
