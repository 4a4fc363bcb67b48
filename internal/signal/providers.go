package signal

import (
	"context"
	"fmt"
	"math"

	"github.com/onnwee/lostfound/internal/geo"
	"github.com/onnwee/lostfound/internal/report"
)

// Provider scores one signal for a (source, candidate) pair.
// Score must not block beyond ctx and must not mutate its arguments.
type Provider interface {
	Name() Name
	Score(ctx context.Context, source, candidate *report.Report) Score
}

// TextProvider compares NLP text embeddings.
type TextProvider struct{}

// NewTextProvider creates a TextProvider.
func NewTextProvider() *TextProvider { return &TextProvider{} }

func (p *TextProvider) Name() Name { return Text }

func (p *TextProvider) Score(_ context.Context, source, candidate *report.Report) Score {
	c, ok := cosine(source.TextEmbedding, candidate.TextEmbedding)
	if !ok {
		return Unavailable(Text, ReasonMissingData)
	}
	return Available(Text, cosineToUnit(c), Measurement{Value: c, Unit: "cosine"})
}

// VisionProvider compares perceptual hashes and, when both sides carry one,
// deep image embeddings.
type VisionProvider struct {
	// embeddingWeight is the share given to the embedding score when a hash
	// score is also available.
	embeddingWeight float64
}

// NewVisionProvider creates a VisionProvider. embeddingWeight is clamped to [0,1].
func NewVisionProvider(embeddingWeight float64) *VisionProvider {
	return &VisionProvider{embeddingWeight: clamp01(embeddingWeight)}
}

func (p *VisionProvider) Name() Name { return Image }

func (p *VisionProvider) Score(_ context.Context, source, candidate *report.Report) Score {
	if source.Image.Empty() || candidate.Image.Empty() {
		return Unavailable(Image, ReasonMissingData)
	}

	dist, bitLen, hashOK := hamming(source.Image.Hash, candidate.Image.Hash)
	cos, embOK := cosine(source.Image.Embedding, candidate.Image.Embedding)

	switch {
	case hashOK && embOK:
		hashScore := 1 - float64(dist)/float64(bitLen)
		w := p.embeddingWeight
		return Available(Image, (1-w)*hashScore+w*cosineToUnit(cos), Measurement{
			Value:  float64(dist),
			Unit:   "hamming_bits",
			Detail: fmt.Sprintf("%d/%d bits, embedding cosine %.2f", dist, bitLen, cos),
		})
	case hashOK:
		return Available(Image, 1-float64(dist)/float64(bitLen), Measurement{
			Value:  float64(dist),
			Unit:   "hamming_bits",
			Detail: fmt.Sprintf("%d/%d bits", dist, bitLen),
		})
	case embOK:
		return Available(Image, cosineToUnit(cos), Measurement{Value: cos, Unit: "cosine"})
	default:
		return Unavailable(Image, ReasonMissingData)
	}
}

// GeoProvider scores proximity with a linear decay out to maxRadiusKm.
type GeoProvider struct {
	maxRadiusKm float64
}

// NewGeoProvider creates a GeoProvider. maxRadiusKm must be positive.
func NewGeoProvider(maxRadiusKm float64) *GeoProvider {
	return &GeoProvider{maxRadiusKm: maxRadiusKm}
}

func (p *GeoProvider) Name() Name { return Geo }

func (p *GeoProvider) Score(_ context.Context, source, candidate *report.Report) Score {
	if source.Location == nil || candidate.Location == nil {
		return Unavailable(Geo, ReasonMissingData)
	}
	d := geo.HaversineKm(*source.Location, *candidate.Location)
	return Available(Geo, math.Max(0, 1-d/p.maxRadiusKm), Measurement{Value: d, Unit: "km"})
}

// TimeProvider scores the gap between occurrence times with a linear decay
// out to maxDays.
type TimeProvider struct {
	maxHours float64
}

// NewTimeProvider creates a TimeProvider. maxDays must be positive.
func NewTimeProvider(maxDays float64) *TimeProvider {
	return &TimeProvider{maxHours: maxDays * 24}
}

func (p *TimeProvider) Name() Name { return Time }

func (p *TimeProvider) Score(_ context.Context, source, candidate *report.Report) Score {
	if source.OccurredAt.IsZero() || candidate.OccurredAt.IsZero() {
		return Unavailable(Time, ReasonMissingData)
	}
	hours := math.Abs(candidate.OccurredAt.Sub(source.OccurredAt).Hours())
	return Available(Time, math.Max(0, 1-hours/p.maxHours), Measurement{Value: hours, Unit: "hours"})
}

// AttributeProvider scores overlap of category, color, brand and model.
type AttributeProvider struct{}

// NewAttributeProvider creates an AttributeProvider.
func NewAttributeProvider() *AttributeProvider { return &AttributeProvider{} }

func (p *AttributeProvider) Name() Name { return Attributes }

// Score compares only attributes set on both sides. When attributes exist
// but none is shared the score is 0 rather than unavailable.
func (p *AttributeProvider) Score(_ context.Context, source, candidate *report.Report) Score {
	a, b := source.CategoricalValues(), candidate.CategoricalValues()
	if len(a) == 0 && len(b) == 0 {
		return Unavailable(Attributes, ReasonMissingData)
	}

	var compared, matched int
	for key, v := range a {
		other, ok := b[key]
		if !ok {
			continue
		}
		compared++
		if v == other {
			matched++
		}
	}
	if compared == 0 {
		return Available(Attributes, 0, Measurement{Unit: "matched_attributes", Detail: "no shared attributes"})
	}
	return Available(Attributes, float64(matched)/float64(compared), Measurement{
		Value:  float64(matched),
		Unit:   "matched_attributes",
		Detail: fmt.Sprintf("%d/%d", matched, compared),
	})
}

// DisabledProvider stands in for a provider whose backing service is
// switched off by a feature flag.
type DisabledProvider struct {
	name Name
}

// NewDisabledProvider creates a provider that always reports ReasonDisabled.
func NewDisabledProvider(name Name) *DisabledProvider {
	return &DisabledProvider{name: name}
}

func (p *DisabledProvider) Name() Name { return p.name }

func (p *DisabledProvider) Score(context.Context, *report.Report, *report.Report) Score {
	return Unavailable(p.name, ReasonDisabled)
}
