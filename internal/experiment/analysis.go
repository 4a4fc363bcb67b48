package experiment

import (
	"context"
	"math"
	"time"
)

// wilsonZ is the normal quantile for a 95% interval.
const wilsonZ = 1.96

// VariantStats summarises outcomes for one arm.
type VariantStats struct {
	Variant        Variant `json:"variant"`
	SampleSize     int     `json:"sample_size"`
	Accepted       int     `json:"accepted"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	CILow          float64 `json:"ci_low"`
	CIHigh         float64 `json:"ci_high"`
}

// Analysis compares acceptance between control and treatment.
type Analysis struct {
	ExperimentID string       `json:"experiment_id"`
	Status       Status       `json:"status"`
	Control      VariantStats `json:"control"`
	Treatment    VariantStats `json:"treatment"`
	// ZScore is the two-proportion z statistic of treatment over control;
	// 0 when either arm is empty.
	ZScore     float64   `json:"z_score"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Analyze computes per-variant acceptance rates with Wilson intervals.
func (e *Engine) Analyze(ctx context.Context, id string) (*Analysis, error) {
	exp, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := e.feedback.ListByExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	var n, x [2]int
	for _, ev := range events {
		i := 0
		switch Variant(ev.Variant) {
		case VariantControl:
		case VariantTreatment:
			i = 1
		default:
			continue
		}
		n[i]++
		if ev.Accepted {
			x[i]++
		}
	}

	return &Analysis{
		ExperimentID: exp.ID,
		Status:       exp.Status,
		Control:      variantStats(VariantControl, x[0], n[0]),
		Treatment:    variantStats(VariantTreatment, x[1], n[1]),
		ZScore:       twoProportionZ(x[0], n[0], x[1], n[1]),
		AnalyzedAt:   e.now().UTC(),
	}, nil
}

func variantStats(v Variant, accepted, n int) VariantStats {
	s := VariantStats{Variant: v, SampleSize: n, Accepted: accepted, CILow: 0, CIHigh: 1}
	if n == 0 {
		return s
	}
	s.AcceptanceRate = float64(accepted) / float64(n)
	s.CILow, s.CIHigh = wilsonInterval(accepted, n, wilsonZ)
	return s
}

// wilsonInterval returns the Wilson score interval for x successes in n trials.
func wilsonInterval(x, n int, z float64) (low, high float64) {
	nf := float64(n)
	p := float64(x) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
	return math.Max(0, center-half), math.Min(1, center+half)
}

func twoProportionZ(x1, n1, x2, n2 int) float64 {
	if n1 == 0 || n2 == 0 {
		return 0
	}
	p1 := float64(x1) / float64(n1)
	p2 := float64(x2) / float64(n2)
	pooled := float64(x1+x2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 0
	}
	return (p2 - p1) / se
}
