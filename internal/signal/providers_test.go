package signal

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/onnwee/lostfound/internal/geo"
	"github.com/onnwee/lostfound/internal/report"
)

const eps = 1e-6

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

// scenarioPair is a lost item in Colombo and a found candidate about 2 km
// north, a day later, with near-identical text and images.
func scenarioPair() (*report.Report, *report.Report) {
	occurred := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	src := &report.Report{
		ID:            "lost-1",
		Type:          report.TypeLost,
		Status:        report.StatusOpen,
		Category:      "electronics",
		Location:      &geo.Point{Lat: 6.9271, Lng: 79.8612},
		OccurredAt:    occurred,
		TextEmbedding: []float64{1, 0},
		Image:         &report.ImageFeatures{Hash: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
	}
	cand := &report.Report{
		ID:            "found-1",
		Type:          report.TypeFound,
		Status:        report.StatusOpen,
		Category:      "Electronics",
		Location:      &geo.Point{Lat: 6.9271 + 2/111.1951, Lng: 79.8612},
		OccurredAt:    occurred.Add(24 * time.Hour),
		TextEmbedding: []float64{0.9, math.Sqrt(1 - 0.81)},
		Image:         &report.ImageFeatures{Hash: []byte{0x0f, 0, 0, 0, 0, 0, 0, 0}},
	}
	return src, cand
}

func TestProviders_Scenario(t *testing.T) {
	src, cand := scenarioPair()
	ctx := context.Background()

	tests := []struct {
		name     string
		provider Provider
		want     float64
		tol      float64
		rawUnit  string
	}{
		{"geo 2km of 5km", NewGeoProvider(5), 0.6, 0.01, "km"},
		{"time 24h of 30d", NewTimeProvider(30), 1 - 24.0/720, eps, "hours"},
		{"text cosine 0.9", NewTextProvider(), 0.95, eps, "cosine"},
		{"vision 4 of 64 bits", NewVisionProvider(0.5), 1 - 4.0/64, eps, "hamming_bits"},
		{"attributes same category", NewAttributeProvider(), 1.0, eps, "matched_attributes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.provider.Score(ctx, src, cand)
			if !s.Available {
				t.Fatalf("expected available score, got reason %q", s.Reason)
			}
			if s.Name != tt.provider.Name() {
				t.Errorf("score name = %q, want %q", s.Name, tt.provider.Name())
			}
			if !approx(s.Value, tt.want, tt.tol) {
				t.Errorf("value = %.4f, want %.4f", s.Value, tt.want)
			}
			if s.Raw.Unit != tt.rawUnit {
				t.Errorf("raw unit = %q, want %q", s.Raw.Unit, tt.rawUnit)
			}
		})
	}
}

func TestProviders_MissingData(t *testing.T) {
	ctx := context.Background()
	bare := &report.Report{ID: "bare"}
	src, _ := scenarioPair()

	for _, p := range []Provider{
		NewTextProvider(),
		NewVisionProvider(0.5),
		NewGeoProvider(5),
		NewTimeProvider(30),
		NewAttributeProvider(),
	} {
		t.Run(string(p.Name()), func(t *testing.T) {
			s := p.Score(ctx, bare, bare)
			if s.Available {
				t.Fatalf("expected unavailable, got %.3f", s.Value)
			}
			if s.Reason != ReasonMissingData {
				t.Errorf("reason = %q, want %q", s.Reason, ReasonMissingData)
			}
		})
	}

	// One-sided data is still missing for pairwise signals.
	if s := NewGeoProvider(5).Score(ctx, src, bare); s.Available {
		t.Error("geo with one missing location should be unavailable")
	}
	if s := NewTextProvider().Score(ctx, src, bare); s.Available {
		t.Error("text with one missing embedding should be unavailable")
	}
}

func TestTextProvider_MismatchedEmbeddings(t *testing.T) {
	a := &report.Report{TextEmbedding: []float64{1, 0, 0}}
	b := &report.Report{TextEmbedding: []float64{1, 0}}
	zero := &report.Report{TextEmbedding: []float64{0, 0}}
	p := NewTextProvider()

	if s := p.Score(context.Background(), a, b); s.Available {
		t.Error("different dimensions should be unavailable")
	}
	if s := p.Score(context.Background(), b, zero); s.Available {
		t.Error("zero-norm embedding should be unavailable")
	}
}

func TestVisionProvider_Modes(t *testing.T) {
	ctx := context.Background()
	hash := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	flipped := []byte{0xff, 0xff, 0, 0, 0, 0, 0, 0} // 16 of 64 bits

	tests := []struct {
		name string
		a, b *report.ImageFeatures
		w    float64
		want float64
	}{
		{
			name: "hash only",
			a:    &report.ImageFeatures{Hash: hash},
			b:    &report.ImageFeatures{Hash: flipped},
			w:    0.5,
			want: 0.75,
		},
		{
			name: "embedding only",
			a:    &report.ImageFeatures{Embedding: []float64{1, 0}},
			b:    &report.ImageFeatures{Embedding: []float64{0, 1}},
			w:    0.5,
			want: 0.5,
		},
		{
			name: "blend",
			a:    &report.ImageFeatures{Hash: hash, Embedding: []float64{1, 0}},
			b:    &report.ImageFeatures{Hash: flipped, Embedding: []float64{1, 0}},
			w:    0.4,
			want: 0.6*0.75 + 0.4*1.0,
		},
		{
			name: "hash lengths differ falls back to embedding",
			a:    &report.ImageFeatures{Hash: hash, Embedding: []float64{1, 0}},
			b:    &report.ImageFeatures{Hash: []byte{0}, Embedding: []float64{1, 0}},
			w:    0.5,
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewVisionProvider(tt.w).Score(ctx, &report.Report{Image: tt.a}, &report.Report{Image: tt.b})
			if !s.Available {
				t.Fatalf("expected available, got %q", s.Reason)
			}
			if !approx(s.Value, tt.want, eps) {
				t.Errorf("value = %.4f, want %.4f", s.Value, tt.want)
			}
		})
	}

	incompatible := NewVisionProvider(0.5).Score(ctx,
		&report.Report{Image: &report.ImageFeatures{Hash: hash}},
		&report.Report{Image: &report.ImageFeatures{Embedding: []float64{1}}},
	)
	if incompatible.Available {
		t.Error("hash on one side and embedding on the other should be unavailable")
	}
}

func TestGeoAndTime_DecayToZero(t *testing.T) {
	ctx := context.Background()
	a := &report.Report{Location: &geo.Point{Lat: 6.9271, Lng: 79.8612}, OccurredAt: time.Unix(0, 0)}
	b := &report.Report{Location: &geo.Point{Lat: 7.3, Lng: 79.8612}, OccurredAt: time.Unix(0, 0).AddDate(0, 0, 45)}

	if s := NewGeoProvider(5).Score(ctx, a, b); !s.Available || s.Value != 0 {
		t.Errorf("geo beyond radius = %+v, want available 0", s)
	}
	if s := NewTimeProvider(30).Score(ctx, a, b); !s.Available || s.Value != 0 {
		t.Errorf("time beyond window = %+v, want available 0", s)
	}
	// Order of the pair does not matter.
	if s := NewTimeProvider(30).Score(ctx, b, a); s.Value != 0 {
		t.Errorf("time should use the absolute difference, got %v", s.Value)
	}
}

func TestAttributeProvider(t *testing.T) {
	ctx := context.Background()
	p := NewAttributeProvider()

	tests := []struct {
		name      string
		a, b      *report.Report
		available bool
		want      float64
	}{
		{
			name:      "partial match",
			a:         &report.Report{Category: "bags", Attributes: report.Attributes{Color: "Black", Brand: "Nike"}},
			b:         &report.Report{Category: "bags", Attributes: report.Attributes{Color: "red", Brand: "nike"}},
			available: true,
			want:      2.0 / 3,
		},
		{
			name:      "attributes on one side only",
			a:         &report.Report{Category: "bags"},
			b:         &report.Report{},
			available: true,
			want:      0,
		},
		{
			name:      "disjoint attribute keys",
			a:         &report.Report{Attributes: report.Attributes{Color: "red"}},
			b:         &report.Report{Attributes: report.Attributes{Brand: "acme"}},
			available: true,
			want:      0,
		},
		{
			name:      "none on either side",
			a:         &report.Report{},
			b:         &report.Report{},
			available: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := p.Score(ctx, tt.a, tt.b)
			if s.Available != tt.available {
				t.Fatalf("available = %v, want %v", s.Available, tt.available)
			}
			if tt.available && !approx(s.Value, tt.want, eps) {
				t.Errorf("value = %.4f, want %.4f", s.Value, tt.want)
			}
		})
	}
}

func TestAvailable_Clamps(t *testing.T) {
	if s := Available(Geo, 1.2, Measurement{}); s.Value != 1 {
		t.Errorf("want 1, got %v", s.Value)
	}
	if s := Available(Geo, math.NaN(), Measurement{}); s.Value != 0 {
		t.Errorf("want 0 for NaN, got %v", s.Value)
	}
}
