package geo

import (
	"errors"
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Point
		want    float64
		epsilon float64
	}{
		{name: "same point", a: Point{6.9271, 79.8612}, b: Point{6.9271, 79.8612}, want: 0, epsilon: 1e-9},
		{name: "one degree of latitude", a: Point{0, 0}, b: Point{1, 0}, want: 111.195, epsilon: 0.01},
		{name: "London to Paris", a: Point{51.5074, -0.1278}, b: Point{48.8566, 2.3522}, want: 343.5, epsilon: 1.0},
		{name: "across antimeridian", a: Point{0, 179.9}, b: Point{0, -179.9}, want: 22.24, epsilon: 0.05},
		{name: "antipodal", a: Point{0, 0}, b: Point{0, 180}, want: math.Pi * EarthRadiusKm, epsilon: 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.epsilon {
				t.Errorf("HaversineKm = %f, want %f ± %f", got, tt.want, tt.epsilon)
			}
			if back := HaversineKm(tt.b, tt.a); math.Abs(back-got) > 1e-9 {
				t.Errorf("distance not symmetric: %f vs %f", got, back)
			}
		})
	}
}

func TestBoundingBoxAround_ContainsCircle(t *testing.T) {
	centers := []Point{
		{Lat: 6.9271, Lng: 79.8612},
		{Lat: 60.0, Lng: 10.0},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 0, Lng: 179.99},
	}
	const radius = 25.0

	for _, c := range centers {
		box := BoundingBoxAround(c, radius)
		// Probe points on the circle at 16 bearings.
		for i := 0; i < 16; i++ {
			bearing := float64(i) * math.Pi / 8
			p := destination(c, radius*0.999, bearing)
			if !box.Contains(p) {
				t.Errorf("box around %+v does not contain %+v at bearing %d", c, p, i)
			}
		}
	}
}

func TestBoundingBoxAround_Antimeridian(t *testing.T) {
	box := BoundingBoxAround(Point{Lat: 0, Lng: 179.99}, 10)
	if !box.CrossesAntimeridian() {
		t.Fatalf("expected box to cross the antimeridian, got %+v", box)
	}
	if !box.Contains(Point{Lat: 0, Lng: -179.99}) {
		t.Error("expected wrapped point to be inside box")
	}
	if box.Contains(Point{Lat: 0, Lng: 0}) {
		t.Error("did not expect prime meridian inside box")
	}
}

func TestBoundingBoxAround_Pole(t *testing.T) {
	box := BoundingBoxAround(Point{Lat: 89.99, Lng: 0}, 50)
	if box.MinLng != -180 || box.MaxLng != 180 || box.MaxLat != 90 {
		t.Errorf("expected full longitude span at pole, got %+v", box)
	}
}

func TestPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Point
		wantErr bool
	}{
		{name: "valid", p: Point{Lat: 6.9, Lng: 79.8}},
		{name: "latitude too high", p: Point{Lat: 91, Lng: 0}, wantErr: true},
		{name: "longitude too low", p: Point{Lat: 0, Lng: -181}, wantErr: true},
		{name: "NaN", p: Point{Lat: math.NaN(), Lng: 0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPoint) {
				t.Errorf("expected ErrInvalidPoint, got %v", err)
			}
		})
	}
}

// destination returns the point distanceKm from start along bearing (radians).
func destination(start Point, distanceKm, bearing float64) Point {
	lat1 := start.Lat * math.Pi / 180
	lng1 := start.Lng * math.Pi / 180
	d := distanceKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(math.Sin(bearing)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))

	lng := lng2 * 180 / math.Pi
	if lng > 180 {
		lng -= 360
	}
	if lng < -180 {
		lng += 360
	}
	return Point{Lat: lat2 * 180 / math.Pi, Lng: lng}
}
