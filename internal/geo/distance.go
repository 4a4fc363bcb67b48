package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0088

// ErrInvalidPoint is returned when a coordinate is out of range or not finite.
var ErrInvalidPoint = errors.New("invalid geo point")

// Point is a WGS84 latitude/longitude pair in degrees. Reports may carry a
// fuzzed point; it is still treated as a point.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the point lies within [-90,90] x [-180,180].
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("%w: non-finite coordinate", ErrInvalidPoint)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidPoint, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidPoint, p.Lng)
	}
	return nil
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h marginally past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// BBox is a latitude/longitude rectangle. When the box crosses the
// antimeridian MinLng is greater than MaxLng.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// CrossesAntimeridian reports whether the longitude range wraps past ±180.
func (b BBox) CrossesAntimeridian() bool {
	return b.MinLng > b.MaxLng
}

// Contains reports whether p lies inside the box.
func (b BBox) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.CrossesAntimeridian() {
		return p.Lng >= b.MinLng || p.Lng <= b.MaxLng
	}
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// BoundingBoxAround returns a box that contains every point within radiusKm
// of center. The box is a coarse prefilter; callers still apply HaversineKm.
func BoundingBoxAround(center Point, radiusKm float64) BBox {
	if radiusKm <= 0 {
		return BBox{MinLat: center.Lat, MaxLat: center.Lat, MinLng: center.Lng, MaxLng: center.Lng}
	}

	angular := radiusKm / EarthRadiusKm
	dLat := angular * 180 / math.Pi

	minLat := center.Lat - dLat
	maxLat := center.Lat + dLat
	if minLat <= -90 || maxLat >= 90 {
		// A pole is inside the circle: every longitude qualifies.
		return BBox{
			MinLat: math.Max(minLat, -90),
			MaxLat: math.Min(maxLat, 90),
			MinLng: -180,
			MaxLng: 180,
		}
	}

	// Longitude span at the given latitude (Chamberlain & Duquette).
	latRad := center.Lat * math.Pi / 180
	dLng := math.Asin(math.Sin(angular)/math.Cos(latRad)) * 180 / math.Pi

	minLng := center.Lng - dLng
	maxLng := center.Lng + dLng
	if minLng < -180 {
		minLng += 360
	}
	if maxLng > 180 {
		maxLng -= 360
	}

	return BBox{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}
}
