package signal

import (
	"math"
	"math/bits"
)

// cosine returns the cosine similarity of a and b. ok is false when the
// vectors differ in length, are empty, or either has zero norm.
func cosine(a, b []float64) (c float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	c = dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Floating point error can push |c| slightly past 1.
	return math.Max(-1, math.Min(1, c)), true
}

// cosineToUnit maps a cosine in [-1,1] onto [0,1].
func cosineToUnit(c float64) float64 {
	return (c + 1) / 2
}

// hamming counts differing bits between equal-length hashes.
func hamming(a, b []byte) (distance, bitLength int, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, 0, false
	}
	for i := range a {
		distance += bits.OnesCount8(a[i] ^ b[i])
	}
	return distance, len(a) * 8, true
}
