// Package geo provides great-circle distance, bounding boxes and geohash
// helpers for report locations.
package geo

import "strings"

// LogPrecision is the geohash length used when a location is written to logs
// or traces. Five characters is roughly a 4.9 km cell, coarse enough that a
// privacy-fuzzed report point cannot be recovered from log output.
const LogPrecision = 5

// base32 is the geohash alphabet (no a, i, l, o).
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode returns the geohash of p with the given number of characters.
// A precision below 1 falls back to LogPrecision.
func Encode(p Point, precision int) string {
	if precision < 1 {
		precision = LogPrecision
	}

	lat := [2]float64{-90.0, 90.0}
	lng := [2]float64{-180.0, 180.0}

	var sb strings.Builder
	sb.Grow(precision)

	var ch byte
	bit := 0
	lngTurn := true
	for sb.Len() < precision {
		rng, v := &lat, p.Lat
		if lngTurn {
			rng, v = &lng, p.Lng
		}
		mid := (rng[0] + rng[1]) / 2
		if v > mid {
			ch |= 1 << (4 - bit)
			rng[0] = mid
		} else {
			rng[1] = mid
		}
		lngTurn = !lngTurn

		bit++
		if bit == 5 {
			sb.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}
	return sb.String()
}

// RoundGeohash truncates hash to precision characters. It returns "" for an
// empty hash, a precision below 1, or any character outside the alphabet.
func RoundGeohash(hash string, precision int) string {
	if hash == "" || precision < 1 {
		return ""
	}
	hash = strings.ToLower(hash)
	for _, c := range hash {
		if !strings.ContainsRune(base32, c) {
			return ""
		}
	}
	if len(hash) <= precision {
		return hash
	}
	return hash[:precision]
}

// LogCell returns the coarse geohash cell of p for structured logging, or
// "none" when the location is missing.
func LogCell(p *Point) string {
	if p == nil {
		return "none"
	}
	return Encode(*p, LogPrecision)
}
