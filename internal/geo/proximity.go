// Package geo validates that a reported position is close enough to an event
// to count as attendance.
package geo

import (
	"crypto/subtle"
	"math"

	"lumo/internal/apperr"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by Distance.
	EarthRadiusMeters = 6371000.0

	// MaxCheckInDistanceMeters is the geofence around an event.
	MaxCheckInDistanceMeters = 500
)

type Point struct {
	Lat float64
	Lon float64
}

// Distance returns the great-circle distance in meters between a and b
// using the haversine formula.
func Distance(a, b Point) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	φ1, φ2 := rad(a.Lat), rad(b.Lat)
	Δφ := rad(b.Lat - a.Lat)
	Δλ := rad(b.Lon - a.Lon)
	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// DistanceMeters is Distance rounded to the nearest meter.
func DistanceMeters(a, b Point) int {
	return int(math.Round(Distance(a, b)))
}

// CheckRadius measures reported against event and fails with an
// out-of-range error when the distance exceeds the geofence. The measured
// distance is returned in both cases.
func CheckRadius(reported, event Point) (int, error) {
	d := DistanceMeters(reported, event)
	if d > MaxCheckInDistanceMeters {
		return d, apperr.OutOfRange(d)
	}
	return d, nil
}

// CheckToken gates scan-based check-ins. A nil token means no QR was
// presented and the gate is open; a presented token must equal the event
// secret exactly.
func CheckToken(token, secret *string) error {
	if token == nil {
		return nil
	}
	if secret == nil || *secret == "" {
		return apperr.TokenMismatch()
	}
	if subtle.ConstantTimeCompare([]byte(*token), []byte(*secret)) != 1 {
		return apperr.TokenMismatch()
	}
	return nil
}

// ValidCoordinates reports whether lat/lon are finite and inside the WGS84
// ranges.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
