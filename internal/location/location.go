// Package location defines the geolocation provider contract and the
// movement filter applied to incoming fixes.
package location

import (
	"context"
	"errors"
	"math"
	"time"
)

// Provider errors.
var (
	// ErrNoFix is returned when the provider cannot determine a position.
	ErrNoFix = errors.New("no location fix available")

	// ErrPermissionDenied is returned when location access is denied or
	// restricted by the OS.
	ErrPermissionDenied = errors.New("location permission denied")
)

// AuthStatus is the OS-level location authorization state.
type AuthStatus int

const (
	AuthNotDetermined AuthStatus = iota
	AuthAuthorized
	AuthDeniedOrRestricted
)

// String returns a log-friendly name for the status.
func (s AuthStatus) String() string {
	switch s {
	case AuthNotDetermined:
		return "not_determined"
	case AuthAuthorized:
		return "authorized"
	case AuthDeniedOrRestricted:
		return "denied_or_restricted"
	default:
		return "unknown"
	}
}

// Fix is a single coordinate sample from the provider.
type Fix struct {
	Latitude   float64
	Longitude  float64
	CapturedAt time.Time
}

// Provider wraps OS geolocation. RequestFix yields at most one fix per call
// and is never retried automatically by the provider itself.
type Provider interface {
	// AuthorizationStatus returns the current authorization state.
	AuthorizationStatus() AuthStatus

	// RequestAuthorization asks the OS to prompt the user for access.
	RequestAuthorization(ctx context.Context) error

	// RequestFix asks for a single coordinate sample.
	RequestFix(ctx context.Context) (Fix, error)
}

// MinMovementMeters is the minimum great-circle distance a new fix must move
// before it replaces the previous one. Filters out GPS jitter that would
// otherwise trigger refresh storms.
const MinMovementMeters = 100.0

// Filter applies the minimum-movement threshold to incoming fixes. The very
// first fix is always accepted.
type Filter struct {
	last    Fix
	hasLast bool
}

// Accept reports whether the fix should replace the previous accepted one,
// recording it if so.
func (f *Filter) Accept(fix Fix) bool {
	if f.hasLast && Distance(f.last.Latitude, f.last.Longitude, fix.Latitude, fix.Longitude) < MinMovementMeters {
		return false
	}
	f.last = fix
	f.hasLast = true
	return true
}

// Last returns the most recently accepted fix, if any.
func (f *Filter) Last() (Fix, bool) {
	return f.last, f.hasLast
}

// Reset forgets the previously accepted fix, so the next fix is accepted
// unconditionally.
func (f *Filter) Reset() {
	f.hasLast = false
}

// Distance calculates the great-circle distance between two points in meters
// using the Haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000 // meters

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
