// Package aqi provides air quality index data access and the normalized
// reading model shared by all upstream clients.
package aqi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Client errors. Callers classify failures with errors.Is against these
// sentinels; the wrapped detail is for logs only.
var (
	// ErrTransport covers network failures and non-2xx upstream responses.
	ErrTransport = errors.New("upstream transport failure")

	// ErrDecode covers payloads that do not match the expected schema.
	ErrDecode = errors.New("unexpected upstream payload")

	// ErrNoData means the payload was well-formed but carried no usable
	// sample (empty or entirely null series).
	ErrNoData = errors.New("no air quality data available")
)

// Reading is a normalized AQI sample.
type Reading struct {
	// Value is the air quality index.
	Value float64

	// ObservedAt is when the sample was measured. Zero when the upstream
	// reports no timestamp.
	ObservedAt time.Time

	// TimestampLabel is the upstream's own representation of the
	// observation time, kept verbatim for tooltips.
	TimestampLabel string

	// Source identifies the upstream client that produced the reading.
	Source string
}

// Label returns the indicator text for the reading.
func (r Reading) Label() string {
	return fmt.Sprintf("%d", int(math.Round(r.Value)))
}

// Params are the resolved inputs for a fetch. Coordinates and city are
// mutually exclusive resolution paths; whichever the client variant needs
// must be populated.
type Params struct {
	Latitude  *float64
	Longitude *float64
	City      string
	Token     string
}

// HasCoordinates reports whether both coordinates are set.
func (p Params) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Client fetches the current AQI for the given parameters. Implementations
// issue exactly one logical request per call and normalize failures onto the
// package sentinels.
type Client interface {
	Name() string
	Fetch(ctx context.Context, p Params) (Reading, error)
}

// Level is a named AQI band.
type Level string

const (
	LevelGood               Level = "Good"
	LevelModerate           Level = "Moderate"
	LevelUnhealthySensitive Level = "Unhealthy for Sensitive Groups"
	LevelUnhealthy          Level = "Unhealthy"
	LevelVeryUnhealthy      Level = "Very Unhealthy"
	LevelHazardous          Level = "Hazardous"
)

// LevelFor maps a value to its US EPA band.
func LevelFor(value float64) Level {
	switch {
	case value <= 50:
		return LevelGood
	case value <= 100:
		return LevelModerate
	case value <= 150:
		return LevelUnhealthySensitive
	case value <= 200:
		return LevelUnhealthy
	case value <= 300:
		return LevelVeryUnhealthy
	default:
		return LevelHazardous
	}
}
