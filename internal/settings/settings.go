// Package settings handles persisted user settings for breezebar.
package settings

import "errors"

// Store errors.
var (
	// ErrNotFound is returned when no settings have been persisted yet.
	ErrNotFound = errors.New("settings not found")
)

// DefaultIntervalSeconds is the refresh period used when none is persisted.
const DefaultIntervalSeconds = 3600

// Intervals is the fixed set of selectable refresh periods, in seconds.
var Intervals = []int{60, 300, 600, 900, 1800, 3600, 10800, 21600, 43200, 86400}

// ValidInterval reports whether sec is one of the selectable refresh periods.
func ValidInterval(sec int) bool {
	for _, v := range Intervals {
		if v == sec {
			return true
		}
	}
	return false
}

// NextInterval returns the interval following sec in the selectable set,
// wrapping around at the end. Unknown values map to the first interval.
func NextInterval(sec int) int {
	for i, v := range Intervals {
		if v == sec {
			return Intervals[(i+1)%len(Intervals)]
		}
	}
	return Intervals[0]
}

// Settings holds the persisted configuration. Pointer fields distinguish
// "never set" from a legitimate zero value; a 0.0/0.0 coordinate is a real
// location, not a sentinel.
type Settings struct {
	// Latitude and Longitude are the last known coordinates, either from a
	// location fix or manual entry. Nil until first set.
	Latitude  *float64 `toml:"latitude,omitempty"`
	Longitude *float64 `toml:"longitude,omitempty"`

	// City names a location for city-based feed lookups. Mutually exclusive
	// resolution path with coordinates.
	City string `toml:"city,omitempty"`

	// APIToken authenticates against the upstream feed API. Fetches are
	// refused while it is empty.
	APIToken string `toml:"api_token,omitempty"`

	// IntervalSeconds is the selected refresh period. Must be one of
	// Intervals; defaults to DefaultIntervalSeconds.
	IntervalSeconds int `toml:"interval_seconds"`
}

// Defaults returns settings with only the default interval populated.
func Defaults() Settings {
	return Settings{IntervalSeconds: DefaultIntervalSeconds}
}

// HasCoordinates reports whether both latitude and longitude are set.
func (s Settings) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// HasToken reports whether an API token is configured.
func (s Settings) HasToken() bool {
	return s.APIToken != ""
}

// SetCoordinates records a coordinate pair.
func (s *Settings) SetCoordinates(lat, lon float64) {
	s.Latitude = &lat
	s.Longitude = &lon
}

// Store persists and retrieves settings. Values round-trip exactly; unset
// fields stay unset across a round-trip.
type Store interface {
	// Load returns the persisted settings, or Defaults() and ErrNotFound
	// when nothing has been saved yet.
	Load() (Settings, error)

	// Save persists the full settings snapshot.
	Save(Settings) error
}
