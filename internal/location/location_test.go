package location_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/breezebar/breezebar/internal/location"
)

func TestDistance(t *testing.T) {
	// Amsterdam Centraal to Rotterdam Centraal is roughly 57 km.
	d := location.Distance(52.3676, 4.9041, 51.9244, 4.4777)
	assert.InDelta(t, 57000, d, 2000)

	assert.Zero(t, location.Distance(52.0, 4.0, 52.0, 4.0))
}

func TestFilter_FirstFixAlwaysAccepted(t *testing.T) {
	var f location.Filter

	assert.True(t, f.Accept(fix(52.3676, 4.9041)))

	last, ok := f.Last()
	assert.True(t, ok)
	assert.Equal(t, 52.3676, last.Latitude)
}

func TestFilter_RejectsSmallMovement(t *testing.T) {
	var f location.Filter
	assert.True(t, f.Accept(fix(52.3676, 4.9041)))

	// ~50 m north, below the 100 m threshold.
	assert.False(t, f.Accept(fix(52.36805, 4.9041)))

	last, _ := f.Last()
	assert.Equal(t, 52.3676, last.Latitude, "rejected fix must not replace the accepted one")
}

func TestFilter_AcceptsLargeMovement(t *testing.T) {
	var f location.Filter
	assert.True(t, f.Accept(fix(52.3676, 4.9041)))

	// ~550 m north.
	assert.True(t, f.Accept(fix(52.3726, 4.9041)))

	last, _ := f.Last()
	assert.Equal(t, 52.3726, last.Latitude)
}

func TestFilter_Reset(t *testing.T) {
	var f location.Filter
	assert.True(t, f.Accept(fix(52.3676, 4.9041)))

	f.Reset()

	_, ok := f.Last()
	assert.False(t, ok)
	assert.True(t, f.Accept(fix(52.3676, 4.9041)), "first fix after reset is unconditional")
}

func fix(lat, lon float64) location.Fix {
	return location.Fix{Latitude: lat, Longitude: lon, CapturedAt: time.Now()}
}
