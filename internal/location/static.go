package location

import (
	"context"
	"time"
)

// StaticProvider serves a single preconfigured coordinate pair, standing in
// for OS geolocation on platforms without a location service. It reports
// authorized when coordinates are configured and denied otherwise.
type StaticProvider struct {
	lat, lon float64
	set      bool
}

// NewStaticProvider creates a provider that always reports the given
// coordinates.
func NewStaticProvider(lat, lon float64) *StaticProvider {
	return &StaticProvider{lat: lat, lon: lon, set: true}
}

// NewUnavailableProvider creates a provider with no position at all.
func NewUnavailableProvider() *StaticProvider {
	return &StaticProvider{}
}

// AuthorizationStatus implements Provider.
func (p *StaticProvider) AuthorizationStatus() AuthStatus {
	if p.set {
		return AuthAuthorized
	}
	return AuthDeniedOrRestricted
}

// RequestAuthorization implements Provider. There is no OS prompt to show.
func (p *StaticProvider) RequestAuthorization(ctx context.Context) error {
	if p.set {
		return nil
	}
	return ErrPermissionDenied
}

// RequestFix implements Provider.
func (p *StaticProvider) RequestFix(ctx context.Context) (Fix, error) {
	if !p.set {
		return Fix{}, ErrNoFix
	}
	return Fix{Latitude: p.lat, Longitude: p.lon, CapturedAt: time.Now()}, nil
}
