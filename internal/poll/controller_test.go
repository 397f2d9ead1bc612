package poll_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezebar/breezebar/internal/aqi"
	"github.com/breezebar/breezebar/internal/location"
	"github.com/breezebar/breezebar/internal/poll"
	"github.com/breezebar/breezebar/internal/settings"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeClient counts fetches and optionally blocks until released.
type fakeClient struct {
	calls   atomic.Int32
	block   chan struct{}
	reading aqi.Reading
	err     error

	mu         sync.Mutex
	lastParams aqi.Params
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Fetch(ctx context.Context, p aqi.Params) (aqi.Reading, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastParams = p
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return aqi.Reading{}, ctx.Err()
		}
	}
	return f.reading, f.err
}

func (f *fakeClient) params() aqi.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastParams
}

// fakePresenter records rendered text.
type fakePresenter struct {
	mu      sync.Mutex
	text    string
	tooltip string
}

func (p *fakePresenter) SetText(s string)    { p.mu.Lock(); p.text = s; p.mu.Unlock() }
func (p *fakePresenter) SetTooltip(s string) { p.mu.Lock(); p.tooltip = s; p.mu.Unlock() }

func (p *fakePresenter) lastText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// fakeLocation serves a configurable fix.
type fakeLocation struct {
	mu       sync.Mutex
	fix      location.Fix
	err      error
	requests atomic.Int32
}

func (l *fakeLocation) AuthorizationStatus() location.AuthStatus { return location.AuthAuthorized }

func (l *fakeLocation) RequestAuthorization(context.Context) error { return nil }

func (l *fakeLocation) RequestFix(context.Context) (location.Fix, error) {
	l.requests.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fix, l.err
}

func (l *fakeLocation) setFix(lat, lon float64) {
	l.mu.Lock()
	l.fix = location.Fix{Latitude: lat, Longitude: lon, CapturedAt: time.Now()}
	l.mu.Unlock()
}

// fakeTicker lets a test drive timer ticks by hand.
type fakeTicker struct {
	period  time.Duration
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

// tickerFactory records every ticker the controller creates.
type tickerFactory struct {
	mu      sync.Mutex
	created []*fakeTicker
}

func (f *tickerFactory) make(d time.Duration) poll.Ticker {
	t := &fakeTicker{period: d, ch: make(chan time.Time, 1)}
	f.mu.Lock()
	f.created = append(f.created, t)
	f.mu.Unlock()
	return t
}

func (f *tickerFactory) get(i int) *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.created) {
		return nil
	}
	return f.created[i]
}

func configuredStore(token string, withCoords bool) *settings.InMemoryStore {
	s := settings.Defaults()
	s.APIToken = token
	if withCoords {
		s.SetCoordinates(52.3676, 4.9041)
	}
	return settings.NewInMemoryStoreWith(s)
}

func newController(t *testing.T, store settings.Store, loc location.Provider, client aqi.Client, presenter poll.Presenter) *poll.Controller {
	t.Helper()
	ctrl := poll.NewController(poll.ControllerConfig{
		Store:     store,
		Location:  loc,
		Client:    client,
		Presenter: presenter,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(ctrl.Close)
	return ctrl
}

func TestController_ConfigGating(t *testing.T) {
	client := &fakeClient{}
	presenter := &fakePresenter{}
	ctrl := newController(t, configuredStore("", true), &fakeLocation{}, client, presenter)

	ctrl.Start()

	require.Eventually(t, func() bool {
		return presenter.lastText() == poll.TextInvalidConfig
	}, waitFor, tick)

	assert.Equal(t, int32(0), client.calls.Load(), "no network call without a token")
	assert.False(t, ctrl.Snapshot().InFlight)
}

func TestController_AtMostOneInFlight(t *testing.T) {
	client := &fakeClient{
		block:   make(chan struct{}),
		reading: aqi.Reading{Value: 42, Source: "fake"},
	}
	presenter := &fakePresenter{}
	ctrl := newController(t, configuredStore("tok", true), &fakeLocation{}, client, presenter)

	ctrl.Start()

	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)

	// Triggers while the fetch is in flight must be no-ops.
	ctrl.Refresh()
	ctrl.Refresh()
	ctrl.Refresh()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), client.calls.Load())

	close(client.block)
	require.Eventually(t, func() bool {
		return presenter.lastText() == "42"
	}, waitFor, tick)
	assert.False(t, ctrl.Snapshot().InFlight)

	// Completion re-arms the controller.
	ctrl.Refresh()
	require.Eventually(t, func() bool { return client.calls.Load() == 2 }, waitFor, tick)
}

func TestController_ErrorClearsBusyFlag(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("%w: connection refused", aqi.ErrTransport)}
	presenter := &fakePresenter{}
	ctrl := newController(t, configuredStore("tok", true), &fakeLocation{}, client, presenter)

	ctrl.Start()

	require.Eventually(t, func() bool {
		return presenter.lastText() == poll.TextNoData
	}, waitFor, tick)
	assert.False(t, ctrl.Snapshot().InFlight)

	// Errors are local to one attempt; the next trigger retries.
	ctrl.Refresh()
	require.Eventually(t, func() bool { return client.calls.Load() == 2 }, waitFor, tick)
}

func TestController_NoDataRendersNA(t *testing.T) {
	client := &fakeClient{err: aqi.ErrNoData}
	presenter := &fakePresenter{}
	ctrl := newController(t, configuredStore("tok", true), &fakeLocation{}, client, presenter)

	ctrl.Start()

	require.Eventually(t, func() bool {
		return presenter.lastText() == poll.TextNoData
	}, waitFor, tick)
}

func TestController_NoLocationRequestsFix(t *testing.T) {
	client := &fakeClient{reading: aqi.Reading{Value: 17}}
	presenter := &fakePresenter{}
	loc := &fakeLocation{}
	loc.setFix(52.370216, 4.895168)
	store := configuredStore("tok", false)
	ctrl := newController(t, store, loc, client, presenter)

	ctrl.Start()

	// The gated trigger requests a fix; its arrival re-triggers the fetch.
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)
	assert.GreaterOrEqual(t, loc.requests.Load(), int32(1))

	p := client.params()
	require.True(t, p.HasCoordinates())
	assert.Equal(t, 52.370216, *p.Latitude)
	assert.Equal(t, 4.895168, *p.Longitude)

	// Accepted fixes are persisted.
	loaded, err := store.Load()
	require.NoError(t, err)
	require.True(t, loaded.HasCoordinates())
	assert.Equal(t, 52.370216, *loaded.Latitude)
}

func TestController_CityFallback(t *testing.T) {
	client := &fakeClient{reading: aqi.Reading{Value: 17}}
	presenter := &fakePresenter{}
	s := settings.Defaults()
	s.APIToken = "tok"
	s.City = "shanghai"
	ctrl := newController(t, settings.NewInMemoryStoreWith(s), &fakeLocation{}, client, presenter)

	ctrl.Start()

	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)
	assert.Equal(t, "shanghai", client.params().City)
	assert.False(t, client.params().HasCoordinates())
}

func TestController_MovementFilter(t *testing.T) {
	client := &fakeClient{reading: aqi.Reading{Value: 17}}
	presenter := &fakePresenter{}
	loc := &fakeLocation{}
	loc.setFix(52.3676, 4.9041)
	ctrl := newController(t, configuredStore("tok", true), loc, client, presenter)

	ctrl.Start()
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)

	// First fix is always accepted and triggers a fetch.
	ctrl.RequestLocationUpdate()
	require.Eventually(t, func() bool { return client.calls.Load() == 2 }, waitFor, tick)

	// ~50 m of movement is jitter, not a reason to refetch.
	loc.setFix(52.36805, 4.9041)
	ctrl.RequestLocationUpdate()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), client.calls.Load())

	// ~550 m is a real move.
	loc.setFix(52.3726, 4.9041)
	ctrl.RequestLocationUpdate()
	require.Eventually(t, func() bool { return client.calls.Load() == 3 }, waitFor, tick)
}

func TestController_UnresolvableLocationShowsInvalidConfig(t *testing.T) {
	client := &fakeClient{}
	presenter := &fakePresenter{}
	loc := &fakeLocation{err: location.ErrNoFix}
	ctrl := newController(t, configuredStore("tok", false), loc, client, presenter)

	ctrl.Start()

	// Token present but no fix, coordinates or city anywhere: the failed
	// fix request must degrade the indicator, not leave it pending.
	require.Eventually(t, func() bool {
		return presenter.lastText() == poll.TextInvalidConfig
	}, waitFor, tick)
	assert.Equal(t, int32(0), client.calls.Load())
	assert.False(t, ctrl.Snapshot().InFlight)
}

func TestController_FixFailureKeepsKnownLocation(t *testing.T) {
	client := &fakeClient{reading: aqi.Reading{Value: 17}}
	presenter := &fakePresenter{}
	loc := &fakeLocation{}
	ctrl := newController(t, configuredStore("tok", true), loc, client, presenter)

	ctrl.Start()
	require.Eventually(t, func() bool {
		return presenter.lastText() == "17"
	}, waitFor, tick)

	// A failed refresh of the fix is not a configuration problem while
	// persisted coordinates can still resolve the position.
	loc.mu.Lock()
	loc.err = location.ErrNoFix
	loc.mu.Unlock()
	ctrl.RequestLocationUpdate()
	require.Eventually(t, func() bool { return loc.requests.Load() >= 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "17", presenter.lastText())
}

func TestController_SetInterval(t *testing.T) {
	client := &fakeClient{reading: aqi.Reading{Value: 17}}
	presenter := &fakePresenter{}
	store := configuredStore("tok", true)
	ctrl := newController(t, store, &fakeLocation{}, client, presenter)

	ctrl.Start()
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)

	require.NoError(t, ctrl.SetInterval(600))

	// The new period is persisted and one fetch fires immediately.
	require.Eventually(t, func() bool { return client.calls.Load() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool {
		loaded, err := store.Load()
		return err == nil && loaded.IntervalSeconds == 600
	}, waitFor, tick)
	assert.Equal(t, 600, ctrl.Snapshot().IntervalSeconds)
}

func TestController_IntervalChangeReplacesTicker(t *testing.T) {
	client := &fakeClient{reading: aqi.Reading{Value: 17}}
	factory := &tickerFactory{}
	ctrl := poll.NewController(poll.ControllerConfig{
		Store:     configuredStore("tok", true),
		Location:  &fakeLocation{},
		Client:    client,
		Presenter: &fakePresenter{},
		NewTicker: factory.make,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(ctrl.Close)

	ctrl.Start()
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)

	initial := factory.get(0)
	require.NotNil(t, initial)
	assert.Equal(t, time.Duration(settings.DefaultIntervalSeconds)*time.Second, initial.period)

	require.NoError(t, ctrl.SetInterval(600))
	require.Eventually(t, func() bool { return client.calls.Load() == 2 }, waitFor, tick)

	// The old cadence stops and a 600s timer takes over.
	require.Eventually(t, func() bool { return factory.get(1) != nil }, waitFor, tick)
	replacement := factory.get(1)
	assert.Equal(t, 600*time.Second, replacement.period)
	assert.True(t, initial.stopped.Load())

	// Ticks on the replacement fire fetches.
	replacement.ch <- time.Now()
	require.Eventually(t, func() bool { return client.calls.Load() == 3 }, waitFor, tick)

	// Ticks on the replaced timer are inert.
	initial.ch <- time.Now()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), client.calls.Load())
}

func TestController_SetIntervalRejectsUnknownPeriod(t *testing.T) {
	client := &fakeClient{}
	ctrl := newController(t, configuredStore("tok", true), &fakeLocation{}, client, &fakePresenter{})

	assert.Error(t, ctrl.SetInterval(0))
	assert.Error(t, ctrl.SetInterval(42))
}

func TestController_PermissionDenied(t *testing.T) {
	client := &fakeClient{}
	presenter := &fakePresenter{}
	loc := &fakeLocation{err: location.ErrPermissionDenied}

	var prompts atomic.Int32
	ctrl := poll.NewController(poll.ControllerConfig{
		Store:            configuredStore("tok", false),
		Location:         loc,
		Client:           client,
		Presenter:        presenter,
		PermissionPrompt: func() { prompts.Add(1) },
		Logger:           zerolog.Nop(),
	})
	t.Cleanup(ctrl.Close)

	ctrl.Start()

	require.Eventually(t, func() bool {
		return presenter.lastText() == poll.TextPermissionRequired
	}, waitFor, tick)
	assert.Equal(t, int32(0), client.calls.Load())

	// The explanatory prompt is shown exactly once.
	ctrl.RequestLocationUpdate()
	require.Eventually(t, func() bool { return loc.requests.Load() >= 2 }, waitFor, tick)
	assert.Equal(t, int32(1), prompts.Load())
}

func TestController_AuthorizationGrantRequestsFix(t *testing.T) {
	client := &fakeClient{reading: aqi.Reading{Value: 17}}
	loc := &fakeLocation{}
	loc.setFix(52.370216, 4.895168)
	ctrl := newController(t, configuredStore("tok", true), loc, client, &fakePresenter{})

	ctrl.Start()
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)

	ctrl.HandleAuthorizationChange(location.AuthAuthorized)
	require.Eventually(t, func() bool { return loc.requests.Load() >= 1 }, waitFor, tick)
}

func TestController_TeardownIgnoresLateCompletion(t *testing.T) {
	client := &fakeClient{block: make(chan struct{}), reading: aqi.Reading{Value: 42}}
	presenter := &fakePresenter{}
	ctrl := poll.NewController(poll.ControllerConfig{
		Store:     configuredStore("tok", true),
		Location:  &fakeLocation{},
		Client:    client,
		Presenter: presenter,
		Logger:    zerolog.Nop(),
	})

	ctrl.Start()
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, waitFor, tick)

	// Teardown abandons the in-flight fetch; its completion must not
	// mutate anything.
	ctrl.Close()
	close(client.block)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, poll.TextPending, presenter.lastText())
}
