// Package poll implements the polling controller: the single authority for
// when a fetch happens and for serializing fetch attempts.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/breezebar/breezebar/internal/aqi"
	"github.com/breezebar/breezebar/internal/history"
	"github.com/breezebar/breezebar/internal/location"
	"github.com/breezebar/breezebar/internal/settings"
)

// Indicator strings. The indicator never shows raw error detail; diagnostics
// go to the log.
const (
	TextPending            = "…"
	TextInvalidConfig      = "Invalid config"
	TextNoData             = "N/A"
	TextPermissionRequired = "Location permission required"
)

// Presenter renders the indicator. Implementations are called from the
// controller's event loop and must not block.
type Presenter interface {
	SetText(string)
	SetTooltip(string)
}

// State is a read-only snapshot of the controller, served by the status API.
type State struct {
	Text            string       `json:"text"`
	Tooltip         string       `json:"tooltip,omitempty"`
	Reading         *aqi.Reading `json:"reading,omitempty"`
	Level           aqi.Level    `json:"level,omitempty"`
	Trend           string       `json:"trend,omitempty"`
	InFlight        bool         `json:"in_flight"`
	IntervalSeconds int          `json:"interval_seconds"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ControllerConfig holds the controller's collaborators.
type ControllerConfig struct {
	// Store persists settings (required).
	Store settings.Store

	// Location provides geolocation (required).
	Location location.Provider

	// Client fetches readings (required).
	Client aqi.Client

	// Presenter renders the indicator (required).
	Presenter Presenter

	// History records successful readings (optional).
	History *history.Store

	// PermissionPrompt is invoked once when location access is denied, to
	// explain how to re-enable it. Optional.
	PermissionPrompt func()

	// NewTicker builds the refresh timer. Defaults to time.NewTicker; tests
	// substitute a driveable implementation.
	NewTicker func(time.Duration) Ticker

	// Logger for controller operations.
	Logger zerolog.Logger
}

// Ticker is the refresh timer owned by the event loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

type eventKind int

const (
	evTrigger eventKind = iota
	evSetInterval
	evAuthChanged
	evFixReceived
	evFixFailed
	evFetchDone
)

type event struct {
	kind     eventKind
	reason   string
	interval int
	status   location.AuthStatus
	fix      location.Fix
	reading  aqi.Reading
	err      error
	attempt  string
}

// Controller owns the refresh timer and the in-flight flag. All state lives
// on a single event loop goroutine: timer ticks, manual triggers, location
// callbacks and fetch completions are posted onto one channel, so the
// at-most-one-in-flight invariant is a plain flag check, not a mutex.
type Controller struct {
	store     settings.Store
	loc       location.Provider
	client    aqi.Client
	presenter Presenter
	hist      *history.Store
	prompt    func()
	newTicker func(time.Duration) Ticker
	logger    zerolog.Logger

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// Loop-owned state. Never touched outside the run goroutine.
	inFlight        bool
	filter          location.Filter
	intervalSeconds int
	promptShown     bool

	// Published snapshot for external readers.
	mu    sync.RWMutex
	state State
}

// NewController creates a controller. Call Start to begin polling.
func NewController(cfg ControllerConfig) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	newTicker := cfg.NewTicker
	if newTicker == nil {
		newTicker = newRealTicker
	}

	return &Controller{
		store:           cfg.Store,
		loc:             cfg.Location,
		client:          cfg.Client,
		presenter:       cfg.Presenter,
		hist:            cfg.History,
		prompt:          cfg.PermissionPrompt,
		newTicker:       newTicker,
		logger:          cfg.Logger,
		events:          make(chan event, 16),
		done:            make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		intervalSeconds: settings.DefaultIntervalSeconds,
	}
}

// Start launches the event loop, restores the persisted interval and kicks
// an initial fetch.
func (c *Controller) Start() {
	if loaded, err := c.store.Load(); err == nil || errors.Is(err, settings.ErrNotFound) {
		if settings.ValidInterval(loaded.IntervalSeconds) {
			c.intervalSeconds = loaded.IntervalSeconds
		}
	}
	c.setState(func(s *State) {
		s.Text = TextPending
		s.IntervalSeconds = c.intervalSeconds
	})

	c.wg.Add(1)
	go c.run()

	c.post(event{kind: evTrigger, reason: "startup"})
}

// Close tears the controller down: the timer stops and any in-flight fetch
// completion is ignored. Safe to call more than once.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
	c.wg.Wait()
}

// Refresh requests a fetch, e.g. from a click on the indicator. A no-op
// while a fetch is already in flight.
func (c *Controller) Refresh() {
	c.post(event{kind: evTrigger, reason: "manual"})
}

// SetInterval switches to one of the enumerated refresh periods. The timer
// restarts at the new cadence and one fetch fires immediately.
func (c *Controller) SetInterval(seconds int) error {
	if !settings.ValidInterval(seconds) {
		return fmt.Errorf("interval %ds is not a selectable period", seconds)
	}
	c.post(event{kind: evSetInterval, interval: seconds})
	return nil
}

// RequestLocationUpdate asks for a fresh location fix, e.g. from the menu's
// "Update" action.
func (c *Controller) RequestLocationUpdate() {
	c.requestFix()
}

// HandleAuthorizationChange is called by the platform adapter when location
// authorization changes.
func (c *Controller) HandleAuthorizationChange(status location.AuthStatus) {
	c.post(event{kind: evAuthChanged, status: status})
}

// Snapshot returns the current indicator state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// post enqueues an event unless the controller is shut down.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer c.wg.Done()

	ticker := c.newTicker(time.Duration(c.intervalSeconds) * time.Second)
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C():
			c.startFetch("timer")
		case ev := <-c.events:
			if newInterval := c.handle(ev); newInterval > 0 {
				// Replacing the ticker cancels the old cadence outright.
				ticker.Stop()
				ticker = c.newTicker(time.Duration(newInterval) * time.Second)
			}
		}
	}
}

// handle processes one event on the loop. It returns a non-zero interval
// when the timer must be recreated.
func (c *Controller) handle(ev event) int {
	switch ev.kind {
	case evTrigger:
		c.startFetch(ev.reason)
	case evSetInterval:
		return c.applyInterval(ev.interval)
	case evAuthChanged:
		c.onAuthChanged(ev.status)
	case evFixReceived:
		c.onFixReceived(ev.fix)
	case evFixFailed:
		c.onFixFailed(ev.err)
	case evFetchDone:
		if ev.err != nil {
			c.onFetchFailed(ev.attempt, ev.err)
		} else {
			c.onFetchSucceeded(ev.attempt, ev.reading)
		}
	}
	return 0
}

// startFetch resolves inputs and launches a fetch. Runs on the loop.
func (c *Controller) startFetch(reason string) {
	if c.inFlight {
		c.logger.Debug().Str("reason", reason).Msg("fetch already in flight, ignoring trigger")
		return
	}
	c.inFlight = true
	c.render(TextPending, "")
	c.setState(func(s *State) { s.InFlight = true })

	loaded, err := c.store.Load()
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		c.logger.Error().Err(err).Msg("loading settings failed")
	}

	if !loaded.HasToken() {
		c.logger.Warn().Str("reason", reason).Msg("no API token configured")
		c.render(TextInvalidConfig, "Set an API token in settings")
		c.finishFetch(nil)
		return
	}

	params := aqi.Params{Token: loaded.APIToken}
	switch {
	case c.haveFix():
		fix, _ := c.filter.Last()
		params.Latitude = &fix.Latitude
		params.Longitude = &fix.Longitude
	case loaded.HasCoordinates():
		params.Latitude = loaded.Latitude
		params.Longitude = loaded.Longitude
	case loaded.City != "":
		params.City = loaded.City
	default:
		// No position at all. Ask for one; the fix callback re-triggers.
		c.logger.Info().Str("reason", reason).Msg("no location known, requesting fix")
		c.render(TextPending, "Waiting for location")
		c.finishFetch(nil)
		c.requestFix()
		return
	}

	attempt := uuid.NewString()
	c.logger.Info().
		Str("attempt", attempt).
		Str("reason", reason).
		Str("provider", c.client.Name()).
		Msg("starting fetch")

	go func() {
		reading, err := c.client.Fetch(c.ctx, params)
		c.post(event{kind: evFetchDone, reading: reading, err: err, attempt: attempt})
	}()
}

func (c *Controller) haveFix() bool {
	_, ok := c.filter.Last()
	return ok
}

// finishFetch clears the in-flight flag. Every exit path of a fetch attempt
// lands here so the controller can never wedge in a busy state.
func (c *Controller) finishFetch(reading *aqi.Reading) {
	c.inFlight = false
	c.setState(func(s *State) {
		s.InFlight = false
		s.Reading = reading
		if reading != nil {
			s.Level = aqi.LevelFor(reading.Value)
		} else {
			s.Level = ""
		}
	})
}

func (c *Controller) onFetchSucceeded(attempt string, reading aqi.Reading) {
	trend := history.TrendSteady
	if c.hist != nil {
		if err := c.hist.Record(reading); err != nil {
			c.logger.Error().Err(err).Str("attempt", attempt).Msg("recording reading failed")
		}
		if t, err := c.hist.CurrentTrend(); err == nil {
			trend = t
		}
	}

	level := aqi.LevelFor(reading.Value)
	tooltip := fmt.Sprintf("AQI %s (%s)", reading.Label(), level)
	if reading.TimestampLabel != "" {
		tooltip += " at " + reading.TimestampLabel
	} else if !reading.ObservedAt.IsZero() {
		tooltip += " at " + reading.ObservedAt.Format("2006-01-02 15:04")
	}

	text := reading.Label()
	if c.hist != nil {
		text += trend.Arrow()
	}

	c.logger.Info().
		Str("attempt", attempt).
		Float64("value", reading.Value).
		Str("level", string(level)).
		Msg("fetch succeeded")

	c.render(text, tooltip)
	c.finishFetch(&reading)
	c.setState(func(s *State) { s.Trend = string(trend) })
}

func (c *Controller) onFetchFailed(attempt string, err error) {
	// Error detail stays in the log; the indicator only degrades to one of
	// the fixed strings.
	c.logger.Error().Err(err).Str("attempt", attempt).Msg("fetch failed")

	switch {
	case errors.Is(err, aqi.ErrNoData):
		c.render(TextNoData, "No data for this location")
	case errors.Is(err, aqi.ErrDecode):
		c.render(TextNoData, "Upstream returned an unexpected response")
	case errors.Is(err, aqi.ErrTransport):
		c.render(TextNoData, "Upstream unreachable")
	default:
		c.render(TextNoData, "")
	}
	c.finishFetch(nil)
}

// applyInterval persists the new period, restarts the timer and fires one
// fetch so the new cadence takes effect immediately.
func (c *Controller) applyInterval(seconds int) int {
	c.intervalSeconds = seconds
	c.setState(func(s *State) { s.IntervalSeconds = seconds })

	loaded, err := c.store.Load()
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		c.logger.Error().Err(err).Msg("loading settings failed")
	}
	loaded.IntervalSeconds = seconds
	if err := c.store.Save(loaded); err != nil {
		c.logger.Error().Err(err).Msg("persisting interval failed")
	}

	c.logger.Info().Int("interval_seconds", seconds).Msg("refresh interval changed")
	c.startFetch("interval")
	return seconds
}

func (c *Controller) onAuthChanged(status location.AuthStatus) {
	c.logger.Info().Stringer("status", status).Msg("location authorization changed")

	switch status {
	case location.AuthAuthorized:
		c.requestFix()
	case location.AuthDeniedOrRestricted:
		c.render(TextPermissionRequired, "Allow location access in system settings")
		c.showPromptOnce()
	case location.AuthNotDetermined:
		go func() {
			if err := c.loc.RequestAuthorization(c.ctx); err != nil {
				c.logger.Error().Err(err).Msg("requesting location authorization failed")
			}
		}()
	}
}

// requestFix asks the provider for a single fix off-loop and posts the
// result back as an event.
func (c *Controller) requestFix() {
	go func() {
		fix, err := c.loc.RequestFix(c.ctx)
		if err != nil {
			c.post(event{kind: evFixFailed, err: err})
			return
		}
		c.post(event{kind: evFixReceived, fix: fix})
	}()
}

func (c *Controller) onFixReceived(fix location.Fix) {
	if !c.filter.Accept(fix) {
		c.logger.Debug().
			Float64("lat", fix.Latitude).
			Float64("lon", fix.Longitude).
			Msg("fix below movement threshold, ignoring")
		return
	}

	c.logger.Info().
		Float64("lat", fix.Latitude).
		Float64("lon", fix.Longitude).
		Msg("location fix accepted")

	loaded, err := c.store.Load()
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		c.logger.Error().Err(err).Msg("loading settings failed")
	}
	loaded.SetCoordinates(fix.Latitude, fix.Longitude)
	if err := c.store.Save(loaded); err != nil {
		c.logger.Error().Err(err).Msg("persisting coordinates failed")
	}

	c.startFetch("location")
}

func (c *Controller) onFixFailed(err error) {
	if errors.Is(err, location.ErrPermissionDenied) {
		c.render(TextPermissionRequired, "Allow location access in system settings")
		c.showPromptOnce()
		return
	}
	c.logger.Warn().Err(err).Msg("location fix failed")

	loaded, loadErr := c.store.Load()
	if loadErr != nil && !errors.Is(loadErr, settings.ErrNotFound) {
		c.logger.Error().Err(loadErr).Msg("loading settings failed")
	}
	if c.haveFix() || loaded.HasCoordinates() || loaded.City != "" {
		return
	}

	// No fix, no persisted coordinates, no city: every retry hits the same
	// wall, so the indicator must say the configuration is incomplete
	// instead of pending forever.
	c.render(TextInvalidConfig, "Configure a location or allow location access")
}

func (c *Controller) showPromptOnce() {
	if c.promptShown {
		return
	}
	c.promptShown = true
	if c.prompt != nil {
		c.prompt()
	}
}

// render pushes text and tooltip to the presenter and the state snapshot.
// Runs on the loop, so presenter calls are serialized.
func (c *Controller) render(text, tooltip string) {
	c.presenter.SetText(text)
	c.presenter.SetTooltip(tooltip)
	c.setState(func(s *State) {
		s.Text = text
		s.Tooltip = tooltip
		s.UpdatedAt = time.Now()
	})
}

func (c *Controller) setState(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	c.mu.Unlock()
}
