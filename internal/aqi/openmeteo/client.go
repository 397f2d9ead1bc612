// Package openmeteo provides a client for forecast-style air quality APIs
// that return an hourly time series instead of a single point value.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breezebar/breezebar/internal/aqi"
	"github.com/breezebar/breezebar/internal/resilience"
)

const (
	// DefaultBaseURL is the base URL for the air quality API.
	DefaultBaseURL = "https://air-quality-api.open-meteo.com"

	// ProviderName identifies this provider.
	ProviderName = "open-meteo"

	// pastHours and forecastHours bound the requested series window around
	// the current hour.
	pastHours     = 2
	forecastHours = 2
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the open-meteo client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use. If nil, a default resilient
	// client is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an open-meteo air quality API client.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	now        func() time.Time
	logger     zerolog.Logger
}

// NewClient creates a new open-meteo client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:              ProviderName,
			Timeout:           cfg.Timeout,
			RequestsPerMinute: 30,
		})
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		now:        now,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// hourlyResponse is the upstream payload shape. Values may be null at
// individual indices when the model has no sample for that hour.
type hourlyResponse struct {
	Hourly struct {
		Time  []string   `json:"time"`
		USAQI []*float64 `json:"us_aqi"`
	} `json:"hourly"`
}

// Fetch retrieves the hourly series around now and selects the current
// sample. No API token is required for this upstream; Params.Token is
// ignored.
func (c *Client) Fetch(ctx context.Context, p aqi.Params) (aqi.Reading, error) {
	if !p.HasCoordinates() {
		return aqi.Reading{}, fmt.Errorf("forecast lookup requires coordinates")
	}

	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(*p.Latitude, 'f', 6, 64))
	query.Set("longitude", strconv.FormatFloat(*p.Longitude, 'f', 6, 64))
	query.Set("hourly", "us_aqi")
	query.Set("timezone", "auto")
	query.Set("past_hours", strconv.Itoa(pastHours))
	query.Set("forecast_hours", strconv.Itoa(forecastHours))

	endpoint := fmt.Sprintf("%s/v1/air-quality?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return aqi.Reading{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("air quality request failed")
		return aqi.Reading{}, fmt.Errorf("%w: %v", aqi.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("air quality request rejected")
		return aqi.Reading{}, fmt.Errorf("%w: unexpected status %d", aqi.ErrTransport, resp.StatusCode)
	}

	var payload hourlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn().Err(err).Msg("air quality payload malformed")
		return aqi.Reading{}, fmt.Errorf("%w: %v", aqi.ErrDecode, err)
	}

	reading, err := c.toReading(&payload)
	if err != nil {
		c.logger.Warn().Err(err).Int("samples", len(payload.Hourly.Time)).Msg("no usable sample in series")
		return aqi.Reading{}, err
	}

	c.logger.Debug().Float64("value", reading.Value).Str("observed", reading.TimestampLabel).Msg("air quality reading received")
	return reading, nil
}

// toReading selects the current sample from the hourly series.
func (c *Client) toReading(payload *hourlyResponse) (aqi.Reading, error) {
	times := payload.Hourly.Time
	values := payload.Hourly.USAQI

	idx, observed, ok := selectCurrent(times, values, c.now())
	if !ok {
		return aqi.Reading{}, aqi.ErrNoData
	}

	reading := aqi.Reading{
		Value:          *values[idx],
		ObservedAt:     observed,
		TimestampLabel: times[idx],
		Source:         ProviderName,
	}
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = c.now()
	}

	return reading, nil
}

// timeLayouts are the timestamp shapes the upstream is known to emit.
// timezone=auto yields zone-less local timestamps.
var timeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// selectCurrent picks the series entry representing "now": the entry with
// the latest timestamp not after now that carries a value. When every
// timestamp is in the future the earliest valued entry is used; when no
// timestamp parses the last valued entry is used. Null values are treated
// as missing at that index, never as a payload failure. Returns ok=false
// when the series is empty or entirely null.
func selectCurrent(times []string, values []*float64, now time.Time) (int, time.Time, bool) {
	n := len(times)
	if len(values) < n {
		n = len(values)
	}

	// bestPast: latest parsed timestamp not after now.
	// firstParsed: earliest parsed entry, used when the whole series is in
	// the future. lastValued: last entry carrying a value at all, used when
	// no timestamp parses.
	bestPast, firstParsed, lastValued := -1, -1, -1
	var bestPastAt, firstParsedAt, lastValuedAt time.Time

	for i := 0; i < n; i++ {
		if values[i] == nil {
			continue
		}

		lastValued = i
		lastValuedAt = time.Time{}

		at, parsed := parseTimestamp(times[i], now.Location())
		if !parsed {
			continue
		}
		lastValuedAt = at

		if firstParsed == -1 {
			firstParsed = i
			firstParsedAt = at
		}
		if !at.After(now) && (bestPast == -1 || at.After(bestPastAt)) {
			bestPast = i
			bestPastAt = at
		}
	}

	switch {
	case bestPast != -1:
		return bestPast, bestPastAt, true
	case firstParsed != -1:
		return firstParsed, firstParsedAt, true
	case lastValued != -1:
		return lastValued, lastValuedAt, true
	default:
		return -1, time.Time{}, false
	}
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
