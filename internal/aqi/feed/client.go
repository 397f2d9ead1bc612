// Package feed provides a client for token-authenticated AQI feed APIs of
// the /feed/geo:{lat};{lon}/ and /feed/{city}/ shape.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breezebar/breezebar/internal/aqi"
	"github.com/breezebar/breezebar/internal/resilience"
)

const (
	// DefaultBaseURL is the base URL for the feed API.
	DefaultBaseURL = "https://api.waqi.info"

	// ProviderName identifies this provider.
	ProviderName = "feed"
)

// Mode selects the feed lookup variant. Geo and city lookups are mutually
// exclusive configurations, never mixed in one request.
type Mode int

const (
	// ModeGeo looks up by coordinates.
	ModeGeo Mode = iota

	// ModeCity looks up by city name.
	ModeCity
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the feed client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Mode selects coordinate or city lookups (defaults to ModeGeo).
	Mode Mode

	// HTTPClient is the HTTP client to use. If nil, a default resilient
	// client is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a feed API client.
type Client struct {
	baseURL    string
	mode       Mode
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new feed client.
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

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		mode:       cfg.Mode,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// feedResponse is the upstream payload shape. The aqi field is kept raw:
// the API reports "-" instead of a number when a station has no data.
type feedResponse struct {
	Status string `json:"status"`
	Data   struct {
		AQI  json.RawMessage `json:"aqi"`
		Time struct {
			S string `json:"s"`
		} `json:"time"`
	} `json:"data"`
}

// Fetch retrieves the current AQI for the given parameters.
func (c *Client) Fetch(ctx context.Context, p aqi.Params) (aqi.Reading, error) {
	endpoint, err := c.buildURL(p)
	if err != nil {
		return aqi.Reading{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return aqi.Reading{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("feed request failed")
		return aqi.Reading{}, fmt.Errorf("%w: %v", aqi.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("feed request rejected")
		return aqi.Reading{}, fmt.Errorf("%w: unexpected status %d", aqi.ErrTransport, resp.StatusCode)
	}

	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn().Err(err).Msg("feed payload malformed")
		return aqi.Reading{}, fmt.Errorf("%w: %v", aqi.ErrDecode, err)
	}

	reading, err := c.toReading(&payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("feed payload unusable")
		return aqi.Reading{}, err
	}

	c.logger.Debug().Float64("value", reading.Value).Str("observed", reading.TimestampLabel).Msg("feed reading received")
	return reading, nil
}

// buildURL constructs the lookup URL for the configured mode.
func (c *Client) buildURL(p aqi.Params) (string, error) {
	switch c.mode {
	case ModeCity:
		if p.City == "" {
			return "", fmt.Errorf("city lookup requires a city name")
		}
		return fmt.Sprintf("%s/feed/%s/?token=%s", c.baseURL, url.PathEscape(p.City), url.QueryEscape(p.Token)), nil
	default:
		if !p.HasCoordinates() {
			return "", fmt.Errorf("geo lookup requires coordinates")
		}
		return fmt.Sprintf("%s/feed/geo:%f;%f/?token=%s", c.baseURL, *p.Latitude, *p.Longitude, url.QueryEscape(p.Token)), nil
	}
}

// toReading converts the upstream payload to a normalized reading.
func (c *Client) toReading(payload *feedResponse) (aqi.Reading, error) {
	if payload.Status != "" && payload.Status != "ok" {
		return aqi.Reading{}, fmt.Errorf("%w: upstream status %q", aqi.ErrDecode, payload.Status)
	}

	raw := bytes.TrimSpace(payload.Data.AQI)
	if len(raw) == 0 {
		return aqi.Reading{}, aqi.ErrNoData
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		// Stations without data report the string "-".
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return aqi.Reading{}, aqi.ErrNoData
		}
		return aqi.Reading{}, fmt.Errorf("%w: aqi field %s", aqi.ErrDecode, raw)
	}

	reading := aqi.Reading{
		Value:          value,
		TimestampLabel: payload.Data.Time.S,
		Source:         ProviderName,
	}
	if payload.Data.Time.S != "" {
		if observed, err := time.Parse("2006-01-02 15:04:05", payload.Data.Time.S); err == nil {
			reading.ObservedAt = observed
		}
	}
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = time.Now()
	}

	return reading, nil
}
