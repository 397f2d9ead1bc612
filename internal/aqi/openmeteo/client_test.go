package openmeteo_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezebar/breezebar/internal/aqi"
	"github.com/breezebar/breezebar/internal/aqi/openmeteo"
)

func seriesServer(t *testing.T, times []string, values []*float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/air-quality", r.URL.Path)
		assert.Equal(t, "us_aqi", r.URL.Query().Get("hourly"))
		assert.Equal(t, "auto", r.URL.Query().Get("timezone"))
		assert.Equal(t, "2", r.URL.Query().Get("past_hours"))
		assert.Equal(t, "2", r.URL.Query().Get("forecast_hours"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"hourly": map[string]interface{}{
				"time":   times,
				"us_aqi": values,
			},
		})
	}))
}

func newClient(t *testing.T, url string, now time.Time) *openmeteo.Client {
	t.Helper()
	return openmeteo.NewClient(openmeteo.ClientConfig{
		BaseURL:    url,
		HTTPClient: http.DefaultClient,
		Now:        func() time.Time { return now },
	})
}

func fetch(t *testing.T, c *openmeteo.Client) (aqi.Reading, error) {
	t.Helper()
	lat, lon := 52.370216, 4.895168
	return c.Fetch(context.Background(), aqi.Params{Latitude: &lat, Longitude: &lon})
}

func ptr(v float64) *float64 { return &v }

func TestClient_SelectsLatestPastSample(t *testing.T) {
	server := seriesServer(t,
		[]string{"2024-01-01T10:00", "2024-01-01T11:00", "2024-01-01T12:00"},
		[]*float64{ptr(10), ptr(20), ptr(30)},
	)
	defer server.Close()

	now := time.Date(2024, 1, 1, 11, 30, 0, 0, time.Local)
	reading, err := fetch(t, newClient(t, server.URL, now))
	require.NoError(t, err)

	assert.Equal(t, 20.0, reading.Value, "latest timestamp not after now")
	assert.Equal(t, "2024-01-01T11:00", reading.TimestampLabel)
	assert.Equal(t, openmeteo.ProviderName, reading.Source)
}

func TestClient_AllFutureSelectsFirst(t *testing.T) {
	server := seriesServer(t,
		[]string{"2024-01-01T10:00", "2024-01-01T11:00", "2024-01-01T12:00"},
		[]*float64{ptr(10), ptr(20), ptr(30)},
	)
	defer server.Close()

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local)
	reading, err := fetch(t, newClient(t, server.URL, now))
	require.NoError(t, err)

	assert.Equal(t, 10.0, reading.Value)
}

func TestClient_NullsAreMissingAtIndex(t *testing.T) {
	// The sample for 11:00 is null; selection falls back to 10:00 rather
	// than failing the whole payload.
	server := seriesServer(t,
		[]string{"2024-01-01T10:00", "2024-01-01T11:00", "2024-01-01T12:00"},
		[]*float64{ptr(10), nil, ptr(30)},
	)
	defer server.Close()

	now := time.Date(2024, 1, 1, 11, 30, 0, 0, time.Local)
	reading, err := fetch(t, newClient(t, server.URL, now))
	require.NoError(t, err)

	assert.Equal(t, 10.0, reading.Value)
}

func TestClient_UnparseableTimestampsFallBackToLast(t *testing.T) {
	server := seriesServer(t,
		[]string{"garbage", "also garbage"},
		[]*float64{ptr(10), ptr(20)},
	)
	defer server.Close()

	reading, err := fetch(t, newClient(t, server.URL, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, 20.0, reading.Value)
	assert.False(t, reading.ObservedAt.IsZero(), "unparsed timestamps fall back to the fetch time")
}

func TestClient_AllNullIsNoData(t *testing.T) {
	server := seriesServer(t,
		[]string{"2024-01-01T10:00", "2024-01-01T11:00"},
		[]*float64{nil, nil},
	)
	defer server.Close()

	_, err := fetch(t, newClient(t, server.URL, time.Now()))
	assert.ErrorIs(t, err, aqi.ErrNoData)
}

func TestClient_EmptySeriesIsNoData(t *testing.T) {
	server := seriesServer(t, []string{}, []*float64{})
	defer server.Close()

	_, err := fetch(t, newClient(t, server.URL, time.Now()))
	assert.ErrorIs(t, err, aqi.ErrNoData)
}

func TestClient_TransportErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := fetch(t, newClient(t, server.URL, time.Now()))
	assert.ErrorIs(t, err, aqi.ErrTransport)
}

func TestClient_DecodeErrorOnBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	_, err := fetch(t, newClient(t, server.URL, time.Now()))
	assert.ErrorIs(t, err, aqi.ErrDecode)
}

func TestClient_LogsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var buf bytes.Buffer
	client := openmeteo.NewClient(openmeteo.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: http.DefaultClient,
		Logger:     zerolog.New(&buf),
	})

	_, err := fetch(t, client)
	require.ErrorIs(t, err, aqi.ErrTransport)
	assert.Contains(t, buf.String(), "air quality request rejected")
	assert.Contains(t, buf.String(), "502")
}

func TestClient_MissingCoordinates(t *testing.T) {
	client := openmeteo.NewClient(openmeteo.ClientConfig{HTTPClient: http.DefaultClient})
	_, err := client.Fetch(context.Background(), aqi.Params{})
	require.Error(t, err)
}
