package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/yanqian/weathercards/internal/domain/weather"
)

const (
	defaultBaseURL  = "https://api.open-meteo.com"
	currentFields   = "temperature_2m,apparent_temperature,precipitation_probability,weather_code,wind_speed_10m"
	localTimeLayout = "2006-01-02T15:04"
)

// Config configures the Open-Meteo client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client fetches current conditions from Open-Meteo.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[weather.Snapshot]
}

var _ weather.Provider = (*Client)(nil)

// NewClient builds an API client.
func NewClient(cfg Config) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[weather.Snapshot](gobreaker.Settings{
			Name:        "open-meteo",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
	}
}

// Current returns the conditions at loc right now.
func (c *Client) Current(ctx context.Context, loc weather.Location) (weather.Snapshot, error) {
	return c.breaker.Execute(func() (weather.Snapshot, error) {
		return c.fetch(ctx, loc)
	})
}

func (c *Client) fetch(ctx context.Context, loc weather.Location) (weather.Snapshot, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', 4, 64))
	query.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', 4, 64))
	query.Set("current", currentFields)
	query.Set("wind_speed_unit", "kmh")
	query.Set("timezone", "auto")
	endpoint := c.baseURL + "/v1/forecast?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return weather.Snapshot{}, fmt.Errorf("weather request error: status=%d body=%s", resp.StatusCode, string(payload))
	}

	var raw forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return weather.Snapshot{}, fmt.Errorf("decode weather response: %w", err)
	}
	if raw.Current == nil {
		return weather.Snapshot{}, fmt.Errorf("weather response has no current block")
	}
	return raw.snapshot(), nil
}

type forecastResponse struct {
	Timezone         string          `json:"timezone"`
	UTCOffsetSeconds int             `json:"utc_offset_seconds"`
	Current          *currentWeather `json:"current"`
}

type currentWeather struct {
	Time                     string   `json:"time"`
	Temperature              float64  `json:"temperature_2m"`
	ApparentTemperature      *float64 `json:"apparent_temperature"`
	PrecipitationProbability *float64 `json:"precipitation_probability"`
	WeatherCode              int      `json:"weather_code"`
	WindSpeed                float64  `json:"wind_speed_10m"`
}

func (r forecastResponse) snapshot() weather.Snapshot {
	cur := r.Current
	snap := weather.Snapshot{
		Condition:    conditionForCode(cur.WeatherCode),
		TemperatureC: cur.Temperature,
		FeelsLikeC:   cur.ApparentTemperature,
		WindSpeedKmh: cur.WindSpeed,
		TimeZone:     r.Timezone,
	}
	if cur.PrecipitationProbability != nil {
		snap.PrecipChance = clamp01(*cur.PrecipitationProbability / 100)
	}
	zone := time.FixedZone(r.Timezone, r.UTCOffsetSeconds)
	if ts, err := time.ParseInLocation(localTimeLayout, cur.Time, zone); err == nil {
		snap.CapturedAt = ts.UTC()
	}
	return snap
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
