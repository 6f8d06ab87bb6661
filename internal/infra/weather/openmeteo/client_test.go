package openmeteo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/weathercards/internal/domain/weather"
)

func TestCurrentParsesForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/forecast", r.URL.Path)
		require.Equal(t, "39.9000", r.URL.Query().Get("latitude"))
		require.Equal(t, "116.4000", r.URL.Query().Get("longitude"))
		require.Equal(t, "auto", r.URL.Query().Get("timezone"))
		_, _ = w.Write([]byte(`{
			"timezone": "Asia/Shanghai",
			"utc_offset_seconds": 28800,
			"current": {
				"time": "2024-05-01T10:15",
				"temperature_2m": 18.5,
				"apparent_temperature": 17.0,
				"precipitation_probability": 90,
				"weather_code": 65,
				"wind_speed_10m": 12.4
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	snap, err := client.Current(context.Background(), weather.Location{Lat: 39.9, Lon: 116.4})
	require.NoError(t, err)
	require.Equal(t, weather.ConditionHeavyRain, snap.Condition)
	require.InDelta(t, 18.5, snap.TemperatureC, 1e-9)
	require.NotNil(t, snap.FeelsLikeC)
	require.InDelta(t, 17.0, *snap.FeelsLikeC, 1e-9)
	require.InDelta(t, 0.9, snap.PrecipChance, 1e-9)
	require.InDelta(t, 12.4, snap.WindSpeedKmh, 1e-9)
	require.Equal(t, "Asia/Shanghai", snap.TimeZone)
	require.Equal(t, time.Date(2024, 5, 1, 2, 15, 0, 0, time.UTC), snap.CapturedAt)
	require.Equal(t, weather.TriggerRain, weather.ResolveTrigger(snap))
}

func TestCurrentMissingApparentTemperatureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timezone":"UTC","current":{"time":"2024-01-10T06:00","temperature_2m":-4,"weather_code":0,"wind_speed_10m":3}}`))
	}))
	defer srv.Close()

	snap, err := NewClient(Config{BaseURL: srv.URL}).Current(context.Background(), weather.Location{Lat: 1, Lon: 1})
	require.NoError(t, err)
	require.Nil(t, snap.FeelsLikeC)
	require.InDelta(t, -4.0, snap.ApparentC(), 1e-9)
	require.Zero(t, snap.PrecipChance)
	require.Equal(t, weather.TriggerCold, weather.ResolveTrigger(snap))
}

func TestCurrentBreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, MaxFailures: 2, OpenTimeout: time.Minute})
	for i := 0; i < 4; i++ {
		_, err := client.Current(context.Background(), weather.Location{Lat: 1, Lon: 1})
		require.Error(t, err)
	}
	require.EqualValues(t, 2, hits.Load())
}

func TestConditionForCode(t *testing.T) {
	require.Equal(t, weather.ConditionThunderstorm, conditionForCode(95))
	require.Equal(t, weather.ConditionHail, conditionForCode(99))
	require.Equal(t, weather.ConditionSnowShowers, conditionForCode(86))
	require.Equal(t, weather.ConditionFog, conditionForCode(48))
	require.Equal(t, weather.ConditionUnknown, conditionForCode(42))
}
