package weather

import (
	"math"
	"time"
)

// Location is a point on the map. The zero value is the "unset" sentinel.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsSet reports whether the location carries real coordinates.
func (l Location) IsSet() bool {
	return !(l.Lat == 0 && l.Lon == 0)
}

// Valid reports whether the coordinates are set and within range.
func (l Location) Valid() bool {
	if !l.IsSet() || math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Snapshot is a normalized view of current conditions at one location.
type Snapshot struct {
	Condition    string    `json:"condition"`
	TemperatureC float64   `json:"temperatureC"`
	// FeelsLikeC is nil when the provider reports no apparent temperature.
	FeelsLikeC   *float64  `json:"feelsLikeC,omitempty"`
	PrecipChance float64   `json:"precipChance"`
	WindSpeedKmh float64   `json:"windSpeedKmh"`
	CapturedAt   time.Time `json:"capturedAt"`
	// TimeZone is the IANA zone reported by the provider for the location.
	TimeZone string `json:"timeZone,omitempty"`
	Stale    bool   `json:"stale,omitempty"`
}

// ApparentC returns the felt temperature, falling back to the air
// temperature when none was reported.
func (s Snapshot) ApparentC() float64 {
	if s.FeelsLikeC != nil {
		return *s.FeelsLikeC
	}
	return s.TemperatureC
}

// Trigger is the weather situation a card group is written for.
type Trigger string

const (
	TriggerStorm Trigger = "storm"
	TriggerSnow  Trigger = "snow"
	TriggerRain  Trigger = "rain"
	TriggerWindy Trigger = "windy"
	TriggerHeat  Trigger = "heat"
	TriggerCold  Trigger = "cold"
	TriggerClear Trigger = "clear"
)

// Triggers lists every trigger in precedence order.
var Triggers = []Trigger{TriggerStorm, TriggerSnow, TriggerRain, TriggerWindy, TriggerHeat, TriggerCold, TriggerClear}

// Valid reports whether t is one of the known triggers.
func (t Trigger) Valid() bool {
	for _, known := range Triggers {
		if t == known {
			return true
		}
	}
	return false
}

// Condition codes produced by providers.
const (
	ConditionClear        = "clear"
	ConditionPartlyCloudy = "partly_cloudy"
	ConditionCloudy       = "cloudy"
	ConditionFog          = "fog"
	ConditionDrizzle      = "drizzle"
	ConditionLightRain    = "light_rain"
	ConditionRain         = "rain"
	ConditionHeavyRain    = "heavy_rain"
	ConditionRainShowers  = "rain_showers"
	ConditionFreezingRain = "freezing_rain"
	ConditionSnow         = "snow"
	ConditionHeavySnow    = "heavy_snow"
	ConditionSnowShowers  = "snow_showers"
	ConditionSleet        = "sleet"
	ConditionThunderstorm = "thunderstorm"
	ConditionHail         = "hail"
	ConditionUnknown      = "unknown"
)
