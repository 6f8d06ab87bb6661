package weather

import "strings"

const (
	rainChanceThreshold = 0.6
	windyThresholdKmh   = 38
	heatThresholdC      = 32
	coldThresholdC      = 5
)

var (
	stormConditions = map[string]struct{}{
		ConditionThunderstorm: {}, "storm": {}, "heavy_storm": {}, ConditionHail: {},
		"typhoon": {}, "hurricane": {}, "tornado": {}, "squall": {},
	}
	snowConditions = map[string]struct{}{
		ConditionSnow: {}, ConditionHeavySnow: {}, ConditionSnowShowers: {}, ConditionSleet: {},
		"blizzard": {}, ConditionFreezingRain: {}, "light_snow": {},
	}
	rainConditions = map[string]struct{}{
		ConditionRain: {}, ConditionLightRain: {}, ConditionHeavyRain: {}, ConditionDrizzle: {},
		ConditionRainShowers: {}, "showers": {},
	}
)

// ResolveTrigger maps a snapshot to exactly one trigger. Rules are evaluated in
// the fixed order storm, snow, rain, windy, heat, cold; clear is the fallback.
func ResolveTrigger(s Snapshot) Trigger {
	condition := strings.ToLower(strings.TrimSpace(s.Condition))
	if _, ok := stormConditions[condition]; ok {
		return TriggerStorm
	}
	if _, ok := snowConditions[condition]; ok {
		return TriggerSnow
	}
	if _, ok := rainConditions[condition]; ok || s.PrecipChance >= rainChanceThreshold {
		return TriggerRain
	}
	if s.WindSpeedKmh >= windyThresholdKmh {
		return TriggerWindy
	}
	felt := s.ApparentC()
	switch {
	case felt >= heatThresholdC:
		return TriggerHeat
	case felt <= coldThresholdC:
		return TriggerCold
	default:
		return TriggerClear
	}
}
