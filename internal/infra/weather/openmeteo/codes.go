package openmeteo

import "github.com/yanqian/weathercards/internal/domain/weather"

// conditionForCode maps a WMO weather interpretation code to a condition.
func conditionForCode(code int) string {
	switch code {
	case 0, 1:
		return weather.ConditionClear
	case 2:
		return weather.ConditionPartlyCloudy
	case 3:
		return weather.ConditionCloudy
	case 45, 48:
		return weather.ConditionFog
	case 51, 53, 55:
		return weather.ConditionDrizzle
	case 56, 57, 66, 67:
		return weather.ConditionFreezingRain
	case 61:
		return weather.ConditionLightRain
	case 63:
		return weather.ConditionRain
	case 65, 82:
		return weather.ConditionHeavyRain
	case 80, 81:
		return weather.ConditionRainShowers
	case 71, 73, 77:
		return weather.ConditionSnow
	case 75:
		return weather.ConditionHeavySnow
	case 85, 86:
		return weather.ConditionSnowShowers
	case 95:
		return weather.ConditionThunderstorm
	case 96, 99:
		return weather.ConditionHail
	default:
		return weather.ConditionUnknown
	}
}
