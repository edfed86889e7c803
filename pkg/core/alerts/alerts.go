// Package alerts derives the weather alert shown with a forecast.
package alerts

import (
	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// Thresholds are inclusive.
type Thresholds struct {
	HeatwaveHighC float64
	HeavyRainMM   float64
	HighWindKPH   float64
	FrostLowC     float64
}

// DefaultThresholds are agronomic rules of thumb.
var DefaultThresholds = Thresholds{
	HeatwaveHighC: 40,
	HeavyRainMM:   50,
	HighWindKPH:   50,
	FrostLowC:     0,
}

// Derive returns the most severe alert in f, localized to lang.
// Precedence is heatwave, heavy rain, high winds, then frost; within a kind the
// most extreme day wins.
func Derive(f advice.Forecast, lang i18n.Language) advice.Alert {
	return DefaultThresholds.Derive(f, lang)
}

// Derive is Derive with custom thresholds.
func (t Thresholds) Derive(f advice.Forecast, lang i18n.Language) advice.Alert {
	var heat, rain, wind, frost *advice.ForecastDay
	for i := range f.Days {
		d := &f.Days[i]
		if d.TempHighC >= t.HeatwaveHighC && (heat == nil || d.TempHighC > heat.TempHighC) {
			heat = d
		}
		if d.PrecipitationMM >= t.HeavyRainMM && (rain == nil || d.PrecipitationMM > rain.PrecipitationMM) {
			rain = d
		}
		if d.WindKPH >= t.HighWindKPH && (wind == nil || d.WindKPH > wind.WindKPH) {
			wind = d
		}
		if d.TempLowC <= t.FrostLowC && (frost == nil || d.TempLowC < frost.TempLowC) {
			frost = d
		}
	}

	switch {
	case heat != nil:
		return advice.Alert{Kind: advice.AlertHeatwave, Day: heat.Day, Message: lang.Text(i18n.KeyAlertHeatwave, heat.TempHighC)}
	case rain != nil:
		return advice.Alert{Kind: advice.AlertHeavyRain, Day: rain.Day, Message: lang.Text(i18n.KeyAlertHeavyRain, rain.PrecipitationMM)}
	case wind != nil:
		return advice.Alert{Kind: advice.AlertHighWinds, Day: wind.Day, Message: lang.Text(i18n.KeyAlertHighWinds, wind.WindKPH)}
	case frost != nil:
		return advice.Alert{Kind: advice.AlertFrost, Day: frost.Day, Message: lang.Text(i18n.KeyAlertFrost, frost.TempLowC)}
	default:
		return advice.Alert{Kind: advice.AlertNone, Message: lang.Text(i18n.KeyAlertNone)}
	}
}
