package advice

import (
	"fmt"
	"strings"
)

// Target is a narratable section of a report.
type Target string

const (
	TargetWeather Target = "weather"
	TargetSoil    Target = "soil"
	TargetMarket  Target = "market"
	TargetPlanner Target = "planner"
)

// Targets lists every narratable section in display order.
var Targets = []Target{TargetWeather, TargetSoil, TargetMarket, TargetPlanner}

// ParseTarget validates s as a Target.
func ParseTarget(s string) (Target, bool) {
	t := Target(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Targets {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// NarrationText renders the text read aloud for one section of r.
// It returns "" when the section has nothing to say.
func NarrationText(r *Report, t Target) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	switch t {
	case TargetWeather:
		if len(r.Forecast.Days) == 0 {
			return ""
		}
		fmt.Fprintf(&b, "Weather for %s. ", r.Location)
		for _, d := range r.Forecast.Days {
			fmt.Fprintf(&b, "%s: %s, high %.0f, low %.0f degrees. ", d.Day, d.Condition, d.TempHighC, d.TempLowC)
		}
		if r.Alert.Message != "" {
			b.WriteString(r.Alert.Message)
		}
	case TargetSoil:
		s := r.Soil
		if s.Type == "" {
			return ""
		}
		fmt.Fprintf(&b, "The soil is %s, %s with pH %.1f, and %s moisture at %.0f percent. ",
			s.Type, s.Acidity, s.Report.PH, s.MoistureLevel, s.Report.MoisturePct)
		fmt.Fprintf(&b, "Nitrogen %.0f, phosphorus %.0f, potassium %.0f kilograms per hectare.",
			s.Report.NitrogenKgHa, s.Report.PhosphorusKgHa, s.Report.PotassiumKgHa)
	case TargetMarket:
		if len(r.Market.Prices) == 0 {
			return ""
		}
		for _, p := range r.Market.Prices {
			fmt.Fprintf(&b, "%s at %.0f %s per quintal, trend %s. ", p.Crop, p.PricePerQtl, p.Currency, p.Trend)
		}
		if len(r.Market.ExportOpportunities) > 0 {
			fmt.Fprintf(&b, "Export opportunities: %s.", strings.Join(r.Market.ExportOpportunities, ", "))
		}
	case TargetPlanner:
		return strings.TrimSpace(r.Advice.Summary)
	default:
		return ""
	}
	return strings.TrimSpace(b.String())
}
