package orchestrator

import (
	"fmt"
	"math"
	"strings"

	"github.com/vango-go/agrivoice/pkg/core/advice"
)

// profileSoil classifies acidity and moisture. It fails on readings no soil can have.
func profileSoil(r advice.SoilReport) (advice.SoilProfile, error) {
	if r.PH <= 0 || r.PH > 14 || math.IsNaN(r.PH) {
		return advice.SoilProfile{}, fmt.Errorf("implausible soil pH %.2f", r.PH)
	}
	if r.MoisturePct < 0 || r.MoisturePct > 100 {
		return advice.SoilProfile{}, fmt.Errorf("implausible soil moisture %.1f%%", r.MoisturePct)
	}
	p := advice.SoilProfile{Report: r}
	switch {
	case r.PH < 5.5:
		p.Acidity = "strongly acidic"
	case r.PH < 6.5:
		p.Acidity = "slightly acidic"
	case r.PH <= 7.5:
		p.Acidity = "neutral"
	case r.PH <= 8.5:
		p.Acidity = "slightly alkaline"
	default:
		p.Acidity = "strongly alkaline"
	}
	switch {
	case r.MoisturePct < 15:
		p.MoistureLevel = "low"
	case r.MoisturePct <= 35:
		p.MoistureLevel = "adequate"
	default:
		p.MoistureLevel = "high"
	}
	return p, nil
}

// soilType picks the texture class, preferring the reported one.
func soilType(r advice.SoilReport) string {
	if t := strings.TrimSpace(r.Texture); t != "" {
		return strings.ToLower(t)
	}
	switch {
	case r.SandPct >= 70:
		return "sandy"
	case r.ClayPct >= 40:
		return "clay"
	case r.ClayPct >= 27:
		return "clay loam"
	case r.SandPct >= 43 && r.ClayPct < 20:
		return "sandy loam"
	default:
		return "loam"
	}
}

// exportOpportunities lists crops with export demand or a strong rising
// trend. An empty market yields an empty list, not an error.
func exportOpportunities(prices []advice.MarketPrice) []string {
	out := make([]string, 0, len(prices))
	for _, p := range prices {
		rising := strings.EqualFold(p.Trend, "rising") && p.ChangePct >= 5
		if p.ExportDemand || rising {
			out = append(out, p.Crop)
		}
	}
	return out
}
