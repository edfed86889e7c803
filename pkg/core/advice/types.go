// Package advice defines the records the data service returns and the report
// the orchestration engine assembles from them.
package advice

import (
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

// Citation is a source reference passed through from the data service.
type Citation struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// ForecastDay is one day of the weather forecast.
type ForecastDay struct {
	Day             string  `json:"day"`
	Condition       string  `json:"condition"`
	TempHighC       float64 `json:"temp_high_c"`
	TempLowC        float64 `json:"temp_low_c"`
	PrecipitationMM float64 `json:"precipitation_mm"`
	WindKPH         float64 `json:"wind_kph"`
	HumidityPct     float64 `json:"humidity_pct"`
}

// Forecast is the result of the weather fetch.
type Forecast struct {
	Days      []ForecastDay `json:"days"`
	Citations []Citation    `json:"citations,omitempty"`
}

// SoilReport is the result of the soil fetch.
type SoilReport struct {
	NitrogenKgHa   float64    `json:"nitrogen_kg_ha"`
	PhosphorusKgHa float64    `json:"phosphorus_kg_ha"`
	PotassiumKgHa  float64    `json:"potassium_kg_ha"`
	PH             float64    `json:"ph"`
	MoisturePct    float64    `json:"moisture_pct"`
	OrganicCarbon  float64    `json:"organic_carbon_pct"`
	ClayPct        float64    `json:"clay_pct"`
	SandPct        float64    `json:"sand_pct"`
	Texture        string     `json:"texture,omitempty"`
	Citations      []Citation `json:"citations,omitempty"`
}

// SoilProfile is what the soil pipeline derives from the raw report.
type SoilProfile struct {
	Report        SoilReport `json:"report"`
	Acidity       string     `json:"acidity"`
	MoistureLevel string     `json:"moisture_level"`
	Type          string     `json:"type"`
}

// MarketPrice is one commodity quote.
type MarketPrice struct {
	Crop         string  `json:"crop"`
	PricePerQtl  float64 `json:"price_per_quintal"`
	Currency     string  `json:"currency"`
	Trend        string  `json:"trend"`
	ExportDemand bool    `json:"export_demand"`
	ChangePct    float64 `json:"change_pct"`
	MarketName   string  `json:"market,omitempty"`
}

// Market is the result of the market fetch.
type Market struct {
	Prices    []MarketPrice `json:"prices"`
	Citations []Citation    `json:"citations,omitempty"`
}

// MarketOutlook is what the market pipeline derives from the quotes.
type MarketOutlook struct {
	Prices              []MarketPrice `json:"prices"`
	ExportOpportunities []string      `json:"export_opportunities"`
	Citations           []Citation    `json:"citations,omitempty"`
}

// Advice is the synthesized recommendation.
type Advice struct {
	RecommendedCrops   []string   `json:"recommended_crops"`
	SowingPlan         string     `json:"sowing_plan"`
	SoilManagementTips []string   `json:"soil_management_tips"`
	Summary            string     `json:"summary"`
	Citations          []Citation `json:"citations,omitempty"`
}

// SynthesisInput is everything the planner step receives.
type SynthesisInput struct {
	Location string
	Language i18n.Language
	Forecast Forecast
	Soil     SoilProfile
	Market   MarketOutlook
	Alert    Alert
}

// Report is the final outcome of one successful advice request.
type Report struct {
	Location  string        `json:"location"`
	Language  i18n.Language `json:"language"`
	Forecast  Forecast      `json:"forecast"`
	Alert     Alert         `json:"alert"`
	Soil      SoilProfile   `json:"soil"`
	Market    MarketOutlook `json:"market"`
	Advice    Advice        `json:"advice"`
	Citations []Citation    `json:"citations,omitempty"`
}

// MergeCitations concatenates citation lists, dropping duplicate URIs and empty entries.
func MergeCitations(lists ...[]Citation) []Citation {
	seen := make(map[string]struct{})
	var out []Citation
	for _, list := range lists {
		for _, c := range list {
			if c.URI == "" {
				continue
			}
			if _, ok := seen[c.URI]; ok {
				continue
			}
			seen[c.URI] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
