package advice

// AlertKind classifies the most severe weather risk in a forecast.
type AlertKind string

const (
	AlertNone      AlertKind = "none"
	AlertHeatwave  AlertKind = "heatwave"
	AlertHeavyRain AlertKind = "heavy_rain"
	AlertHighWinds AlertKind = "high_winds"
	AlertFrost     AlertKind = "frost"
)

// Alert is derived from the forecast once per request.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	Day     string    `json:"day,omitempty"`
}

// Severe reports whether the alert calls for action.
func (a Alert) Severe() bool {
	return a.Kind != "" && a.Kind != AlertNone
}
