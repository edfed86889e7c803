package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
)

func TestDerive(t *testing.T) {
	mild := advice.ForecastDay{Day: "Mon", TempHighC: 28, TempLowC: 14, PrecipitationMM: 2, WindKPH: 10}
	cases := []struct {
		name string
		days []advice.ForecastDay
		want advice.AlertKind
		day  string
	}{
		{"calm week", []advice.ForecastDay{mild, mild}, advice.AlertNone, ""},
		{"heatwave", []advice.ForecastDay{mild, {Day: "Tue", TempHighC: 41}, {Day: "Wed", TempHighC: 44}}, advice.AlertHeatwave, "Wed"},
		{"heavy rain", []advice.ForecastDay{mild, {Day: "Thu", TempLowC: 10, PrecipitationMM: 80}}, advice.AlertHeavyRain, "Thu"},
		{"high winds", []advice.ForecastDay{{Day: "Fri", TempLowC: 10, WindKPH: 65}}, advice.AlertHighWinds, "Fri"},
		{"frost", []advice.ForecastDay{{Day: "Sat", TempLowC: -3}, {Day: "Sun", TempLowC: -1}}, advice.AlertFrost, "Sat"},
		{"heat beats rain", []advice.ForecastDay{{Day: "Mon", TempHighC: 42, TempLowC: 20, PrecipitationMM: 90}}, advice.AlertHeatwave, "Mon"},
		{"empty forecast", nil, advice.AlertNone, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(advice.Forecast{Days: tc.days}, i18n.English)
			assert.Equal(t, tc.want, got.Kind)
			assert.Equal(t, tc.day, got.Day)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestDeriveLocalizes(t *testing.T) {
	f := advice.Forecast{Days: []advice.ForecastDay{{Day: "Lun", TempLowC: -2}}}
	got := Derive(f, i18n.Spanish)
	assert.Contains(t, got.Message, "helada")
	assert.Contains(t, got.Message, "-2")
}
