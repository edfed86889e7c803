// Package i18n holds the small set of user-facing strings the advisor speaks or shows.
package i18n

import (
	"fmt"
	"strings"
)

// Language is a BCP-47-ish short code.
type Language string

const (
	English Language = "en"
	Hindi   Language = "hi"
	Spanish Language = "es"
)

// Key identifies a catalog message.
type Key string

const (
	KeyAnalyzing       Key = "analyzing"
	KeyToolApology     Key = "tool_apology"
	KeyFetchFailed     Key = "fetch_failed"
	KeySynthesisFailed Key = "synthesis_failed"
	KeyAlertHeatwave   Key = "alert_heatwave"
	KeyAlertHeavyRain  Key = "alert_heavy_rain"
	KeyAlertHighWinds  Key = "alert_high_winds"
	KeyAlertFrost      Key = "alert_frost"
	KeyAlertNone       Key = "alert_none"
	KeyPipelineError   Key = "pipeline_error"
)

var catalog = map[Language]map[Key]string{
	English: {
		KeyAnalyzing:       "Now analyzing farming conditions for %s...",
		KeyToolApology:     "I'm sorry, I couldn't fetch farming advice for that location right now. Please try again in a moment.",
		KeyFetchFailed:     "Could not gather %s data. Please try again.",
		KeySynthesisFailed: "Could not build a farming plan from the gathered data.",
		KeyAlertHeatwave:   "Heatwave expected: daytime highs up to %.0f°C. Irrigate early and shade seedlings.",
		KeyAlertHeavyRain:  "Heavy rain expected: up to %.0f mm in a day. Clear drainage channels.",
		KeyAlertHighWinds:  "High winds expected: gusts up to %.0f km/h. Stake tall crops.",
		KeyAlertFrost:      "Frost risk: lows down to %.0f°C. Cover sensitive plants overnight.",
		KeyAlertNone:       "No severe weather expected this week.",
		KeyPipelineError:   "Failed",
	},
	Hindi: {
		KeyAnalyzing:       "%s के लिए खेती की स्थिति का विश्लेषण किया जा रहा है...",
		KeyToolApology:     "क्षमा करें, मैं अभी इस स्थान के लिए खेती की सलाह नहीं ला सका। कृपया थोड़ी देर बाद फिर से प्रयास करें।",
		KeyFetchFailed:     "%s डेटा प्राप्त नहीं हो सका। कृपया पुनः प्रयास करें।",
		KeySynthesisFailed: "एकत्रित डेटा से खेती की योजना नहीं बन सकी।",
		KeyAlertHeatwave:   "लू की संभावना: दिन का तापमान %.0f°C तक। सुबह जल्दी सिंचाई करें।",
		KeyAlertHeavyRain:  "भारी बारिश की संभावना: एक दिन में %.0f मिमी तक। जल निकासी साफ रखें।",
		KeyAlertHighWinds:  "तेज़ हवाओं की संभावना: %.0f किमी/घंटा तक। ऊँची फसलों को सहारा दें।",
		KeyAlertFrost:      "पाले का खतरा: न्यूनतम तापमान %.0f°C तक। संवेदनशील पौधों को ढकें।",
		KeyAlertNone:       "इस सप्ताह कोई गंभीर मौसम अपेक्षित नहीं है।",
		KeyPipelineError:   "विफल",
	},
	Spanish: {
		KeyAnalyzing:       "Analizando las condiciones agrícolas para %s...",
		KeyToolApology:     "Lo siento, no pude obtener recomendaciones agrícolas para esa ubicación en este momento. Inténtalo de nuevo en un momento.",
		KeyFetchFailed:     "No se pudieron obtener los datos de %s. Inténtalo de nuevo.",
		KeySynthesisFailed: "No se pudo elaborar un plan agrícola con los datos obtenidos.",
		KeyAlertHeatwave:   "Ola de calor prevista: máximas de hasta %.0f°C. Riega temprano y sombrea los plantones.",
		KeyAlertHeavyRain:  "Lluvias intensas previstas: hasta %.0f mm en un día. Despeja los canales de drenaje.",
		KeyAlertHighWinds:  "Vientos fuertes previstos: rachas de hasta %.0f km/h. Asegura los cultivos altos.",
		KeyAlertFrost:      "Riesgo de helada: mínimas de hasta %.0f°C. Cubre las plantas sensibles por la noche.",
		KeyAlertNone:       "No se espera clima severo esta semana.",
		KeyPipelineError:   "Error",
	},
}

var names = map[Language]string{
	English: "English",
	Hindi:   "Hindi",
	Spanish: "Spanish",
}

// Parse normalizes s to a supported language. ok is false for unknown codes.
func Parse(s string) (Language, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	lang := Language(s)
	_, ok := catalog[lang]
	return lang, ok
}

// Supported reports whether l has a catalog.
func (l Language) Supported() bool {
	_, ok := catalog[l]
	return ok
}

// Name is the English name of the language, used in model prompts.
func (l Language) Name() string {
	if n, ok := names[l]; ok {
		return n
	}
	return names[English]
}

// Text formats the message for key in l, falling back to English.
func (l Language) Text(key Key, args ...any) string {
	msgs, ok := catalog[l]
	if !ok {
		msgs = catalog[English]
	}
	format, ok := msgs[key]
	if !ok {
		format = catalog[English][key]
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
