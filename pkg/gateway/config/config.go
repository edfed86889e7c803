package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type NarratorKind string

const (
	NarratorGemini NarratorKind = "gemini"
	NarratorPolly  NarratorKind = "polly"
	NarratorNone   NarratorKind = "none"
)

type AudioOutput string

const (
	// AudioNull drives the playback clock in real time with no device.
	AudioNull   AudioOutput = "null"
	AudioDevice AudioOutput = "device"
)

type Config struct {
	Addr                string        `yaml:"addr"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
	MaxBodyBytes        int64         `yaml:"max_body_bytes"`

	// CORS; empty disables it.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	Language   string        `yaml:"language"`
	PhaseDelay time.Duration `yaml:"phase_delay"`

	GeminiAPIKey      string `yaml:"gemini_api_key"`
	GeminiBaseURL     string `yaml:"gemini_base_url"`
	GeminiModel       string `yaml:"gemini_model"`
	GeminiSpeechModel string `yaml:"gemini_speech_model"`
	GeminiLiveModel   string `yaml:"gemini_live_model"`
	GeminiVoice       string `yaml:"gemini_voice"`
	GeminiGrounding   bool   `yaml:"gemini_grounding"`
	GeminiMaxRetries  int    `yaml:"gemini_max_retries"`

	Narrator           NarratorKind  `yaml:"narrator"`
	PollyRegion        string        `yaml:"polly_region"`
	PollyVoice         string        `yaml:"polly_voice"`
	PollyEngine        string        `yaml:"polly_engine"`
	NarrationCacheSize int           `yaml:"narration_cache_size"`
	NarrationCacheTTL  time.Duration `yaml:"narration_cache_ttl"`

	Audio        AudioOutput `yaml:"audio"`
	FrameSamples int         `yaml:"frame_samples"`

	// WebSocket state stream (/v1/stream).
	WSPingInterval    time.Duration `yaml:"ws_ping_interval"`
	WSWriteTimeout    time.Duration `yaml:"ws_write_timeout"`
	WSMaxMessageBytes int64         `yaml:"ws_max_message_bytes"`

	// Per-client limits; zero disables each.
	LimitRPS        float64 `yaml:"limit_rps"`
	LimitBurst      int     `yaml:"limit_burst"`
	LimitMaxStreams int     `yaml:"limit_max_streams"`

	MetricsNamespace string `yaml:"metrics_namespace"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:                ":8080",
		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
		ShutdownGracePeriod: 30 * time.Second,
		MaxBodyBytes:        64 << 10,
		Language:            "en",
		PhaseDelay:          400 * time.Millisecond,
		GeminiGrounding:     true,
		GeminiMaxRetries:    2,
		Narrator:            NarratorGemini,
		PollyRegion:         "us-east-1",
		PollyEngine:         "neural",
		NarrationCacheSize:  64,
		NarrationCacheTTL:   30 * time.Minute,
		Audio:               AudioNull,
		FrameSamples:        320,
		WSPingInterval:      20 * time.Second,
		WSWriteTimeout:      5 * time.Second,
		WSMaxMessageBytes:   16 << 10,
		LimitRPS:            1,
		LimitBurst:          5,
		LimitMaxStreams:     4,
		MetricsNamespace:    "agrivoice",
	}
}

// Load layers defaults, the YAML file at path (if non-empty), and the
// environment, then validates the result. AGRI_CONFIG_FILE names the file
// when path is empty.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = strings.TrimSpace(os.Getenv("AGRI_CONFIG_FILE"))
	}
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config from %q: %w", path, err)
		}
		if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
			return Config{}, fmt.Errorf("parse config from %q: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv is Load without a file.
func LoadFromEnv() (Config, error) {
	return Load("")
}

func applyEnv(cfg *Config) {
	cfg.Addr = envOr("AGRI_ADDR", cfg.Addr)
	cfg.ReadHeaderTimeout = envDurationOr("AGRI_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = envDurationOr("AGRI_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("AGRI_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)
	cfg.MaxBodyBytes = envInt64Or("AGRI_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	if origins := splitCSV(os.Getenv("AGRI_CORS_ORIGINS")); len(origins) > 0 {
		cfg.CORSAllowedOrigins = origins
	}

	cfg.Language = envOr("AGRI_LANGUAGE", cfg.Language)
	cfg.PhaseDelay = envDurationOr("AGRI_PHASE_DELAY", cfg.PhaseDelay)

	cfg.GeminiAPIKey = envOr("GEMINI_API_KEY", envOr("GOOGLE_API_KEY", cfg.GeminiAPIKey))
	cfg.GeminiBaseURL = envOr("AGRI_GEMINI_BASE_URL", cfg.GeminiBaseURL)
	cfg.GeminiModel = envOr("AGRI_GEMINI_MODEL", cfg.GeminiModel)
	cfg.GeminiSpeechModel = envOr("AGRI_GEMINI_SPEECH_MODEL", cfg.GeminiSpeechModel)
	cfg.GeminiLiveModel = envOr("AGRI_GEMINI_LIVE_MODEL", cfg.GeminiLiveModel)
	cfg.GeminiVoice = envOr("AGRI_GEMINI_VOICE", cfg.GeminiVoice)
	cfg.GeminiGrounding = envBoolOr("AGRI_GEMINI_GROUNDING", cfg.GeminiGrounding)
	cfg.GeminiMaxRetries = envIntOr("AGRI_GEMINI_MAX_RETRIES", cfg.GeminiMaxRetries)

	cfg.Narrator = NarratorKind(strings.ToLower(envOr("AGRI_NARRATOR", string(cfg.Narrator))))
	cfg.PollyRegion = envOr("AGRI_POLLY_REGION", envOr("AWS_REGION", cfg.PollyRegion))
	cfg.PollyVoice = envOr("AGRI_POLLY_VOICE", cfg.PollyVoice)
	cfg.PollyEngine = envOr("AGRI_POLLY_ENGINE", cfg.PollyEngine)
	cfg.NarrationCacheSize = envIntOr("AGRI_NARRATION_CACHE_SIZE", cfg.NarrationCacheSize)
	cfg.NarrationCacheTTL = envDurationOr("AGRI_NARRATION_CACHE_TTL", cfg.NarrationCacheTTL)

	cfg.Audio = AudioOutput(strings.ToLower(envOr("AGRI_AUDIO", string(cfg.Audio))))
	cfg.FrameSamples = envIntOr("AGRI_FRAME_SAMPLES", cfg.FrameSamples)

	cfg.WSPingInterval = envDurationOr("AGRI_WS_PING_INTERVAL", cfg.WSPingInterval)
	cfg.WSWriteTimeout = envDurationOr("AGRI_WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	cfg.WSMaxMessageBytes = envInt64Or("AGRI_WS_MAX_MESSAGE_BYTES", cfg.WSMaxMessageBytes)

	cfg.LimitRPS = envFloatOr("AGRI_LIMIT_RPS", cfg.LimitRPS)
	cfg.LimitBurst = envIntOr("AGRI_LIMIT_BURST", cfg.LimitBurst)
	cfg.LimitMaxStreams = envIntOr("AGRI_LIMIT_MAX_STREAMS", cfg.LimitMaxStreams)

	cfg.MetricsNamespace = envOr("AGRI_METRICS_NAMESPACE", cfg.MetricsNamespace)
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	switch cfg.Language {
	case "en", "hi", "es":
	default:
		return fmt.Errorf("AGRI_LANGUAGE must be one of en|hi|es")
	}
	switch cfg.Narrator {
	case NarratorGemini, NarratorPolly, NarratorNone:
	default:
		return fmt.Errorf("AGRI_NARRATOR must be one of gemini|polly|none")
	}
	switch cfg.Audio {
	case AudioNull, AudioDevice:
	default:
		return fmt.Errorf("AGRI_AUDIO must be one of null|device")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("AGRI_ADDR must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("AGRI_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("AGRI_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("AGRI_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("AGRI_MAX_BODY_BYTES must be > 0")
	}
	if cfg.PhaseDelay < 0 {
		return fmt.Errorf("AGRI_PHASE_DELAY must be >= 0")
	}
	if cfg.GeminiMaxRetries < 0 {
		return fmt.Errorf("AGRI_GEMINI_MAX_RETRIES must be >= 0")
	}
	if cfg.NarrationCacheSize < 0 {
		return fmt.Errorf("AGRI_NARRATION_CACHE_SIZE must be >= 0")
	}
	if cfg.NarrationCacheTTL < 0 {
		return fmt.Errorf("AGRI_NARRATION_CACHE_TTL must be >= 0")
	}
	if cfg.FrameSamples <= 0 {
		return fmt.Errorf("AGRI_FRAME_SAMPLES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return fmt.Errorf("AGRI_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return fmt.Errorf("AGRI_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("AGRI_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 || cfg.LimitBurst < 0 || cfg.LimitMaxStreams < 0 {
		return fmt.Errorf("AGRI_LIMIT_* values must be >= 0")
	}
	if strings.TrimSpace(cfg.MetricsNamespace) == "" {
		return fmt.Errorf("AGRI_METRICS_NAMESPACE must not be empty")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloatOr(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
