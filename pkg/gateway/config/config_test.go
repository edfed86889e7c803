package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"AGRI_CONFIG_FILE",
	"AGRI_ADDR",
	"AGRI_READ_HEADER_TIMEOUT",
	"AGRI_READ_TIMEOUT",
	"AGRI_SHUTDOWN_GRACE_PERIOD",
	"AGRI_MAX_BODY_BYTES",
	"AGRI_CORS_ORIGINS",
	"AGRI_LANGUAGE",
	"AGRI_PHASE_DELAY",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"AGRI_GEMINI_BASE_URL",
	"AGRI_GEMINI_MODEL",
	"AGRI_GEMINI_SPEECH_MODEL",
	"AGRI_GEMINI_LIVE_MODEL",
	"AGRI_GEMINI_VOICE",
	"AGRI_GEMINI_GROUNDING",
	"AGRI_GEMINI_MAX_RETRIES",
	"AGRI_NARRATOR",
	"AGRI_POLLY_REGION",
	"AWS_REGION",
	"AGRI_POLLY_VOICE",
	"AGRI_POLLY_ENGINE",
	"AGRI_NARRATION_CACHE_SIZE",
	"AGRI_NARRATION_CACHE_TTL",
	"AGRI_AUDIO",
	"AGRI_FRAME_SAMPLES",
	"AGRI_WS_PING_INTERVAL",
	"AGRI_WS_WRITE_TIMEOUT",
	"AGRI_WS_MAX_MESSAGE_BYTES",
	"AGRI_LIMIT_RPS",
	"AGRI_LIMIT_BURST",
	"AGRI_LIMIT_MAX_STREAMS",
	"AGRI_METRICS_NAMESPACE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.Language != "en" {
		t.Fatalf("Language = %q, want en", cfg.Language)
	}
	if cfg.PhaseDelay != 400*time.Millisecond {
		t.Fatalf("PhaseDelay = %v, want 400ms", cfg.PhaseDelay)
	}
	if cfg.Narrator != NarratorGemini {
		t.Fatalf("Narrator = %q, want gemini", cfg.Narrator)
	}
	if cfg.Audio != AudioNull {
		t.Fatalf("Audio = %q, want null", cfg.Audio)
	}
	if !cfg.GeminiGrounding {
		t.Fatalf("GeminiGrounding = false, want true")
	}
	if cfg.FrameSamples != 320 {
		t.Fatalf("FrameSamples = %d, want 320", cfg.FrameSamples)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGRI_ADDR", ":9090")
	t.Setenv("AGRI_LANGUAGE", "hi")
	t.Setenv("AGRI_PHASE_DELAY", "0s")
	t.Setenv("AGRI_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("AGRI_GEMINI_GROUNDING", "off")
	t.Setenv("AGRI_NARRATOR", "POLLY")
	t.Setenv("AWS_REGION", "ap-south-1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Language != "hi" || cfg.PhaseDelay != 0 {
		t.Fatalf("unexpected cfg: addr=%q lang=%q delay=%v", cfg.Addr, cfg.Language, cfg.PhaseDelay)
	}
	if got := strings.Join(cfg.CORSAllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Fatalf("CORSAllowedOrigins = %q", got)
	}
	if cfg.GeminiAPIKey != "google-key" {
		t.Fatalf("GeminiAPIKey = %q, want google-key", cfg.GeminiAPIKey)
	}
	if cfg.GeminiGrounding {
		t.Fatalf("GeminiGrounding = true, want false")
	}
	if cfg.Narrator != NarratorPolly || cfg.PollyRegion != "ap-south-1" {
		t.Fatalf("narrator = %q region = %q", cfg.Narrator, cfg.PollyRegion)
	}
}

func TestLoadFromEnv_Limits(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGRI_LIMIT_RPS", "2.5")
	t.Setenv("AGRI_LIMIT_BURST", "0")
	t.Setenv("AGRI_LIMIT_MAX_STREAMS", "1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.LimitRPS != 2.5 || cfg.LimitBurst != 0 || cfg.LimitMaxStreams != 1 {
		t.Fatalf("limits = %v/%d/%d", cfg.LimitRPS, cfg.LimitBurst, cfg.LimitMaxStreams)
	}

	t.Setenv("AGRI_LIMIT_RPS", "-1")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for negative AGRI_LIMIT_RPS")
	}
}

func TestLoadFromEnv_GeminiKeyPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.GeminiAPIKey != "gemini-key" {
		t.Fatalf("GeminiAPIKey = %q, want gemini-key", cfg.GeminiAPIKey)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"AGRI_LANGUAGE", "fr", "AGRI_LANGUAGE"},
		{"AGRI_NARRATOR", "espeak", "AGRI_NARRATOR"},
		{"AGRI_AUDIO", "pulse", "AGRI_AUDIO"},
		{"AGRI_PHASE_DELAY", "-1s", "AGRI_PHASE_DELAY"},
		{"AGRI_FRAME_SAMPLES", "0", "AGRI_FRAME_SAMPLES"},
		{"AGRI_WS_PING_INTERVAL", "0s", "AGRI_WS_PING_INTERVAL"},
		{"AGRI_MAX_BODY_BYTES", "-5", "AGRI_MAX_BODY_BYTES"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_UnparseableFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGRI_FRAME_SAMPLES", "lots")
	t.Setenv("AGRI_PHASE_DELAY", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.FrameSamples != 320 || cfg.PhaseDelay != 400*time.Millisecond {
		t.Fatalf("frame=%d delay=%v, want defaults", cfg.FrameSamples, cfg.PhaseDelay)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "agrivoice.yaml")
	data := `addr: ":7000"
language: es
phase_delay: 250ms
narrator: none
cors_allowed_origins:
  - https://farm.example
gemini_model: gemini-test
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGRI_ADDR", ":7001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":7001" {
		t.Fatalf("Addr = %q, want env override :7001", cfg.Addr)
	}
	if cfg.Language != "es" || cfg.PhaseDelay != 250*time.Millisecond || cfg.Narrator != NarratorNone {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.GeminiModel != "gemini-test" {
		t.Fatalf("GeminiModel = %q", cfg.GeminiModel)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "https://farm.example" {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.FrameSamples != 320 {
		t.Fatalf("FrameSamples = %d, want default kept", cfg.FrameSamples)
	}
}

func TestLoad_FileFromEnvVar(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("language: hi\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGRI_CONFIG_FILE", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Language != "hi" {
		t.Fatalf("Language = %q, want hi", cfg.Language)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
