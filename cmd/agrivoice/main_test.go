package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
	"github.com/vango-go/agrivoice/pkg/core/live"
	"github.com/vango-go/agrivoice/pkg/gateway/config"
	"github.com/vango-go/agrivoice/pkg/metrics"
	"github.com/vango-go/agrivoice/pkg/providers/cached"
	"github.com/vango-go/agrivoice/pkg/providers/gemini"
	"github.com/vango-go/agrivoice/pkg/providers/polly"
)

type stubService struct{}

func (stubService) FetchForecast(context.Context, string, i18n.Language) (advice.Forecast, error) {
	return advice.Forecast{Days: []advice.ForecastDay{{Day: "Thu", Condition: "Humid", TempHighC: 32, TempLowC: 24}}}, nil
}

func (stubService) FetchSoil(context.Context, string, i18n.Language) (advice.SoilReport, error) {
	return advice.SoilReport{PH: 5.9, MoisturePct: 40, Texture: "laterite"}, nil
}

func (stubService) FetchMarket(context.Context, string, i18n.Language) (advice.Market, error) {
	return advice.Market{Prices: []advice.MarketPrice{{Crop: "Paddy", PricePerQtl: 2183, Currency: "INR", Trend: "stable"}}}, nil
}

func (stubService) Synthesize(_ context.Context, in advice.SynthesisInput) (advice.Advice, error) {
	return advice.Advice{
		RecommendedCrops:   []string{"Paddy", "Cashew"},
		SowingPlan:         "Transplant paddy after the first heavy rain.",
		SoilManagementTips: []string{"Add lime to raise pH."},
		Summary:            "Grow paddy in " + in.Location + ".",
	}, nil
}

func testDeps(t *testing.T, stdout, stderr io.Writer) cliDeps {
	t.Helper()
	return cliDeps{
		loadConfig: func(string) (config.Config, error) {
			cfg := config.Defaults()
			cfg.GeminiAPIKey = "test"
			cfg.Addr = "127.0.0.1:0"
			cfg.ShutdownGracePeriod = time.Second
			cfg.Narrator = config.NarratorNone
			return cfg, nil
		},
		newRuntime: func(_ context.Context, cfg config.Config, opts runtimeOptions) (*runtime, error) {
			m := metrics.New(cfg.MetricsNamespace)
			adv, err := app.New(app.Dependencies{Service: stubService{}, Logger: opts.Logger, Metrics: m})
			if err != nil {
				return nil, err
			}
			return &runtime{Advisor: adv, Metrics: m}, nil
		},
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
		stdout:       stdout,
		stderr:       stderr,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	deps := testDeps(t, io.Discard, &stderr)
	deps.loadConfig = func(string) (config.Config, error) {
		return config.Config{}, errors.New("boom")
	}
	deps.newRuntime = func(context.Context, config.Config, runtimeOptions) (*runtime, error) {
		t.Fatalf("newRuntime should not be called when config load fails")
		return nil, nil
	}

	if code := runMain(context.Background(), []string{"serve"}, deps); code != 1 {
		t.Fatalf("exitCode=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "load config: boom") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.Equal(t, cfg.Addr, srv.Addr)
	assert.Equal(t, cfg.ReadHeaderTimeout, srv.ReadHeaderTimeout)
	assert.Equal(t, cfg.ReadTimeout, srv.ReadTimeout)
}

func TestRunServe_StopsOnContextCancel(t *testing.T) {
	var stderr bytes.Buffer
	deps := testDeps(t, io.Discard, &stderr)
	cfg, _ := deps.loadConfig("")
	logger := slog.New(slog.NewTextHandler(&stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, false, logger, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return")
	}
	assert.Contains(t, stderr.String(), "gateway stopped")
}

func TestAdviseCommand_PrintsReport(t *testing.T) {
	var stdout, stderr bytes.Buffer
	deps := testDeps(t, &stdout, &stderr)

	code := runMain(context.Background(), []string{"advise", "--log-format", "text", "Goa"}, deps)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "Farming plan for Goa")
	assert.Contains(t, out, "Grow paddy in Goa.")
	assert.Contains(t, out, "Recommended crops: Paddy, Cashew")
	assert.Contains(t, out, "  - Add lime to raise pH.")
	assert.Contains(t, stderr.String(), "planner")
}

func TestAdviseCommand_JSON(t *testing.T) {
	var stdout bytes.Buffer
	deps := testDeps(t, &stdout, io.Discard)

	code := runMain(context.Background(), []string{"advise", "--json", "--language", "es", "Sevilla"}, deps)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), `"location": "Sevilla"`)
	assert.Contains(t, stdout.String(), `"language": "es"`)
}

func TestAdviseCommand_RejectsBadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"language", []string{"advise", "--language", "fr", "Lyon"}, `unsupported language "fr"`},
		{"target", []string{"advise", "--narrate", "harvest", "Pune"}, `unknown narration target "harvest"`},
		{"no narrator", []string{"advise", "--narrate", "soil", "Pune"}, "needs a narrator"},
		{"no location", []string{"advise"}, "requires at least 1 arg"},
		{"log level", []string{"advise", "--log-level", "loud", "Pune"}, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			deps := testDeps(t, io.Discard, &stderr)
			require.Equal(t, 1, runMain(context.Background(), tt.args, deps))
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "warn")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = newLogger(&buf, "", "debug")
	require.NoError(t, err)
	logger.Debug("not a terminal")
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)

	_, err = newLogger(&buf, "xml", "info")
	assert.Error(t, err)
}

func TestBuildNarrator(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := gemini.New(context.Background(), "test-key")
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Narrator = config.NarratorNone
	assert.Nil(t, buildNarrator(cfg, client, logger))

	cfg.Narrator = config.NarratorPolly
	assert.IsType(t, &cached.Narrator{}, buildNarrator(cfg, client, logger))

	cfg.NarrationCacheSize = 0
	assert.IsType(t, &polly.Narrator{}, buildNarrator(cfg, client, logger))

	cfg.Narrator = config.NarratorGemini
	assert.Same(t, client, buildNarrator(cfg, client, logger))
}

func TestPrintTranscript(t *testing.T) {
	var buf bytes.Buffer
	entries := []live.Entry{
		{Role: live.RoleUser, Text: "What should I plant in Nashik?"},
		{Role: live.RoleAssistant, Text: "Onions do well"},
	}
	n := printTranscript(&buf, entries, 0)
	assert.Equal(t, 1, n)
	assert.Equal(t, "user: What should I plant in Nashik?\n", buf.String())

	entries[1].Text += " this season."
	entries = append(entries, live.Entry{Role: live.RoleUser, Text: "Thanks"})
	n = printTranscript(&buf, entries, n)
	assert.Equal(t, 2, n)
	assert.Contains(t, buf.String(), "assistant: Onions do well this season.\n")
}
