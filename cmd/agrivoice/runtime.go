package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core/audio"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
	"github.com/vango-go/agrivoice/pkg/core/live"
	"github.com/vango-go/agrivoice/pkg/core/orchestrator"
	"github.com/vango-go/agrivoice/pkg/core/playback"
	"github.com/vango-go/agrivoice/pkg/device"
	"github.com/vango-go/agrivoice/pkg/gateway/config"
	"github.com/vango-go/agrivoice/pkg/metrics"
	"github.com/vango-go/agrivoice/pkg/providers/cached"
	"github.com/vango-go/agrivoice/pkg/providers/gemini"
	"github.com/vango-go/agrivoice/pkg/providers/polly"
)

type runtimeOptions struct {
	Logger *slog.Logger
	// Voice wires the realtime transport and the microphone; it needs
	// device audio.
	Voice bool
}

// runtime is a wired Advisor plus the resources it owns.
type runtime struct {
	Advisor *app.Advisor
	Metrics *metrics.Metrics
	closers []func() error
}

func newRuntime(ctx context.Context, cfg config.Config, opts runtimeOptions) (_ *runtime, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &runtime{Metrics: metrics.New(cfg.MetricsNamespace)}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	client, err := gemini.New(ctx, cfg.GeminiAPIKey,
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithSpeechModel(cfg.GeminiSpeechModel),
		gemini.WithLiveModel(cfg.GeminiLiveModel),
		gemini.WithVoice(cfg.GeminiVoice),
		gemini.WithGrounding(cfg.GeminiGrounding),
		gemini.WithMaxRetries(cfg.GeminiMaxRetries),
		gemini.WithBaseURL(cfg.GeminiBaseURL),
		gemini.WithLogger(logger.With("component", "gemini")),
	)
	if err != nil {
		return nil, err
	}

	out, err := rt.openOutput(cfg)
	if err != nil {
		return nil, err
	}

	lang, _ := i18n.Parse(cfg.Language)
	deps := app.Dependencies{
		Service:  client,
		Narrator: buildNarrator(cfg, client, logger),
		Output:   out,
		Logger:   logger,
		Metrics:  rt.Metrics,
		Config: app.Config{
			Language:     lang,
			Orchestrator: orchestrator.Config{PhaseDelay: cfg.PhaseDelay},
			Voice:        live.SessionConfig{Language: lang, Voice: cfg.GeminiVoice},
			FrameSamples: cfg.FrameSamples,
		},
	}
	if opts.Voice {
		if cfg.Audio != config.AudioDevice {
			return nil, errors.New("voice sessions need AGRI_AUDIO=device")
		}
		deps.Transport = client.Transport()
		deps.Capture = device.NewMicrophone(logger.With("component", "microphone"))
	}

	rt.Advisor, err = app.New(deps)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// openOutput returns the playback timeline, driven by the speaker or by a
// real-time null sink.
func (rt *runtime) openOutput(cfg config.Config) (*audio.Timeline, error) {
	tl := audio.NewTimeline(audio.PlaybackFormat)
	rt.closers = append(rt.closers, tl.Close)
	switch cfg.Audio {
	case config.AudioDevice:
		spk, err := device.OpenSpeaker(tl)
		if err != nil {
			return nil, fmt.Errorf("open speaker: %w", err)
		}
		rt.closers = append(rt.closers, spk.Close)
	default:
		sinkCtx, stop := context.WithCancel(context.Background())
		go audio.RunNullSink(sinkCtx, tl, 0)
		rt.closers = append(rt.closers, func() error { stop(); return nil })
	}
	return tl, nil
}

// buildNarrator returns nil when narration is off.
func buildNarrator(cfg config.Config, client *gemini.Client, logger *slog.Logger) playback.Narrator {
	var n playback.Narrator
	switch cfg.Narrator {
	case config.NarratorGemini:
		n = client
	case config.NarratorPolly:
		n = polly.New(polly.Config{
			Region: cfg.PollyRegion,
			Voice:  cfg.PollyVoice,
			Engine: cfg.PollyEngine,
		})
	default:
		return nil
	}
	if cfg.NarrationCacheSize <= 0 {
		return n
	}
	return cached.New(n, cached.Config{Size: cfg.NarrationCacheSize, TTL: cfg.NarrationCacheTTL}, logger.With("component", "narration_cache"))
}

// Close shuts the advisor down, then releases audio resources in reverse
// order of acquisition.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Advisor != nil {
		errs = append(errs, rt.Advisor.Close(ctx))
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
