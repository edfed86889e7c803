package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vango-go/agrivoice/pkg/core/live"
	"github.com/vango-go/agrivoice/pkg/gateway/config"
)

func newVoiceCmd(flags *globalFlags, deps cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "voice",
		Short: "Talk to the advisor through this host's microphone and speaker",
		Long: `voice opens a live session. Ask about a place ("what should I plant in
Nashik?") and the advisor runs the farming-advice tool and answers aloud.
Press Ctrl-C to end the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(deps.stderr, flags.logFormat, flags.logLevel)
			if err != nil {
				return err
			}
			cfg, err := deps.loadConfig(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Audio = config.AudioDevice
			return runVoice(cmd.Context(), cfg, logger, deps)
		},
	}
}

func runVoice(ctx context.Context, cfg config.Config, logger *slog.Logger, deps cliDeps) error {
	ctx, stop := notifyContext(ctx, deps)
	defer stop()

	rt, err := deps.newRuntime(ctx, cfg, runtimeOptions{Logger: logger, Voice: true})
	if err != nil {
		return fmt.Errorf("start advisor: %w", err)
	}
	defer closeRuntime(rt, logger)

	states, unsubscribe := rt.Advisor.Subscribe()
	defer unsubscribe()

	if err := rt.Advisor.StartVoice(ctx); err != nil {
		return fmt.Errorf("start voice: %w", err)
	}
	fmt.Fprintln(deps.stdout, "Listening. Press Ctrl-C to stop.")

	printed := 0
	opened := false
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return rt.Advisor.StopVoice(stopCtx)
		case st, ok := <-states:
			if !ok {
				return nil
			}
			printed = printTranscript(deps.stdout, st.Voice.Transcript, printed)
			switch st.Voice.State {
			case live.Open:
				opened = true
			case live.Disconnected:
				if opened {
					return errors.New("voice session closed by the remote side")
				}
			}
		}
	}
}

// printTranscript writes entries completed since the previous call. The last
// entry may still be growing, so it is held back.
func printTranscript(w io.Writer, entries []live.Entry, printed int) int {
	if printed > len(entries) {
		printed = 0
	}
	for ; printed < len(entries)-1; printed++ {
		e := entries[printed]
		fmt.Fprintf(w, "%s: %s\n", e.Role, e.Text)
	}
	return printed
}
