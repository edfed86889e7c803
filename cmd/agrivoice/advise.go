package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
	"github.com/vango-go/agrivoice/pkg/core/phase"
	"github.com/vango-go/agrivoice/pkg/core/playback"
	"github.com/vango-go/agrivoice/pkg/gateway/config"
)

type adviseOptions struct {
	language string
	narrate  string
	asJSON   bool
}

func newAdviseCmd(flags *globalFlags, deps cliDeps) *cobra.Command {
	opts := adviseOptions{}
	cmd := &cobra.Command{
		Use:   "advise <location>",
		Short: "Build a farming plan for a location and print it",
		Example: `  agrivoice advise "Nashik, Maharashtra"
  agrivoice advise --language hi --narrate planner Ludhiana`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(deps.stderr, flags.logFormat, flags.logLevel)
			if err != nil {
				return err
			}
			cfg, err := deps.loadConfig(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runAdvise(cmd.Context(), cfg, strings.Join(args, " "), opts, logger, deps)
		},
	}
	cmd.Flags().StringVar(&opts.language, "language", "", "answer language: en|hi|es (default AGRI_LANGUAGE)")
	cmd.Flags().StringVar(&opts.narrate, "narrate", "", "read one section aloud when done: weather|soil|market|planner")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	return cmd
}

func runAdvise(ctx context.Context, cfg config.Config, location string, opts adviseOptions, logger *slog.Logger, deps cliDeps) error {
	var reqOpts []app.RequestOption
	if opts.language != "" {
		lang, ok := i18n.Parse(opts.language)
		if !ok {
			return fmt.Errorf("unsupported language %q", opts.language)
		}
		reqOpts = append(reqOpts, app.WithLanguage(lang))
	}
	var target advice.Target
	if opts.narrate != "" {
		t, ok := advice.ParseTarget(opts.narrate)
		if !ok {
			return fmt.Errorf("unknown narration target %q", opts.narrate)
		}
		target = t
		if cfg.Narrator == config.NarratorNone {
			return fmt.Errorf("--narrate needs a narrator; AGRI_NARRATOR is none")
		}
	}

	ctx, stop := notifyContext(ctx, deps)
	defer stop()

	rt, err := deps.newRuntime(ctx, cfg, runtimeOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("start advisor: %w", err)
	}
	defer closeRuntime(rt, logger)

	states, unsubscribe := rt.Advisor.Subscribe()
	defer unsubscribe()

	id, err := rt.Advisor.RequestAdvice(ctx, location, reqOpts...)
	if err != nil {
		return err
	}
	logger.Debug("advice requested", "advice_id", id)

	final, err := awaitReport(ctx, states, id, deps.stderr)
	if err != nil {
		rt.Advisor.CancelAdvice()
		return err
	}
	if final.Report == nil {
		return fmt.Errorf("advice failed: %s", final.Banner)
	}

	if opts.asJSON {
		enc := json.NewEncoder(deps.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final.Report); err != nil {
			return err
		}
	} else {
		printReport(deps.stdout, final.Report)
	}

	if target == "" {
		return nil
	}
	if err := rt.Advisor.PlaySummary(ctx, target); err != nil {
		return fmt.Errorf("narrate %s: %w", target, err)
	}
	return awaitNarration(ctx, states, target)
}

// awaitReport follows states for request id, printing phase progress to
// progress, until the request settles.
func awaitReport(ctx context.Context, states <-chan app.State, id string, progress io.Writer) (app.State, error) {
	last := map[string]phase.Status{}
	for {
		select {
		case <-ctx.Done():
			return app.State{}, ctx.Err()
		case st, ok := <-states:
			if !ok {
				return app.State{}, app.ErrClosed
			}
			if st.RequestID != id {
				continue
			}
			reportProgress(progress, st.Phases, last)
			if !st.Busy {
				return st, nil
			}
		}
	}
}

func reportProgress(w io.Writer, snap phase.Snapshot, last map[string]phase.Status) {
	emit := func(name string, s phase.Status) {
		if s == phase.Idle || last[name] == s {
			return
		}
		last[name] = s
		fmt.Fprintf(w, "  %-8s %s\n", name, s)
	}
	emit(string(phase.Weather), snap.Weather.Main)
	emit(string(phase.Soil), snap.Soil.Main)
	emit(string(phase.Market), snap.Market.Main)
	emit(string(phase.Planner), snap.Planner)
}

// awaitNarration waits for target to stop playing. PlaySummary has already
// returned, so any queued State from before it is stale and dropped.
func awaitNarration(ctx context.Context, states <-chan app.State, target advice.Target) error {
	select {
	case <-states:
	default:
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				return nil
			}
			for _, slot := range st.Playback {
				if slot.Target != target {
					continue
				}
				switch slot.Status {
				case playback.Failed:
					return fmt.Errorf("narration of %s failed", target)
				case playback.Idle:
					return nil
				}
			}
		}
	}
}

func printReport(w io.Writer, r *advice.Report) {
	fmt.Fprintf(w, "\nFarming plan for %s\n\n", r.Location)
	if r.Alert.Severe() {
		fmt.Fprintf(w, "ALERT: %s\n\n", r.Alert.Message)
	}
	fmt.Fprintln(w, r.Advice.Summary)
	if len(r.Advice.RecommendedCrops) > 0 {
		fmt.Fprintf(w, "\nRecommended crops: %s\n", strings.Join(r.Advice.RecommendedCrops, ", "))
	}
	if r.Advice.SowingPlan != "" {
		fmt.Fprintf(w, "\nSowing plan:\n%s\n", r.Advice.SowingPlan)
	}
	if len(r.Advice.SoilManagementTips) > 0 {
		fmt.Fprintln(w, "\nSoil management:")
		for _, tip := range r.Advice.SoilManagementTips {
			fmt.Fprintf(w, "  - %s\n", tip)
		}
	}
	if len(r.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, c := range r.Citations {
			fmt.Fprintf(w, "  %s  %s\n", c.Title, c.URI)
		}
	}
}

// notifyContext cancels on SIGINT or SIGTERM.
func notifyContext(parent context.Context, deps cliDeps) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		deps.signalStop(sigCh)
		cancel()
	}
}
