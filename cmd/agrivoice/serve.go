package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/agrivoice/pkg/gateway/config"
	gatewayserver "github.com/vango-go/agrivoice/pkg/gateway/server"
)

func newServeCmd(flags *globalFlags, deps cliDeps) *cobra.Command {
	var addr string
	var voice bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the advice API and the state stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(deps.stderr, flags.logFormat, flags.logLevel)
			if err != nil {
				return err
			}
			cfg, err := deps.loadConfig(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg, voice, logger, deps)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides AGRI_ADDR)")
	cmd.Flags().BoolVar(&voice, "voice", false, "enable live voice on this host's microphone and speaker")
	return cmd
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServe(ctx context.Context, cfg config.Config, voice bool, logger *slog.Logger, deps cliDeps) error {
	if voice {
		cfg.Audio = config.AudioDevice
	}
	rt, err := deps.newRuntime(ctx, cfg, runtimeOptions{Logger: logger, Voice: voice})
	if err != nil {
		return fmt.Errorf("start advisor: %w", err)
	}

	gw := gatewayserver.New(cfg, rt.Advisor, rt.Metrics, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "narrator", cfg.Narrator, "audio", cfg.Audio, "voice", voice)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		closeRuntime(rt, logger)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context done; shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	if n := gw.WarnStreamsDraining(); n > 0 {
		logger.Info("warned stream clients", "count", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		closeRuntime(rt, logger)
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitStreams(waitCtx) {
		logger.Warn("stream clients did not leave in time; cancelling", "count", gw.CancelStreams())
	}

	closeRuntime(rt, logger)
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

// closeRuntime stops voice, cancels advice and releases audio.
func closeRuntime(rt *runtime, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		logger.Warn("runtime close", "error", err)
	}
}
