package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/agrivoice/pkg/gateway/config"
	"github.com/vango-go/agrivoice/pkg/gateway/handlers"
	"github.com/vango-go/agrivoice/pkg/gateway/lifecycle"
	"github.com/vango-go/agrivoice/pkg/gateway/mw"
	"github.com/vango-go/agrivoice/pkg/gateway/ratelimit"
	"github.com/vango-go/agrivoice/pkg/gateway/stream"
	"github.com/vango-go/agrivoice/pkg/metrics"
)

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	advisor handlers.Advisor
	metrics *metrics.Metrics

	lifecycle *lifecycle.Lifecycle
	streams   *stream.Tracker
	limiter   *ratelimit.Limiter
}

// New builds the gateway. m may be nil, which disables /metrics.
func New(cfg config.Config, advisor handlers.Advisor, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		advisor:   advisor,
		metrics:   m,
		lifecycle: &lifecycle.Lifecycle{},
		streams:   stream.NewTracker(m),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:        cfg.LimitRPS,
			Burst:      cfg.LimitBurst,
			MaxStreams: cfg.LimitMaxStreams,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Features:  func() map[string]bool { return s.advisor.Snapshot().Features },
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	adviceHandler := handlers.AdviceHandler{
		Advisor:      s.advisor,
		Logger:       s.logger,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	}
	s.mux.Handle("POST /v1/advice", adviceHandler)
	s.mux.Handle("DELETE /v1/advice", adviceHandler)
	s.mux.Handle("GET /v1/state", handlers.StateHandler{Advisor: s.advisor})
	s.mux.Handle("POST /v1/voice/{action}", handlers.VoiceHandler{Advisor: s.advisor, Logger: s.logger})

	narration := handlers.NarrationHandler{Advisor: s.advisor}
	s.mux.Handle("POST /v1/narration/{target}", narration)
	s.mux.Handle("DELETE /v1/narration", narration)

	s.mux.Handle("GET /v1/stream", stream.Handler{
		Advisor: s.advisor,
		Config: stream.Config{
			PingInterval:    s.cfg.WSPingInterval,
			WriteTimeout:    s.cfg.WSWriteTimeout,
			MaxMessageBytes: s.cfg.WSMaxMessageBytes,
		},
		Logger:         s.logger,
		Lifecycle:      s.lifecycle,
		Sessions:       s.streams,
		Limiter:        s.limiter,
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness to 503 and refuses new streams.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) WarnStreamsDraining() int {
	return s.streams.WarnAll("draining", "server is shutting down")
}

// WaitStreams reports whether every stream ended before ctx.
func (s *Server) WaitStreams(ctx context.Context) bool {
	return s.streams.Wait(ctx)
}

func (s *Server) CancelStreams() int {
	return s.streams.CancelAll()
}

func (s *Server) StreamCount() int {
	return s.streams.Count()
}
