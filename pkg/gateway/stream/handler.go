package stream

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/gateway/apierror"
	"github.com/vango-go/agrivoice/pkg/gateway/lifecycle"
	"github.com/vango-go/agrivoice/pkg/gateway/mw"
	"github.com/vango-go/agrivoice/pkg/gateway/ratelimit"
)

// Handler upgrades GET /v1/stream to a WebSocket Session.
type Handler struct {
	Advisor   Advisor
	Config    Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *Tracker
	// Limiter caps concurrent streams per client; nil disables it.
	Limiter *ratelimit.Limiter
	// AllowedOrigins gates browser callers; requests without Origin pass.
	AllowedOrigins []string
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if h.Lifecycle.IsDraining() {
		apierror.WriteCore(w, &core.Error{Type: core.ErrUnavailable, Message: "server is draining", Code: "draining", RequestID: reqID}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		apierror.WriteCore(w, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID}, http.StatusForbidden)
		return
	}

	dec := h.Limiter.AcquireStream(ratelimit.ClientKey(r))
	if !dec.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
		apierror.WriteCore(w, &core.Error{Type: core.ErrRateLimit, Message: "too many open streams", Code: "too_many_streams", RequestID: reqID}, http.StatusTooManyRequests)
		return
	}
	defer dec.Permit.Release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	var respHeader http.Header
	if reqID != "" {
		respHeader = http.Header{"X-Request-Id": {reqID}}
	}
	conn, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := "str_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s := NewSession(r.Context(), id, conn, h.Advisor, h.Config, logger)

	unregister := h.Sessions.Register(id, Handle{
		Cancel: s.Cancel,
		Warn:   s.SendWarning,
	})
	defer unregister()

	logger.Info("stream opened", "session_id", id, "request_id", reqID)
	if err := s.Run(); err != nil {
		logger.Warn("stream ended with error", "session_id", id, "request_id", reqID, "error", err)
		return
	}
	logger.Info("stream closed", "session_id", id, "request_id", reqID)
}

func (h Handler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range h.AllowedOrigins {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}
