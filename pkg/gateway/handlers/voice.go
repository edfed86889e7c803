package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/agrivoice/pkg/core"
)

// VoiceHandler serves POST /v1/voice/{action} for action start or stop.
type VoiceHandler struct {
	Advisor Advisor
	Logger  *slog.Logger
	// StartTimeout bounds the connect; the session itself outlives the request.
	StartTimeout time.Duration
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		timeout := h.StartTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		// The session must not end with this request.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
		err = h.Advisor.StartVoice(ctx)
		cancel()
	case "stop":
		err = h.Advisor.StopVoice(r.Context())
	default:
		err = &core.Error{Type: core.ErrNotFound, Message: "unknown voice action", Param: "action"}
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("voice action failed", "action", r.PathValue("action"), "error", err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Advisor.Snapshot())
}
