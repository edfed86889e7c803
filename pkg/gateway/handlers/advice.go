package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/core/i18n"
	"github.com/vango-go/agrivoice/pkg/gateway/apierror"
	"github.com/vango-go/agrivoice/pkg/gateway/mw"
)

type adviceRequest struct {
	Location string `json:"location"`
	Language string `json:"language,omitempty"`
}

type adviceResponse struct {
	RequestID string    `json:"request_id"`
	State     app.State `json:"state"`
}

// AdviceHandler starts (POST) and cancels (DELETE) advice requests. A POST
// returns as soon as the request is running; progress is observed through
// /v1/state or /v1/stream.
type AdviceHandler struct {
	Advisor      Advisor
	Logger       *slog.Logger
	MaxBodyBytes int64
}

func (h AdviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.start(w, r)
	case http.MethodDelete:
		h.Advisor.CancelAdvice()
		writeJSON(w, http.StatusOK, h.Advisor.Snapshot())
	default:
		reqID, _ := mw.RequestIDFrom(r.Context())
		apierror.WriteCore(w, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID}, http.StatusMethodNotAllowed)
	}
}

func (h AdviceHandler) start(w http.ResponseWriter, r *http.Request) {
	var req adviceRequest
	if err := decodeBody(w, r, h.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var opts []app.RequestOption
	if req.Language != "" {
		lang, ok := i18n.Parse(req.Language)
		if !ok {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("unsupported language", "language"))
			return
		}
		opts = append(opts, app.WithLanguage(lang))
	}

	id, err := h.Advisor.RequestAdvice(r.Context(), req.Location, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("advice requested", "advice_id", id, "location", req.Location)
	}
	w.Header().Set("Location", "/v1/state")
	writeJSON(w, http.StatusAccepted, adviceResponse{RequestID: id, State: h.Advisor.Snapshot()})
}

// StateHandler serves the current advisor state.
type StateHandler struct {
	Advisor Advisor
}

func (h StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Advisor.Snapshot())
}
