package handlers

import (
	"net/http"

	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/core/advice"
)

// NarrationHandler plays one report section (POST /v1/narration/{target})
// or silences narration (DELETE /v1/narration).
type NarrationHandler struct {
	Advisor Advisor
}

func (h NarrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		h.Advisor.StopSummary()
		writeJSON(w, http.StatusOK, h.Advisor.Snapshot())
		return
	}

	target, ok := advice.ParseTarget(r.PathValue("target"))
	if !ok {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("unknown narration target", "target"))
		return
	}
	if err := h.Advisor.PlaySummary(r.Context(), target); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Advisor.Snapshot())
}
