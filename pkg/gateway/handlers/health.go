package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/agrivoice/pkg/gateway/config"
	"github.com/vango-go/agrivoice/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 while draining and 500 when the configuration
// would leave the advisor unusable.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Features  func() map[string]bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool            `json:"ok"`
		Draining bool            `json:"draining,omitempty"`
		Since    *time.Time      `json:"draining_since,omitempty"`
		Narrator string          `json:"narrator"`
		Audio    string          `json:"audio"`
		Features map[string]bool `json:"features,omitempty"`
		Issues   []string        `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	var since *time.Time
	if draining {
		t := h.Lifecycle.DrainingSince().UTC()
		since = &t
	}

	var features map[string]bool
	if h.Features != nil {
		features = h.Features()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		Draining: draining,
		Since:    since,
		Narrator: string(h.Config.Narrator),
		Audio:    string(h.Config.Audio),
		Features: features,
		Issues:   issues,
	})
}
