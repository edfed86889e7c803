package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/core/live"
	"github.com/vango-go/agrivoice/pkg/core/orchestrator"
	"github.com/vango-go/agrivoice/pkg/core/playback"
	"github.com/vango-go/agrivoice/pkg/providers/gemini"
	"github.com/vango-go/agrivoice/pkg/providers/polly"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, orchestrator.ErrCancelled) || errors.Is(err, live.ErrStopped) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return &core.Error{Type: core.ErrInvalidRequest, Message: err.Error(), RequestID: requestID}, http.StatusBadRequest
	case errors.Is(err, playback.ErrUnknownTarget):
		return &core.Error{Type: core.ErrInvalidRequest, Message: "unknown narration target", Param: "target", RequestID: requestID}, http.StatusBadRequest
	case errors.Is(err, playback.ErrNothingToPlay):
		return conflict("nothing to narrate for this target", "nothing_to_play", requestID)
	case errors.Is(err, app.ErrNoReport):
		return conflict("no advice report yet", "no_report", requestID)
	case errors.Is(err, live.ErrAlreadyActive):
		return conflict("voice session already active", "voice_active", requestID)
	case errors.Is(err, app.ErrVoiceUnavailable), errors.Is(err, app.ErrNarrationUnavailable):
		return unavailable(err.Error(), "feature_unavailable", requestID)
	case errors.Is(err, app.ErrClosed):
		return unavailable("shutting down", "shutting_down", requestID)
	}

	// Pipeline failures: classify the provider cause, keep the pipeline as param.
	var fe *orchestrator.FetchError
	if errors.As(err, &fe) && fe != nil {
		ce, status := providerError(fe.Err, requestID)
		ce.Code = "fetch_failed"
		ce.Param = string(fe.Pipeline)
		return ce, status
	}
	var se *orchestrator.SynthesisError
	if errors.As(err, &se) && se != nil {
		ce, status := providerError(se.Err, requestID)
		ce.Code = "synthesis_failed"
		return ce, status
	}
	var te *live.TransportError
	if errors.As(err, &te) && te != nil {
		ce, status := providerError(te.Err, requestID)
		ce.Code = "voice_" + te.Op + "_failed"
		return ce, status
	}

	if ce, status := providerError(err, requestID); ce.Type != core.ErrAPI {
		return ce, status
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// providerError maps a provider failure. Errors that are not from a known
// provider come back as an api_error with status 502.
func providerError(err error, requestID string) (*core.Error, int) {
	var gemErr *gemini.Error
	if errors.As(err, &gemErr) && gemErr != nil {
		t := core.ErrorType(gemErr.Type)
		if gemErr.Type == gemini.ErrEmptyResponse {
			t = core.ErrProvider
		}
		return &core.Error{
			Type:          t,
			Message:       gemErr.Message,
			RequestID:     requestID,
			ProviderError: gemErr.Code,
		}, statusFromType(t)
	}
	var ve *advice.ValidationError
	if errors.As(err, &ve) && ve != nil {
		return &core.Error{
			Type:          core.ErrProvider,
			Message:       "model returned an invalid " + string(ve.Kind) + " record",
			RequestID:     requestID,
			ProviderError: ve.Err.Error(),
		}, http.StatusBadGateway
	}
	var pollyErr *polly.Error
	if errors.As(err, &pollyErr) && pollyErr != nil {
		t := core.ErrProvider
		if pollyErr.Code == "TooManyRequestsException" {
			t = core.ErrRateLimit
		}
		return &core.Error{
			Type:          t,
			Message:       pollyErr.Error(),
			RequestID:     requestID,
			ProviderError: pollyErr.Code,
		}, statusFromType(t)
	}
	return &core.Error{Type: core.ErrAPI, Message: "upstream failure", RequestID: requestID}, http.StatusBadGateway
}

func conflict(msg, code, requestID string) (*core.Error, int) {
	ce := core.NewConflictError(msg, code)
	ce.RequestID = requestID
	return ce, http.StatusConflict
}

func unavailable(msg, code, requestID string) (*core.Error, int) {
	ce := core.NewUnavailableError(msg, code)
	ce.RequestID = requestID
	return ce, http.StatusServiceUnavailable
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrProvider:
		return http.StatusBadGateway
	case core.ErrAPI:
		return http.StatusBadGateway
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write renders err as the JSON error envelope.
func Write(w http.ResponseWriter, err error, requestID string) {
	ce, status := FromError(err, requestID)
	WriteCore(w, ce, status)
}

// WriteCore renders an already classified error.
func WriteCore(w http.ResponseWriter, ce *core.Error, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: ce})
}
