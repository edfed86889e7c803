package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/agrivoice/pkg/app"
	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/core/advice"
	"github.com/vango-go/agrivoice/pkg/gateway/apierror"
	"github.com/vango-go/agrivoice/pkg/gateway/mw"
)

// Advisor is the part of app.Advisor the HTTP and stream surfaces drive.
type Advisor interface {
	RequestAdvice(ctx context.Context, location string, opts ...app.RequestOption) (string, error)
	CancelAdvice()
	StartVoice(ctx context.Context) error
	StopVoice(ctx context.Context) error
	PlaySummary(ctx context.Context, target advice.Target) error
	StopSummary()
	Snapshot() app.State
	Subscribe() (<-chan app.State, func())
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, err, reqID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON object of at most limit bytes into dst. An empty
// body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &core.Error{Type: core.ErrInvalidRequest, Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), Code: "body_too_large"}
		}
		return &core.Error{Type: core.ErrInvalidRequest, Message: "invalid JSON body: " + strings.TrimPrefix(err.Error(), "json: ")}
	}
	return nil
}
