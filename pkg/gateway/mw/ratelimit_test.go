package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/agrivoice/pkg/gateway/apierror"
	"github.com/vango-go/agrivoice/pkg/gateway/ratelimit"
)

func TestRateLimit_ThrottlesMutations(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{RPS: 0.1, Burst: 1})
	h := RequestID(RateLimit(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	serve := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/v1/advice", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := serve(http.MethodPost); rr.Code != http.StatusAccepted {
		t.Fatalf("first status=%d", rr.Code)
	}
	rr := serve(http.MethodPost)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "10" {
		t.Fatalf("Retry-After=%q", got)
	}
	var env apierror.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != "rate_limit_error" || env.Error.RequestID == "" {
		t.Fatalf("error=%+v", env.Error)
	}

	if rr := serve(http.MethodGet); rr.Code != http.StatusAccepted {
		t.Fatalf("GET should not be limited, status=%d", rr.Code)
	}
}

func TestRateLimit_NilLimiterPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if h := RateLimit(nil, next); h == nil {
		t.Fatal("nil handler")
	}
}
