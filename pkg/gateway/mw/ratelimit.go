package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/agrivoice/pkg/core"
	"github.com/vango-go/agrivoice/pkg/gateway/apierror"
	"github.com/vango-go/agrivoice/pkg/gateway/ratelimit"
)

// RateLimit throttles POST and DELETE requests per client. Reads and the
// stream upgrade pass through.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AllowRequest(ratelimit.ClientKey(r), time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			apierror.WriteCore(w, &core.Error{
				Type:      core.ErrRateLimit,
				Message:   "rate limit exceeded",
				Code:      "rate_limited",
				RequestID: reqID,
			}, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
