package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apperrors "github.com/deadlinecal/deadlinecal/internal/errors"
	"github.com/deadlinecal/deadlinecal/internal/metrics"
	"github.com/deadlinecal/deadlinecal/internal/observability"
	"github.com/deadlinecal/deadlinecal/internal/server/middleware"
)

// RateLimit admits each request through limiter before calling next. The
// client key comes from middleware.ClientKey; requests without one are keyed
// by RemoteAddr. Denied requests get a RATE_LIMITED envelope and
// Retry-After.
func RateLimit(limiter Admitter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := middleware.GetClientKey(r.Context())
		if key == "" {
			key = middleware.ResolveClientKey(r, false)
		}

		decision := limiter.Allow(key)
		metrics.RecordRateLimitDecision(decision.Allowed)

		if !decision.Allowed {
			observability.Debug("Request rate limited",
				zap.String("client", key),
				zap.Duration("retry_after", decision.RetryAfter),
				zap.String("request_id", middleware.GetRequestID(r.Context())),
			)
			apperrors.RespondWithEnvelope(w, r, apperrors.NewRateLimitedError(decision.RetryAfter))
			return
		}

		if decision.Remaining >= 0 {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		next.ServeHTTP(w, r)
	})
}
