package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/httputil"
	"github.com/ringline/relay/pkg/observability"
	"github.com/ringline/relay/pkg/ratelimit"
)

// RateLimitMiddleware admits requests against the authenticated key's
// hourly quota. Must run after the auth middleware.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewRateLimitMiddleware creates a rate limit middleware
func NewRateLimitMiddleware(limiter ratelimit.Limiter, metrics *observability.Metrics, logger *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler wraps an HTTP handler with quota admission
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apikeys.KeyFromContext(r.Context())
		if key == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		result, err := m.limiter.CheckAndIncrement(r.Context(), key.KeyID, key.EffectiveQuota())
		if err != nil {
			m.logger.WithError(err).WithField("key_id", key.KeyID).Error("Rate limit check failed")
			// A fail-open limiter reports Allowed alongside the error;
			// honor it rather than turning a store outage into a 500
			if !result.Allowed {
				httputil.WriteInternalError(w, err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining()))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))

		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
			}
			retryAfter := time.Until(result.ResetAt).Seconds()
			if retryAfter < 0 {
				retryAfter = 0
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if m.metrics != nil {
			m.metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
		}
		next.ServeHTTP(w, r)
	})
}
