package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/httputil"
	"github.com/ringline/relay/pkg/observability"
)

// AuthMiddleware authenticates requests with bearer API keys
type AuthMiddleware struct {
	registry *apikeys.Registry
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates an authentication middleware backed by the
// key registry
func NewAuthMiddleware(registry *apikeys.Registry, metrics *observability.Metrics) *AuthMiddleware {
	return &AuthMiddleware{registry: registry, metrics: metrics}
}

func (m *AuthMiddleware) countValidation(result string) {
	if m.metrics != nil {
		m.metrics.KeyValidationsTotal.WithLabelValues(result).Inc()
	}
}

// Handler wraps an HTTP handler with API key authentication. The
// validated key is attached to the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		key, err := m.registry.Validate(r.Context(), parts[1], ClientIP(r))
		if err != nil {
			m.countValidation("rejected")
			if errors.Is(err, apikeys.ErrInvalidKey) {
				httputil.WriteUnauthorized(w, "invalid api key")
				return
			}
			httputil.WriteInternalError(w, err)
			return
		}

		m.countValidation("accepted")
		next.ServeHTTP(w, r.WithContext(apikeys.ContextWithKey(r.Context(), key)))
	})
}

// RequireScope enforces a scope on the authenticated key. Must run
// after the auth middleware.
func RequireScope(scope apikeys.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apikeys.KeyFromContext(r.Context())
			if key == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !key.HasScope(scope) {
				httputil.WriteForbidden(w, "api key missing required scope: "+string(scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the request's client IP, honoring X-Forwarded-For
// when behind a proxy
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
