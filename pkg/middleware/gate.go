package middleware

import (
	"net/http"

	"github.com/ringline/relay/pkg/httputil"
)

// Gate rejects requests with 503 while the surface it guards is
// switched off. Kill switches default to off, so unconfigured
// deployments expose nothing.
func Gate(enabled bool, surface string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				httputil.WriteServiceUnavailable(w, surface+" is not enabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
