package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/observability"
	"github.com/ringline/relay/pkg/ratelimit"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func mintKey(t *testing.T, registry *apikeys.Registry, req apikeys.CreateKeyRequest) (*apikeys.Key, string) {
	t.Helper()
	key, secret, err := registry.Create(context.Background(), req)
	require.NoError(t, err)
	return key, secret
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	registry := apikeys.NewRegistry(apikeys.NewMemoryStore(), testLogger())
	_, secret := mintKey(t, registry, apikeys.CreateKeyRequest{
		OwnerID: "owner-1",
		Scopes:  []apikeys.Scope{apikeys.ScopeReadRings},
		Tier:    apikeys.TierFree,
	})

	var seenKey *apikeys.Key
	handler := NewAuthMiddleware(registry, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = apikeys.KeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"unknown secret", "Bearer rk_definitely-not-a-real-secret-value", http.StatusUnauthorized},
		{"valid key", "Bearer " + secret, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/rings", nil)
			req.RemoteAddr = "10.0.0.1:12345"
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	require.NotNil(t, seenKey, "authenticated key must reach the handler context")
	assert.Equal(t, "owner-1", seenKey.OwnerID)
}

func TestRequireScope(t *testing.T) {
	registry := apikeys.NewRegistry(apikeys.NewMemoryStore(), testLogger())
	_, secret := mintKey(t, registry, apikeys.CreateKeyRequest{
		OwnerID: "owner-1",
		Scopes:  []apikeys.Scope{apikeys.ScopeReadRings},
		Tier:    apikeys.TierFree,
	})

	auth := NewAuthMiddleware(registry, nil)
	allowed := auth.Handler(RequireScope(apikeys.ScopeReadRings)(okHandler()))
	denied := auth.Handler(RequireScope(apikeys.ScopeReadLedger)(okHandler()))

	req := httptest.NewRequest("GET", "/v1/rings", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	allowed.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/v1/ledger", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	registry := apikeys.NewRegistry(apikeys.NewMemoryStore(), testLogger())
	// Canary keys get the tight fixed quota regardless of tier
	_, secret := mintKey(t, registry, apikeys.CreateKeyRequest{
		OwnerID: "owner-1",
		Scopes:  []apikeys.Scope{apikeys.ScopeReadRings},
		Tier:    apikeys.TierEnterprise,
		Canary:  true,
	})

	limiter := ratelimit.NewMemoryLimiter()
	handler := NewAuthMiddleware(registry, nil).Handler(
		NewRateLimitMiddleware(limiter, nil, testLogger()).Handler(okHandler()),
	)

	doRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/v1/rings", nil)
		req.Header.Set("Authorization", "Bearer "+secret)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= apikeys.CanaryQuota; i++ {
		rec := doRequest()
		require.Equal(t, http.StatusOK, rec.Code, "request %d should be admitted", i)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := doRequest()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestGate(t *testing.T) {
	open := Gate(true, "webhook api")(okHandler())
	closed := Gate(false, "webhook api")(okHandler())

	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest("GET", "/webhooks", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	closed.ServeHTTP(rec, httptest.NewRequest("GET", "/webhooks", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"X-Forwarded-For header", map[string]string{"X-Forwarded-For": "192.168.1.1"}, "10.0.0.1:1234", "192.168.1.1"},
		{"X-Forwarded-For chain takes first", map[string]string{"X-Forwarded-For": "192.168.1.1, 10.0.0.2"}, "10.0.0.1:1234", "192.168.1.1"},
		{"X-Real-IP fallback", map[string]string{"X-Real-IP": "192.168.1.2"}, "10.0.0.1:1234", "192.168.1.2"},
		{"X-Forwarded-For takes precedence", map[string]string{"X-Forwarded-For": "192.168.1.1", "X-Real-IP": "192.168.1.2"}, "10.0.0.1:1234", "192.168.1.1"},
		{"RemoteAddr fallback", nil, "10.0.0.1:1234", "10.0.0.1"},
		{"RemoteAddr without port", nil, "10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
