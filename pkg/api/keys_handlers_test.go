package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/observability"
)

// failingKeyStore rejects inserts to simulate a backend outage
type failingKeyStore struct {
	*apikeys.MemoryStore
}

func (s *failingKeyStore) CreateKey(ctx context.Context, key *apikeys.Key) error {
	return errors.New("connection refused")
}

func postKey(t *testing.T, router *mux.Router, req apikeys.CreateKeyRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/keys", bytes.NewReader(body)))
	return rec
}

func TestCreateKeyErrorStatus(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	t.Run("validation failures are 400", func(t *testing.T) {
		registry := apikeys.NewRegistry(apikeys.NewMemoryStore(), logger)
		router := mux.NewRouter()
		NewKeyHandlers(registry, nil).RegisterRoutes(router)

		for name, req := range map[string]apikeys.CreateKeyRequest{
			"missing owner": {Scopes: []apikeys.Scope{apikeys.ScopeReadRings}, Tier: apikeys.TierFree},
			"no scopes":     {OwnerID: "owner-1", Tier: apikeys.TierFree},
			"unknown scope": {OwnerID: "owner-1", Scopes: []apikeys.Scope{"write:everything"}, Tier: apikeys.TierFree},
			"unknown tier":  {OwnerID: "owner-1", Scopes: []apikeys.Scope{apikeys.ScopeReadRings}, Tier: "platinum"},
		} {
			rec := postKey(t, router, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})

	t.Run("store failure is 500", func(t *testing.T) {
		registry := apikeys.NewRegistry(&failingKeyStore{apikeys.NewMemoryStore()}, logger)
		router := mux.NewRouter()
		NewKeyHandlers(registry, nil).RegisterRoutes(router)

		rec := postKey(t, router, apikeys.CreateKeyRequest{
			OwnerID: "owner-1",
			Scopes:  []apikeys.Scope{apikeys.ScopeReadRings},
			Tier:    apikeys.TierFree,
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code,
			"a backend outage must not be reported as a client error")
	})
}
