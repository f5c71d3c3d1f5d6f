package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/audit"
	"github.com/ringline/relay/pkg/httputil"
	"github.com/ringline/relay/pkg/middleware"
)

// KeyHandlers provides HTTP handlers for API key administration
type KeyHandlers struct {
	registry *apikeys.Registry
	audit    audit.Logger
}

// NewKeyHandlers creates key administration handlers
func NewKeyHandlers(registry *apikeys.Registry, auditLog audit.Logger) *KeyHandlers {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &KeyHandlers{registry: registry, audit: auditLog}
}

// recordAudit writes an audit entry on a best-effort basis. Audit
// failures never fail the admin operation itself.
func (h *KeyHandlers) recordAudit(r *http.Request, action audit.Action, targetID string) {
	_ = h.audit.Log(r.Context(), &audit.Entry{
		Action:   action,
		TargetID: targetID,
		ClientIP: middleware.ClientIP(r),
	})
}

// RegisterRoutes registers key routes on the admin router
func (h *KeyHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/keys", h.createKey).Methods("POST")
	router.HandleFunc("/keys", h.listKeys).Methods("GET")
	router.HandleFunc("/keys/{id}/rotate", h.rotateKey).Methods("POST")
	router.HandleFunc("/keys/{id}", h.revokeKey).Methods("DELETE")
}

// mintedKeyResponse carries the plaintext secret exactly once, at mint
// or rotation time
type mintedKeyResponse struct {
	Key    *apikeys.Key `json:"key"`
	Secret string       `json:"secret"`
}

// createKey handles POST /admin/keys
func (h *KeyHandlers) createKey(w http.ResponseWriter, r *http.Request) {
	var req apikeys.CreateKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	key, secret, err := h.registry.Create(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apikeys.ErrMissingOwner),
			errors.Is(err, apikeys.ErrNoScopes),
			errors.Is(err, apikeys.ErrUnknownScope),
			errors.Is(err, apikeys.ErrUnknownTier):
			httputil.WriteValidationError(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	h.recordAudit(r, audit.ActionKeyCreated, key.KeyID)
	httputil.WriteCreated(w, mintedKeyResponse{Key: key, Secret: secret})
}

// listKeys handles GET /admin/keys
func (h *KeyHandlers) listKeys(w http.ResponseWriter, r *http.Request) {
	owner := httputil.ParseQueryString(r, "owner_id", "")
	keys, err := h.registry.List(r.Context(), owner)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if keys == nil {
		keys = []*apikeys.Key{}
	}
	httputil.WriteSuccess(w, keys)
}

// rotateKey handles POST /admin/keys/{id}/rotate. The preserve_id
// query flag keeps the key id and swaps only the secret.
func (h *KeyHandlers) rotateKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	preserveID := httputil.ParseQueryString(r, "preserve_id", "false") == "true"

	key, secret, err := h.registry.Rotate(r.Context(), id, preserveID)
	if err != nil {
		if errors.Is(err, apikeys.ErrKeyNotFound) {
			httputil.WriteNotFoundError(w, "api key not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.recordAudit(r, audit.ActionKeyRotated, key.KeyID)
	httputil.WriteSuccess(w, mintedKeyResponse{Key: key, Secret: secret})
}

// revokeKey handles DELETE /admin/keys/{id}
func (h *KeyHandlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	owner := httputil.ParseQueryString(r, "owner_id", "")

	if err := h.registry.Revoke(r.Context(), id, owner); err != nil {
		switch {
		case errors.Is(err, apikeys.ErrKeyNotFound):
			httputil.WriteNotFoundError(w, "api key not found")
		case errors.Is(err, apikeys.ErrNotOwner):
			httputil.WriteForbidden(w, "key does not belong to owner")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	h.recordAudit(r, audit.ActionKeyRevoked, id)
	httputil.WriteNoContent(w)
}
