package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/httputil"
	"github.com/ringline/relay/pkg/middleware"
)

// Ring is an earned achievement ring
type Ring struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Kind     string    `json:"kind"`
	EarnedAt time.Time `json:"earned_at"`
}

// Draft is a work-in-progress submission
type Draft struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is one movement on a user's points ledger
type LedgerEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Amount     int       `json:"amount"`
	Balance    int       `json:"balance"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EnforcementFlag is a moderation flag raised against a user
type EnforcementFlag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// ReadModel exposes the read-only views served to external consumers.
// The business side populates it; this package only reads.
type ReadModel interface {
	Rings(ctx context.Context, ownerID string) ([]Ring, error)
	Drafts(ctx context.Context, ownerID string) ([]Draft, error)
	Ledger(ctx context.Context, ownerID string) ([]LedgerEntry, error)
	Enforcement(ctx context.Context, ownerID string) ([]EnforcementFlag, error)
}

// ReadHandlers serves the scoped read endpoints
type ReadHandlers struct {
	model ReadModel
}

// NewReadHandlers creates the read endpoint handlers
func NewReadHandlers(model ReadModel) *ReadHandlers {
	return &ReadHandlers{model: model}
}

// RegisterRoutes registers read routes, each behind its scope
func (h *ReadHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/rings", middleware.RequireScope(apikeys.ScopeReadRings)(http.HandlerFunc(h.rings))).Methods("GET")
	router.Handle("/drafts", middleware.RequireScope(apikeys.ScopeReadDrafts)(http.HandlerFunc(h.drafts))).Methods("GET")
	router.Handle("/ledger", middleware.RequireScope(apikeys.ScopeReadLedger)(http.HandlerFunc(h.ledger))).Methods("GET")
	router.Handle("/enforcement", middleware.RequireScope(apikeys.ScopeReadEnforcement)(http.HandlerFunc(h.enforcement))).Methods("GET")
}

func requestOwner(r *http.Request) string {
	if key := apikeys.KeyFromContext(r.Context()); key != nil {
		return key.OwnerID
	}
	return ""
}

func (h *ReadHandlers) rings(w http.ResponseWriter, r *http.Request) {
	rings, err := h.model.Rings(r.Context(), requestOwner(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if rings == nil {
		rings = []Ring{}
	}
	httputil.WriteSuccess(w, rings)
}

func (h *ReadHandlers) drafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.model.Drafts(r.Context(), requestOwner(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if drafts == nil {
		drafts = []Draft{}
	}
	httputil.WriteSuccess(w, drafts)
}

func (h *ReadHandlers) ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.model.Ledger(r.Context(), requestOwner(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	httputil.WriteSuccess(w, entries)
}

func (h *ReadHandlers) enforcement(w http.ResponseWriter, r *http.Request) {
	flags, err := h.model.Enforcement(r.Context(), requestOwner(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if flags == nil {
		flags = []EnforcementFlag{}
	}
	httputil.WriteSuccess(w, flags)
}
