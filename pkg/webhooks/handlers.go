package webhooks

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/httputil"
)

// Handlers provides HTTP handlers for subscription management, event
// publication, and delivery inspection
type Handlers struct {
	subscriptions *SubscriptionRegistry
	publisher     *Publisher
	deliveries    DeliveryStore
}

// NewHandlers creates webhook handlers
func NewHandlers(subscriptions *SubscriptionRegistry, publisher *Publisher, deliveries DeliveryStore) *Handlers {
	return &Handlers{
		subscriptions: subscriptions,
		publisher:     publisher,
		deliveries:    deliveries,
	}
}

// RegisterRoutes registers subscription and delivery routes on a
// router rooted at the subscriptions path
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.createSubscription).Methods("POST")
	router.HandleFunc("", h.listSubscriptions).Methods("GET")
	router.HandleFunc("/{id}", h.getSubscription).Methods("GET")
	router.HandleFunc("/{id}", h.deleteSubscription).Methods("DELETE")
	router.HandleFunc("/{id}/deliveries", h.listDeliveries).Methods("GET")
	router.HandleFunc("/{id}/stats", h.deliveryStats).Methods("GET")
}

// RegisterPublishRoutes registers the event publication route on a
// router rooted at the publish path
func (h *Handlers) RegisterPublishRoutes(router *mux.Router) {
	router.HandleFunc("", h.publishEvent).Methods("POST")
}

// RegisterAdminRoutes registers operator-only delivery routes
func (h *Handlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/deliveries/{id}/requeue", h.requeueDelivery).Methods("POST")
}

// ownerID resolves the request's owner from its authenticated key
func ownerID(r *http.Request) string {
	if key := apikeys.KeyFromContext(r.Context()); key != nil {
		return key.OwnerID
	}
	return ""
}

type createSubscriptionRequest struct {
	URL        string      `json:"url"`
	EventTypes []EventType `json:"events"`
}

// createSubscriptionResponse carries the plaintext signing secret; it
// is returned exactly once, at creation
type createSubscriptionResponse struct {
	*Subscription
	Secret string `json:"secret"`
}

// createSubscription handles POST /webhooks
func (h *Handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), ownerID(r), req.URL, req.EventTypes)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrNoEventTypes), errors.Is(err, ErrUnknownEventType):
			httputil.WriteValidationError(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteCreated(w, createSubscriptionResponse{Subscription: sub, Secret: sub.Secret})
}

// listSubscriptions handles GET /webhooks
func (h *Handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subscriptions.List(r.Context(), ownerID(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	httputil.WriteSuccess(w, subs)
}

// getSubscription handles GET /webhooks/{id}
func (h *Handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sub, err := h.subscriptions.Get(r.Context(), id, ownerID(r))
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			httputil.WriteNotFoundError(w, "subscription not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// deleteSubscription handles DELETE /webhooks/{id}
func (h *Handlers) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.subscriptions.Delete(r.Context(), id, ownerID(r)); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			httputil.WriteNotFoundError(w, "subscription not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listDeliveries handles GET /webhooks/{id}/deliveries
func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Ownership check happens through subscription resolution
	if _, err := h.subscriptions.Get(r.Context(), id, ownerID(r)); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			httputil.WriteNotFoundError(w, "subscription not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	deliveries, err := h.deliveries.ListBySubscription(r.Context(), id, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if deliveries == nil {
		deliveries = []*Delivery{}
	}
	httputil.WriteSuccess(w, deliveries)
}

// deliveryStats handles GET /webhooks/{id}/stats
func (h *Handlers) deliveryStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.subscriptions.Get(r.Context(), id, ownerID(r)); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			httputil.WriteNotFoundError(w, "subscription not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	stats, err := h.deliveries.Stats(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

type publishEventRequest struct {
	EventID string          `json:"event_id,omitempty"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// publishEvent handles POST /events
func (h *Handlers) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Type.Valid() {
		httputil.WriteValidationError(w, "unknown event type")
		return
	}

	result, err := h.publisher.Publish(r.Context(), req.Type, ownerID(r), req.EventID, req.Payload)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if result.Created {
		httputil.WriteCreated(w, result)
		return
	}
	httputil.WriteSuccess(w, result)
}

// requeueDelivery handles POST /admin/deliveries/{id}/requeue
func (h *Handlers) requeueDelivery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	delivery, err := h.deliveries.Requeue(r.Context(), id, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, ErrDeliveryNotFound):
			httputil.WriteNotFoundError(w, "delivery not found")
		case errors.Is(err, ErrNotRequeueable):
			httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	httputil.WriteSuccess(w, delivery)
}
