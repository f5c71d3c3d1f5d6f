package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/audit"
	"github.com/ringline/relay/pkg/config"
	"github.com/ringline/relay/pkg/middleware"
	"github.com/ringline/relay/pkg/observability"
	"github.com/ringline/relay/pkg/ratelimit"
	"github.com/ringline/relay/pkg/webhooks"
)

// Server wires the relay HTTP routes
type Server struct {
	router *mux.Router

	registry        *apikeys.Registry
	webhookHandlers *webhooks.Handlers
	keyHandlers     *KeyHandlers
	readHandlers    *ReadHandlers

	auth      *middleware.AuthMiddleware
	rateLimit *middleware.RateLimitMiddleware

	cfg     *config.Config
	metrics *observability.Metrics
	logger  *observability.Logger
}

// Deps carries the collaborators the server needs
type Deps struct {
	Config    *config.Config
	Registry  *apikeys.Registry
	Webhooks  *webhooks.Handlers
	ReadModel ReadModel
	Limiter   ratelimit.Limiter
	Audit     audit.Logger
	Metrics   *observability.Metrics
	Logger    *observability.Logger
}

// NewServer creates the API server and sets up its routes
func NewServer(deps Deps) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		registry:        deps.Registry,
		webhookHandlers: deps.Webhooks,
		keyHandlers:     NewKeyHandlers(deps.Registry, deps.Audit),
		readHandlers:    NewReadHandlers(deps.ReadModel),
		auth:            middleware.NewAuthMiddleware(deps.Registry, deps.Metrics),
		rateLimit:       middleware.NewRateLimitMiddleware(deps.Limiter, deps.Metrics, deps.Logger),
		cfg:             deps.Config,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes and their middleware chains
func (s *Server) setupRoutes() {
	// Key administration and dead-letter requeue, for operators
	admin := s.router.PathPrefix("/admin").Subrouter()
	s.keyHandlers.RegisterRoutes(admin)
	s.webhookHandlers.RegisterAdminRoutes(admin)

	// Subscription management, authenticated and behind its own switch
	subs := s.router.PathPrefix("/webhooks").Subrouter()
	subs.Use(muxMiddleware(middleware.Gate(s.cfg.SubscriptionsEnabled, "webhook subscriptions")))
	subs.Use(muxMiddleware(s.auth.Handler))
	s.webhookHandlers.RegisterRoutes(subs)

	// Event publication from business code
	publish := s.router.PathPrefix("/events").Subrouter()
	publish.Use(muxMiddleware(middleware.Gate(s.cfg.SubscriptionsEnabled, "webhook subscriptions")))
	publish.Use(muxMiddleware(s.auth.Handler))
	s.webhookHandlers.RegisterPublishRoutes(publish)

	// Data-plane reads: gated, authenticated, scoped, and rate limited
	reads := s.router.PathPrefix("/v1").Subrouter()
	reads.Use(muxMiddleware(middleware.Gate(s.cfg.APIEnabled, "external api")))
	reads.Use(muxMiddleware(s.auth.Handler))
	reads.Use(muxMiddleware(s.rateLimit.Handler))
	s.readHandlers.RegisterRoutes(reads)
}

// Handler returns the root handler with tracing and request metrics
// applied
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	if s.metrics != nil {
		handler = s.metrics.HTTPMiddleware(handler)
	}
	return otelhttp.NewHandler(handler, "relay")
}

// muxMiddleware adapts a plain middleware to the mux signature
func muxMiddleware(mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return mux.MiddlewareFunc(mw)
}
