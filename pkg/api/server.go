package api

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/lumenchat/lumenchat/pkg/auth"
	"github.com/lumenchat/lumenchat/pkg/billing"
	"github.com/lumenchat/lumenchat/pkg/chat"
	"github.com/lumenchat/lumenchat/pkg/config"
	"github.com/lumenchat/lumenchat/pkg/httputil"
	"github.com/lumenchat/lumenchat/pkg/middleware"
	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
	"github.com/lumenchat/lumenchat/pkg/subscriptions"
	"github.com/lumenchat/lumenchat/pkg/usage"
)

// Deps are the collaborators the API server dispatches to
type Deps struct {
	Catalog        *plans.Catalog
	Subscriptions  subscriptions.Store
	Gate           *usage.Gate
	Chat           *chat.Service
	ChatStore      chat.Store
	Billing        billing.Client
	Synchronizer   *billing.Synchronizer
	Verifier       auth.Verifier
	Redis          *redis.Client
	Stripe         config.StripeConfig
	AllowedOrigins []string
	Logger         *observability.Logger
	Metrics        *observability.Metrics
}

// Server is the HTTP API server
type Server struct {
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics

	billingHandlers      *BillingHandlers
	subscriptionHandlers *SubscriptionHandlers
	chatHandlers         *ChatHandlers
}

// NewServer wires handlers and middleware onto a router
func NewServer(deps Deps) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  deps.Logger,
		metrics: deps.Metrics,

		billingHandlers:      NewBillingHandlers(deps.Billing, deps.Synchronizer, deps.Catalog, deps.Subscriptions, deps.Stripe, deps.Logger, deps.Metrics),
		subscriptionHandlers: NewSubscriptionHandlers(deps.Subscriptions, deps.Gate, deps.Logger),
		chatHandlers:         NewChatHandlers(deps.Chat, deps.ChatStore, deps.Logger),
	}

	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(deps.AllowedOrigins),
		s.instrument,
	)

	public := s.router.PathPrefix("/api/v1").Subrouter()
	s.billingHandlers.RegisterPublicRoutes(public)

	protected := s.router.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.NewAuth(deps.Verifier, deps.Logger).Handler)
	if deps.Redis != nil {
		protected.Use(middleware.NewRateLimit(deps.Redis, deps.Logger).Handler)
	}
	s.billingHandlers.RegisterRoutes(protected)
	s.subscriptionHandlers.RegisterRoutes(protected)
	s.chatHandlers.RegisterRoutes(protected)

	return s
}

// ServeHTTP dispatches to the underlying router
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument records request metrics keyed by the route template, so path
// parameters do not explode label cardinality
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		s.metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
	})
}
