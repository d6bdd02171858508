package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lumenchat/lumenchat/pkg/billing"
	"github.com/lumenchat/lumenchat/pkg/config"
	"github.com/lumenchat/lumenchat/pkg/httputil"
	"github.com/lumenchat/lumenchat/pkg/middleware"
	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
	"github.com/lumenchat/lumenchat/pkg/subscriptions"
)

// maxWebhookBytes bounds the webhook payload read. Stripe events are far
// smaller than this.
const maxWebhookBytes = 1 << 20

// BillingHandlers handles plan listing, checkout, portal, and webhook requests
type BillingHandlers struct {
	client       billing.Client
	synchronizer *billing.Synchronizer
	catalog      *plans.Catalog
	subs         subscriptions.Store
	cfg          config.StripeConfig
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(client billing.Client, synchronizer *billing.Synchronizer, catalog *plans.Catalog, subs subscriptions.Store, cfg config.StripeConfig, logger *observability.Logger, metrics *observability.Metrics) *BillingHandlers {
	return &BillingHandlers{
		client:       client,
		synchronizer: synchronizer,
		catalog:      catalog,
		subs:         subs,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
	}
}

// RegisterPublicRoutes registers the routes that require no authentication
func (h *BillingHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/billing/plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/webhooks/stripe", h.HandleWebhook).Methods("POST")
}

// RegisterRoutes registers the authenticated billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/checkout-session", h.CreateCheckoutSession).Methods("POST")
	router.HandleFunc("/billing/portal-session", h.CreatePortalSession).Methods("POST")
}

// ListPlans returns the plan catalog
func (h *BillingHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"plans": h.catalog.Plans(),
	})
}

// CreateCheckoutSession starts a subscription checkout for the authenticated
// user. The price must belong to a purchasable plan in the catalog.
func (h *BillingHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		PriceID string `json:"price_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PriceID == "" {
		httputil.WriteBadRequest(w, "price_id is required")
		return
	}
	if !h.catalog.Plan(h.catalog.TierForPriceID(req.PriceID)).Purchasable() {
		httputil.WriteBadRequest(w, "unknown price_id")
		return
	}

	customerID, err := h.client.CreateOrRetrieveCustomer(r.Context(), claims.UserID, claims.Email)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", claims.UserID).Error("Failed to resolve billing customer")
		httputil.WriteInternalError(w)
		return
	}

	session, err := h.client.CreateCheckoutSession(r.Context(), customerID, req.PriceID, h.cfg.CheckoutReturnURL)
	if err != nil {
		h.metrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		h.logger.WithError(err).WithField("user_id", claims.UserID).Error("Failed to create checkout session")
		httputil.WriteInternalError(w)
		return
	}
	h.metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// CreatePortalSession opens the billing portal for an existing customer. A
// user who never checked out has no customer and gets a 404.
func (h *BillingHandlers) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	customerID, err := h.subs.CustomerID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, subscriptions.ErrNotFound) {
			httputil.WriteNotFoundError(w, "no billing account for user")
			return
		}
		h.logger.WithError(err).WithField("user_id", claims.UserID).Error("Failed to look up billing customer")
		httputil.WriteInternalError(w)
		return
	}

	session, err := h.client.CreatePortalSession(r.Context(), customerID, h.cfg.PortalReturnURL)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", claims.UserID).Error("Failed to create portal session")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"url": session.URL,
	})
}

// HandleWebhook processes a Stripe event delivery. A bad signature is the
// caller's fault and gets a 400 so Stripe stops retrying; a processing
// failure gets a 500 so Stripe retries later.
func (h *BillingHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		httputil.WriteBadRequest(w, "missing Stripe-Signature header")
		return
	}

	if err := h.synchronizer.HandleEvent(r.Context(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			httputil.WriteBadRequest(w, "invalid webhook signature")
			return
		}
		h.logger.WithError(err).Error("Webhook processing failed")
		httputil.WriteInternalError(w)
		return
	}

	w.WriteHeader(http.StatusOK)
}
