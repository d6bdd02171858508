package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lumenchat/lumenchat/pkg/httputil"
	"github.com/lumenchat/lumenchat/pkg/middleware"
	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
	"github.com/lumenchat/lumenchat/pkg/subscriptions"
	"github.com/lumenchat/lumenchat/pkg/usage"
)

// SubscriptionHandlers serves the current user's subscription and usage state
type SubscriptionHandlers struct {
	subs   subscriptions.Store
	gate   *usage.Gate
	logger *observability.Logger
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers
func NewSubscriptionHandlers(subs subscriptions.Store, gate *usage.Gate, logger *observability.Logger) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subs:   subs,
		gate:   gate,
		logger: logger,
	}
}

// RegisterRoutes registers subscription and usage routes
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscription", h.GetSubscription).Methods("GET")
	router.HandleFunc("/usage", h.GetUsage).Methods("GET")
}

type subscriptionResponse struct {
	Tier              plans.Tier           `json:"tier"`
	Status            subscriptions.Status `json:"status,omitempty"`
	CurrentPeriodEnd  *time.Time           `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                 `json:"cancel_at_period_end"`
	Entitlements      plans.FeatureLimits  `json:"entitlements"`
}

// GetSubscription returns the user's subscription state. A user with no
// record is on the free plan, not an error.
func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	sub, err := h.subs.Get(r.Context(), userID)
	if err != nil && !errors.Is(err, subscriptions.ErrNotFound) {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to load subscription")
		httputil.WriteInternalError(w)
		return
	}

	resp := subscriptionResponse{
		Tier:         plans.TierFree,
		Entitlements: sub.Entitlements(),
	}
	if sub != nil {
		resp.Status = sub.Status
		resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if sub.IsActive() {
			resp.Tier = sub.Tier
		}
		if !sub.CurrentPeriodEnd.IsZero() {
			end := sub.CurrentPeriodEnd
			resp.CurrentPeriodEnd = &end
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

type usageResponse struct {
	Used        int64       `json:"used"`
	Limit       plans.Limit `json:"limit"`
	Remaining   plans.Limit `json:"remaining"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
}

// GetUsage returns the user's message count for the current billing window
func (h *SubscriptionHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	record, limit, err := h.gate.CurrentUsage(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to load usage")
		httputil.WriteInternalError(w)
		return
	}

	remaining := plans.Limit(int64(limit) - record.Count)
	if limit.IsUnlimited() {
		remaining = plans.Unlimited
	} else if remaining < 0 {
		remaining = 0
	}

	httputil.WriteJSON(w, http.StatusOK, usageResponse{
		Used:        record.Count,
		Limit:       limit,
		Remaining:   remaining,
		PeriodStart: record.PeriodStart,
		PeriodEnd:   record.PeriodEnd,
	})
}
