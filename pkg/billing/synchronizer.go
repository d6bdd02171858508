package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
	"github.com/lumenchat/lumenchat/pkg/subscriptions"
)

// Synchronizer applies Stripe webhook events to the subscription store.
// Replayed events converge on the same stored state; concurrent events for
// the same subscription resolve last write wins.
type Synchronizer struct {
	client  Client
	store   subscriptions.Store
	catalog *plans.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSynchronizer creates a Synchronizer. Passing the cached subscription
// store keeps cache invalidation on the write path.
func NewSynchronizer(client Client, store subscriptions.Store, catalog *plans.Catalog, logger *observability.Logger, metrics *observability.Metrics) *Synchronizer {
	return &Synchronizer{
		client:  client,
		store:   store,
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleEvent verifies and processes one webhook delivery. It returns
// ErrInvalidSignature for unverifiable payloads before touching storage,
// nil for event types it does not act on, and a processing error otherwise.
func (s *Synchronizer) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.client.ConstructEvent(payload, signature)
	if err != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		return err
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	var handleErr error
	switch string(event.Type) {
	case EventCheckoutCompleted:
		handleErr = s.handleCheckoutCompleted(ctx, logger, event)
	case EventSubscriptionUpdated:
		handleErr = s.handleSubscriptionChanged(ctx, logger, event, false)
	case EventSubscriptionDeleted:
		handleErr = s.handleSubscriptionChanged(ctx, logger, event, true)
	default:
		logger.Debug("Ignoring unhandled webhook event type")
		s.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		return nil
	}

	if handleErr != nil {
		logger.WithError(handleErr).Error("Failed to process webhook event")
		s.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return handleErr
	}

	s.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	return nil
}

// handleCheckoutCompleted upserts the subscription created by a completed
// checkout. One-time payment sessions carry no subscription and are skipped.
func (s *Synchronizer) handleCheckoutCompleted(ctx context.Context, logger *observability.Logger, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		logger.Info("Checkout session has no subscription, skipping")
		return nil
	}

	sub, err := s.client.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return err
	}

	state, err := s.resolveState(ctx, sub)
	if err != nil {
		return err
	}

	record := &subscriptions.Subscription{
		UserID:               state.userID,
		StripeCustomerID:     state.customerID,
		StripeSubscriptionID: sub.ID,
		Status:               state.status,
		Tier:                 state.tier,
		CurrentPeriodEnd:     state.periodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"user_id": state.userID,
		"tier":    string(state.tier),
		"status":  string(state.status),
	}).Info("Subscription synchronized from checkout")
	return nil
}

// handleSubscriptionChanged applies an update or deletion event to the
// existing record. An event for a user with no stored record is a processing
// error so the provider retries once the checkout event has landed.
func (s *Synchronizer) handleSubscriptionChanged(ctx context.Context, logger *observability.Logger, event stripe.Event, deleted bool) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	state, err := s.resolveState(ctx, &sub)
	if err != nil {
		return err
	}

	tier := state.tier
	if deleted {
		tier = plans.TierFree
	}

	fields := subscriptions.UpdateFields{
		StripeSubscriptionID: &sub.ID,
		Status:               &state.status,
		Tier:                 &tier,
		CurrentPeriodEnd:     &state.periodEnd,
		CancelAtPeriodEnd:    &sub.CancelAtPeriodEnd,
	}
	if err := s.store.Update(ctx, state.userID, fields); err != nil {
		if errors.Is(err, subscriptions.ErrNotFound) {
			return fmt.Errorf("no stored subscription for user %s: %w", state.userID, err)
		}
		return err
	}

	logger.WithFields(map[string]interface{}{
		"user_id": state.userID,
		"tier":    string(tier),
		"status":  string(state.status),
	}).Info("Subscription synchronized")
	return nil
}

// subscriptionState is the store-shaped view of a provider subscription
type subscriptionState struct {
	userID     string
	customerID string
	status     subscriptions.Status
	tier       plans.Tier
	periodEnd  time.Time
}

// resolveState maps a provider subscription onto stored fields. The user is
// identified by the customer's userId metadata; its absence is fatal because
// nothing else links the subscription to an account. Unknown price IDs map
// to the free tier.
func (s *Synchronizer) resolveState(ctx context.Context, sub *stripe.Subscription) (*subscriptionState, error) {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, fmt.Errorf("subscription %s has no customer", sub.ID)
	}

	cust, err := s.client.GetCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return nil, err
	}
	userID := cust.Metadata["userId"]
	if userID == "" {
		return nil, fmt.Errorf("customer %s: %w", cust.ID, ErrMissingUserID)
	}

	var priceID string
	var periodEnd time.Time
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			priceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			periodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}

	return &subscriptionState{
		userID:     userID,
		customerID: cust.ID,
		status:     subscriptions.Status(sub.Status),
		tier:       s.catalog.TierForPriceID(priceID),
		periodEnd:  periodEnd,
	}, nil
}
