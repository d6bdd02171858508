package billing

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v82"
)

// ErrInvalidSignature means the webhook payload failed signature
// verification. The caller should answer with a client error so the provider
// does not retry.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMissingUserID means a Stripe customer carries no userId metadata, so
// the event cannot be attributed to a user
var ErrMissingUserID = errors.New("customer metadata missing userId")

// Webhook event types the synchronizer acts on. Everything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Client covers the slice of the Stripe API this service uses. StripeClient
// is the real implementation; tests substitute a fake.
type Client interface {
	// ConstructEvent verifies the webhook signature and parses the event.
	// Verification failure wraps ErrInvalidSignature.
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)

	// GetSubscription retrieves a subscription by ID
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)

	// GetCustomer retrieves a customer by ID
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)

	// CreateOrRetrieveCustomer finds the customer for a user, backfilling
	// missing userId metadata, or creates one. Returns the customer ID.
	CreateOrRetrieveCustomer(ctx context.Context, userID, email string) (string, error)

	// CreateCheckoutSession starts a subscription checkout for a price
	CreateCheckoutSession(ctx context.Context, customerID, priceID, returnURL string) (*stripe.CheckoutSession, error)

	// CreatePortalSession opens a customer portal session
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}
