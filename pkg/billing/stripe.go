package billing

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeClient implements Client using the Stripe API
type StripeClient struct {
	webhookSecret string
}

// NewStripeClient creates a StripeClient. Setting the package-level key is
// how the stripe-go SDK is configured.
func NewStripeClient(apiKey, webhookSecret string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{webhookSecret: webhookSecret}
}

// ConstructEvent verifies the webhook signature and parses the event.
// API version mismatches are tolerated so a dashboard upgrade does not
// silently drop every delivery.
func (c *StripeClient) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// GetSubscription retrieves a subscription by ID
func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve stripe subscription %s: %w", id, err)
	}
	return sub, nil
}

// GetCustomer retrieves a customer by ID
func (c *StripeClient) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve stripe customer %s: %w", id, err)
	}
	return cust, nil
}

// CreateOrRetrieveCustomer finds or creates the Stripe customer for a user.
// Lookup order: metadata userId, then email. A customer found by email with
// no userId metadata gets it backfilled so future lookups hit the first path.
func (c *StripeClient) CreateOrRetrieveCustomer(ctx context.Context, userID, email string) (string, error) {
	if userID == "" || email == "" {
		return "", fmt.Errorf("user id and email are required")
	}

	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['userId']:'%s'", userID),
			Context: ctx,
		},
	}
	searchIter := customer.Search(searchParams)
	if searchIter.Next() {
		return searchIter.Customer().ID, nil
	}
	if err := searchIter.Err(); err != nil {
		return "", fmt.Errorf("failed to search stripe customers: %w", err)
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	listIter := customer.List(listParams)
	if listIter.Next() {
		existing := listIter.Customer()
		if existing.Metadata["userId"] == "" {
			updateParams := &stripe.CustomerParams{
				Metadata: map[string]string{"userId": userID},
			}
			updateParams.Context = ctx
			updated, err := customer.Update(existing.ID, updateParams)
			if err != nil {
				return "", fmt.Errorf("failed to backfill customer metadata: %w", err)
			}
			return updated.ID, nil
		}
		return existing.ID, nil
	}
	if err := listIter.Err(); err != nil {
		return "", fmt.Errorf("failed to list stripe customers: %w", err)
	}

	createParams := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{"userId": userID},
	}
	createParams.Context = ctx
	created, err := customer.New(createParams)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return created.ID, nil
}

// CreateCheckoutSession starts a subscription checkout. The customer must
// carry userId metadata so the completed-checkout webhook can attribute the
// subscription.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, customerID, priceID, returnURL string) (*stripe.CheckoutSession, error) {
	cust, err := c.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	userID := cust.Metadata["userId"]
	if userID == "" {
		return nil, ErrMissingUserID
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(returnURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(returnURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"customerId": customerID,
				"userId":     userID,
			},
		},
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		AllowPromotionCodes:      stripe.Bool(true),
	}
	params.Context = ctx

	session, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session, nil
}

// CreatePortalSession opens a customer portal session
func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := portalsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}
	return session, nil
}
