package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/lumenchat/lumenchat/pkg/plans"
)

// Status mirrors the billing provider's subscription status values
type Status string

const (
	StatusActive            Status = "active"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPastDue           Status = "past_due"
	StatusTrialing          Status = "trialing"
	StatusUnpaid            Status = "unpaid"
)

// ErrNotFound is returned when a user has no subscription record
var ErrNotFound = errors.New("subscription not found")

// Subscription is one user's subscription record
type Subscription struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	Status               Status     `json:"status"`
	Tier                 plans.Tier `json:"tier"`
	CurrentPeriodEnd     time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsActive reports whether this record grants paid entitlements
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// Entitlements resolves this record onto feature limits. A nil record or any
// non-active status resolves to free limits.
func (s *Subscription) Entitlements() plans.FeatureLimits {
	if s == nil {
		return plans.Resolve(plans.TierFree, false)
	}
	return plans.Resolve(s.Tier, s.IsActive())
}

// UpdateFields holds the mutable subscription columns for a partial update.
// Nil fields are left untouched.
type UpdateFields struct {
	StripeSubscriptionID *string
	Status               *Status
	Tier                 *plans.Tier
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    *bool
}

// Store provides access to subscription records
type Store interface {
	// Get returns the subscription for a user, or ErrNotFound
	Get(ctx context.Context, userID string) (*Subscription, error)

	// Upsert inserts or replaces the record keyed by user ID, preserving
	// the original created_at on conflict
	Upsert(ctx context.Context, sub *Subscription) error

	// Update applies a partial update to an existing record. A missing row
	// is an error, never a silent no-op.
	Update(ctx context.Context, userID string, fields UpdateFields) error

	// CustomerID returns the stored billing customer ID for a user, or
	// ErrNotFound when the user has no record or no customer ID
	CustomerID(ctx context.Context, userID string) (string, error)

	// CountActiveByTier returns the number of active subscriptions per tier
	CountActiveByTier(ctx context.Context) (map[plans.Tier]int64, error)
}
