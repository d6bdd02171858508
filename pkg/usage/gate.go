package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenchat/lumenchat/pkg/observability"
	"github.com/lumenchat/lumenchat/pkg/plans"
	"github.com/lumenchat/lumenchat/pkg/subscriptions"
)

// Decision is the outcome of a quota check. Quota exhaustion is a normal
// negative decision, not an error.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Tier      plans.Tier  `json:"tier"`
	Limit     plans.Limit `json:"limit"`
	Remaining plans.Limit `json:"remaining"`
}

// Gate decides whether a user may send a message, consuming one unit of
// quota when it says yes.
type Gate struct {
	subs    subscriptions.Store
	usage   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewGate creates a Gate using the real clock
func NewGate(subs subscriptions.Store, usage Store, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		subs:    subs,
		usage:   usage,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock replaces the gate's clock
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// TryConsumeMessage resolves the user's entitlements and consumes one message
// of quota. Users without a subscription record meter against free limits.
// An unlimited quota short-circuits without touching the counter. A rejected
// call mutates nothing and reports zero remaining.
func (g *Gate) TryConsumeMessage(ctx context.Context, userID string) (Decision, error) {
	sub, err := g.subs.Get(ctx, userID)
	if err != nil && !errors.Is(err, subscriptions.ErrNotFound) {
		return Decision{}, fmt.Errorf("failed to resolve subscription: %w", err)
	}

	tier := plans.TierFree
	if sub.IsActive() {
		tier = sub.Tier
	}
	limit := sub.Entitlements().MessagesPerMonth

	if limit.IsUnlimited() {
		g.metrics.MessagesSentTotal.WithLabelValues(string(tier)).Inc()
		return Decision{Allowed: true, Tier: tier, Limit: limit, Remaining: plans.Unlimited}, nil
	}

	periodStart, periodEnd := MonthWindow(g.now())
	accepted, newCount, err := g.usage.IncrementIfUnderQuota(ctx, userID, periodStart, periodEnd, int64(limit))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to consume quota: %w", err)
	}

	if !accepted {
		g.metrics.QuotaRejectionsTotal.WithLabelValues(string(tier)).Inc()
		g.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"tier":    string(tier),
			"limit":   int64(limit),
		}).Info("Message rejected, monthly quota exhausted")
		return Decision{Allowed: false, Tier: tier, Limit: limit, Remaining: 0}, nil
	}

	g.metrics.MessagesSentTotal.WithLabelValues(string(tier)).Inc()
	remaining := plans.Limit(int64(limit) - newCount)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Tier: tier, Limit: limit, Remaining: remaining}, nil
}

// CurrentUsage returns the user's usage for the current period together with
// the effective limit. Absent records report zero without creating a row.
func (g *Gate) CurrentUsage(ctx context.Context, userID string) (*Record, plans.Limit, error) {
	sub, err := g.subs.Get(ctx, userID)
	if err != nil && !errors.Is(err, subscriptions.ErrNotFound) {
		return nil, 0, fmt.Errorf("failed to resolve subscription: %w", err)
	}
	limit := sub.Entitlements().MessagesPerMonth

	periodStart, periodEnd := MonthWindow(g.now())
	rec, err := g.usage.Get(ctx, userID, periodStart, periodEnd)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{
			UserID:      userID,
			Count:       0,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}
	} else if err != nil {
		return nil, 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return rec, limit, nil
}
