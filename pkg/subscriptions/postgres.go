package subscriptions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lumenchat/lumenchat/pkg/plans"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves the subscription for a user
func (s *PostgresStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	query := `
		SELECT id, user_id, stripe_customer_id, stripe_subscription_id, status, tier,
		       current_period_end, cancel_at_period_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`
	sub := &Subscription{}
	var customerID, subscriptionID sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.ID, &sub.UserID, &customerID, &subscriptionID, &sub.Status, &sub.Tier,
		&sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.StripeCustomerID = customerID.String
	sub.StripeSubscriptionID = subscriptionID.String
	return sub, nil
}

// Upsert inserts or replaces the record for sub.UserID. On conflict the
// existing created_at is preserved and everything else is overwritten.
func (s *PostgresStore) Upsert(ctx context.Context, sub *Subscription) error {
	if sub.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	query := `
		INSERT INTO subscriptions (id, user_id, stripe_customer_id, stripe_subscription_id,
		                           status, tier, current_period_end, cancel_at_period_end,
		                           created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			status = EXCLUDED.status,
			tier = EXCLUDED.tier,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		sub.ID, sub.UserID, nullable(sub.StripeCustomerID), nullable(sub.StripeSubscriptionID),
		sub.Status, sub.Tier, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return nil
}

// Update applies a partial update keyed by user ID
func (s *PostgresStore) Update(ctx context.Context, userID string, fields UpdateFields) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if fields.StripeSubscriptionID != nil {
		setClauses = append(setClauses, fmt.Sprintf("stripe_subscription_id = $%d", argPos))
		args = append(args, *fields.StripeSubscriptionID)
		argPos++
	}
	if fields.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *fields.Status)
		argPos++
	}
	if fields.Tier != nil {
		setClauses = append(setClauses, fmt.Sprintf("tier = $%d", argPos))
		args = append(args, *fields.Tier)
		argPos++
	}
	if fields.CurrentPeriodEnd != nil {
		setClauses = append(setClauses, fmt.Sprintf("current_period_end = $%d", argPos))
		args = append(args, *fields.CurrentPeriodEnd)
		argPos++
	}
	if fields.CancelAtPeriodEnd != nil {
		setClauses = append(setClauses, fmt.Sprintf("cancel_at_period_end = $%d", argPos))
		args = append(args, *fields.CancelAtPeriodEnd)
		argPos++
	}

	if len(setClauses) == 0 {
		return nil // Nothing to update
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE subscriptions SET %s WHERE user_id = $%d",
		strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("update subscription for user %s: %w", userID, ErrNotFound)
	}

	return nil
}

// CustomerID returns the stored billing customer ID for a user
func (s *PostgresStore) CustomerID(ctx context.Context, userID string) (string, error) {
	query := `SELECT stripe_customer_id FROM subscriptions WHERE user_id = $1`
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&customerID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get customer id: %w", err)
	}
	if !customerID.Valid || customerID.String == "" {
		return "", ErrNotFound
	}
	return customerID.String, nil
}

// CountActiveByTier returns the number of active subscriptions per tier
func (s *PostgresStore) CountActiveByTier(ctx context.Context) (map[plans.Tier]int64, error) {
	query := `
		SELECT tier, COUNT(*)
		FROM subscriptions
		WHERE status = $1
		GROUP BY tier
	`
	rows, err := s.db.QueryContext(ctx, query, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[plans.Tier]int64)
	for rows.Next() {
		var tier plans.Tier
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		counts[tier] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscription counts: %w", err)
	}

	return counts, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
