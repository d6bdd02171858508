package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store using PostgreSQL. It relies on a unique
// index over (user_id, period_start).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves the usage record for a user and period
func (s *PostgresStore) Get(ctx context.Context, userID string, periodStart, periodEnd time.Time) (*Record, error) {
	query := `
		SELECT id, user_id, count, period_start, period_end, created_at, updated_at
		FROM usage_records
		WHERE user_id = $1 AND period_start = $2
	`
	rec := &Record{}
	err := s.db.QueryRowContext(ctx, query, userID, periodStart).Scan(
		&rec.ID, &rec.UserID, &rec.Count, &rec.PeriodStart, &rec.PeriodEnd,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	return rec, nil
}

// IncrementIfUnderQuota performs the conditional increment in a single
// statement. The WHERE clause on the conflict update makes the check and the
// increment one atomic step, so concurrent callers cannot both consume the
// final message of a quota. No row comes back when the guard fails, which is
// the rejection signal.
func (s *PostgresStore) IncrementIfUnderQuota(ctx context.Context, userID string, periodStart, periodEnd time.Time, quota int64) (bool, int64, error) {
	if quota <= 0 {
		return false, 0, nil
	}

	query := `
		INSERT INTO usage_records (id, user_id, count, period_start, period_end, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id, period_start) DO UPDATE SET
			count = usage_records.count + 1,
			updated_at = NOW()
		WHERE usage_records.count < $5
		RETURNING count
	`
	var newCount int64
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), userID, periodStart, periodEnd, quota).
		Scan(&newCount)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment usage: %w", err)
	}

	return true, newCount, nil
}
