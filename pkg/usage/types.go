package usage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no usage record exists for the period
var ErrNotFound = errors.New("usage record not found")

// Record is one user's message count for one calendar-month period
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Count       int64     `json:"count"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MonthWindow returns the UTC calendar-month period containing now:
// the first instant of the month and the first instant of the next month.
func MonthWindow(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// Store provides access to usage records
type Store interface {
	// Get returns the record for a user and period, or ErrNotFound
	Get(ctx context.Context, userID string, periodStart, periodEnd time.Time) (*Record, error)

	// IncrementIfUnderQuota atomically increments the user's count for the
	// period if and only if the current count is below quota, creating the
	// record at count 1 when absent. It reports whether the increment was
	// accepted and the resulting count. A rejected call mutates nothing.
	IncrementIfUnderQuota(ctx context.Context, userID string, periodStart, periodEnd time.Time, quota int64) (accepted bool, newCount int64, err error)
}
