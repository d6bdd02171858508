package subscriptions

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumenchat/pkg/plans"
)

func subscriptionColumns() []string {
	return []string{
		"id", "user_id", "stripe_customer_id", "stripe_subscription_id", "status", "tier",
		"current_period_end", "cancel_at_period_end", "created_at", "updated_at",
	}
}

func TestPostgresStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Now()
	periodEnd := now.AddDate(0, 1, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, stripe_customer_id")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(subscriptionColumns()).
			AddRow("sub-id-1", "user-1", "cus_123", "sub_456", "active", "pro",
				periodEnd, false, now, now))

	sub, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub.UserID)
	assert.Equal(t, "cus_123", sub.StripeCustomerID)
	assert.Equal(t, "sub_456", sub.StripeSubscriptionID)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, plans.TierPro, sub.Tier)
	assert.False(t, sub.CancelAtPeriodEnd)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, stripe_customer_id")).
		WithArgs("user-missing").
		WillReturnRows(sqlmock.NewRows(subscriptionColumns()))

	sub, err := store.Get(context.Background(), "user-missing")
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	created := time.Now().Add(-24 * time.Hour)
	updated := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), sqlmock.AnyArg(),
			StatusActive, plans.TierPro, sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("sub-id-1", created, updated))

	sub := &Subscription{
		UserID:               "user-1",
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: "sub_456",
		Status:               StatusActive,
		Tier:                 plans.TierPro,
		CurrentPeriodEnd:     time.Now().AddDate(0, 1, 0),
	}
	require.NoError(t, store.Upsert(context.Background(), sub))

	// created_at comes back from the existing row, not the write time
	assert.Equal(t, created, sub.CreatedAt)
	assert.Equal(t, updated, sub.UpdatedAt)
	assert.NotEmpty(t, sub.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpsertRequiresUserID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	err = store.Upsert(context.Background(), &Subscription{Status: StatusActive})
	assert.Error(t, err)
}

func TestPostgresStoreUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	status := StatusCanceled
	tier := plans.TierFree

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET")).
		WithArgs(status, tier, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Update(context.Background(), "user-1", UpdateFields{
		Status: &status,
		Tier:   &tier,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateMissingRowFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	status := StatusCanceled

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET")).
		WithArgs(status, "user-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Update(context.Background(), "user-missing", UpdateFields{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreUpdateNoFieldsIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	require.NoError(t, store.Update(context.Background(), "user-1", UpdateFields{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCustomerID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT stripe_customer_id FROM subscriptions")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"stripe_customer_id"}).AddRow("cus_123"))

	id, err := store.CustomerID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_123", id)
}

func TestPostgresStoreCustomerIDEmptyTreatedAsMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT stripe_customer_id FROM subscriptions")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"stripe_customer_id"}).AddRow(nil))

	_, err = store.CustomerID(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreCountActiveByTier(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT tier, COUNT(*)")).
		WithArgs(StatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"tier", "count"}).
			AddRow("pro", 12).
			AddRow("enterprise", 3))

	counts, err := store.CountActiveByTier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), counts[plans.TierPro])
	assert.Equal(t, int64(3), counts[plans.TierEnterprise])
	assert.Equal(t, int64(0), counts[plans.TierFree])
}
