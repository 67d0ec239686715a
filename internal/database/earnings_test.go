package database

import (
	"context"
	"testing"
	"time"

	"sana/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreateEarnings(t *testing.T, db *DB, bookingID int64, status string) *models.EarningsTransaction {
	t.Helper()
	tx := &models.EarningsTransaction{
		BookingID:       bookingID,
		PractitionerID:  501,
		GrossCents:      10000,
		CommissionRate:  15,
		CommissionCents: 1500,
		NetCents:        8500,
		PayoutStatus:    status,
	}
	require.NoError(t, db.CreateEarningsTransaction(context.Background(), tx))
	return tx
}

func TestCreateEarningsTransactionDedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusCompleted, time.Now().Add(-2*time.Hour))

	first := mustCreateEarnings(t, db, booking.ID, models.EarningsReady)

	// Одна транзакция на бронирование, повтор игнорируется
	dup := &models.EarningsTransaction{
		BookingID:      booking.ID,
		PractitionerID: 501,
		GrossCents:     99999,
		NetCents:       99999,
		PayoutStatus:   models.EarningsReady,
	}
	err := db.CreateEarningsTransaction(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	got, err := db.GetEarningsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, int64(8500), got.NetCents)
}

func TestMarkEarningsReady(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypePackage, 50000, 5)
	booking := mustCreateBooking(t, db, order.ID, models.StatusCompleted, time.Now().Add(-2*time.Hour))
	tx := mustCreateEarnings(t, db, booking.ID, models.EarningsPending)

	require.NoError(t, db.MarkEarningsReady(ctx, tx.ID))

	got, err := db.GetEarningsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EarningsReady, got.PayoutStatus)

	// Already released: the guarded update finds nothing
	err = db.MarkEarningsReady(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestGetPractitionersWithEligibleEarnings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	seed := func(practitionerID int64, status string, payoutDate *time.Time) {
		t.Helper()
		booking := mustCreateBooking(t, db, order.ID, models.StatusCompleted, now.Add(-2*time.Hour))
		require.NoError(t, db.CreateEarningsTransaction(ctx, &models.EarningsTransaction{
			BookingID:      booking.ID,
			PractitionerID: practitionerID,
			GrossCents:     10000,
			NetCents:       8500,
			PayoutStatus:   status,
			PayoutDate:     payoutDate,
		}))
	}

	due := now.Add(-time.Hour)
	future := now.Add(48 * time.Hour)
	seed(101, models.EarningsReady, nil)
	seed(102, models.EarningsPending, nil)     // ждёт завершения пакета
	seed(103, models.EarningsPending, &due)    // плановая дата наступила
	seed(104, models.EarningsPending, &future) // ещё рано
	seed(105, models.EarningsVoided, nil)

	// Уже забранные выплатой транзакции не считаются
	seed(106, models.EarningsReady, nil)
	_, _, err := db.CreatePayoutBatch(ctx, 106, 0, "bank_transfer", "batch-el", "idem-el")
	require.NoError(t, err)

	got, err := db.GetPractitionersWithEligibleEarnings(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 103}, got)
}

func TestVoidEarningsSkipsClaimed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusCompleted, time.Now().Add(-2*time.Hour))
	mustCreateEarnings(t, db, booking.ID, models.EarningsReady)

	payout, _, err := db.CreatePayoutBatch(ctx, 501, 0, "bank_transfer", "batch-void", "idem-void")
	require.NoError(t, err)

	// Claimed by a payout: voiding must not touch it
	require.NoError(t, db.VoidEarningsForBooking(ctx, booking.ID))

	got, err := db.GetEarningsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EarningsReady, got.PayoutStatus)
	require.NotNil(t, got.PayoutID)
	assert.Equal(t, payout.ID, *got.PayoutID)
}

func TestVoidEarningsUnclaimed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusCompleted, time.Now().Add(-2*time.Hour))
	mustCreateEarnings(t, db, booking.ID, models.EarningsPending)

	require.NoError(t, db.VoidEarningsForBooking(ctx, booking.ID))

	got, err := db.GetEarningsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EarningsVoided, got.PayoutStatus)
}
