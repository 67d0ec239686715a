package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sana/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReadyEarnings(t *testing.T, db *DB, practitionerID, netCents int64) *models.EarningsTransaction {
	t.Helper()
	ctx := context.Background()
	order := &models.Order{
		OrderType:      models.OrderTypeSingle,
		PractitionerID: practitionerID,
		ClientID:       901,
		TotalCents:     netCents,
		TotalSessions:  1,
		Status:         models.OrderOpen,
	}
	require.NoError(t, db.CreateOrder(ctx, order))
	booking := &models.Booking{
		OrderID:        order.ID,
		PractitionerID: practitionerID,
		ClientID:       901,
		ServiceType:    "session",
		Status:         models.StatusCompleted,
		PaymentStatus:  models.PaymentPaid,
		StartTime:      time.Now().Add(-2 * time.Hour),
		EndTime:        time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.CreateBooking(ctx, booking))
	tx := &models.EarningsTransaction{
		BookingID:      booking.ID,
		PractitionerID: practitionerID,
		GrossCents:     netCents,
		NetCents:       netCents,
		PayoutStatus:   models.EarningsReady,
	}
	require.NoError(t, db.CreateEarningsTransaction(ctx, tx))
	return tx
}

func TestCreatePayoutBatchClaimsEligible(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedReadyEarnings(t, db, 501, 4000)
	seedReadyEarnings(t, db, 501, 8500)
	other := seedReadyEarnings(t, db, 777, 9999)

	payout, claimed, err := db.CreatePayoutBatch(ctx, 501, 5000, "bank_transfer", "batch-1", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12500), payout.TotalCents)
	assert.Equal(t, 2, payout.TxCount)
	assert.Equal(t, models.PayoutProcessing, payout.Status)
	require.Len(t, claimed, 2)

	// Чужие транзакции не затронуты
	otherTx, err := db.GetEarningsByBooking(ctx, other.BookingID)
	require.NoError(t, err)
	assert.Nil(t, otherTx.PayoutID)

	// Second run has nothing left to claim
	_, _, err = db.CreatePayoutBatch(ctx, 501, 5000, "bank_transfer", "batch-2", "idem-2")
	assert.ErrorIs(t, err, ErrBelowMinimum)
}

func TestCreatePayoutBatchBelowMinimum(t *testing.T) {
	db := setupTestDB(t)

	seedReadyEarnings(t, db, 501, 4999)

	_, _, err := db.CreatePayoutBatch(context.Background(), 501, 5000, "bank_transfer", "batch-1", "idem-1")
	assert.ErrorIs(t, err, ErrBelowMinimum)
}

func TestCreatePayoutBatchIncludesDuePending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx := seedReadyEarnings(t, db, 501, 8000)
	due := time.Now().Add(-time.Hour)
	_, err := db.ExecContext(ctx,
		`UPDATE earnings_transactions SET payout_status = ?, payout_date = ? WHERE id = ?`,
		models.EarningsPending, due, tx.ID)
	require.NoError(t, err)

	payout, _, err := db.CreatePayoutBatch(ctx, 501, 5000, "bank_transfer", "batch-1", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8000), payout.TotalCents)
}

func TestMarkPayoutCompletedMarksTransactionsPaid(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx := seedReadyEarnings(t, db, 501, 8000)
	payout, _, err := db.CreatePayoutBatch(ctx, 501, 0, "bank_transfer", "batch-1", "idem-1")
	require.NoError(t, err)

	require.NoError(t, db.MarkPayoutCompleted(ctx, payout.ID, "tr_123"))

	got, err := db.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutCompleted, got.Status)
	assert.Equal(t, "tr_123", got.TransferID)

	paid, err := db.GetEarningsByBooking(ctx, tx.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.EarningsPaid, paid.PayoutStatus)

	// Settled payout is not completable twice
	err = db.MarkPayoutCompleted(ctx, payout.ID, "tr_456")
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestReleasePayoutTransactions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx := seedReadyEarnings(t, db, 501, 8000)
	payout, _, err := db.CreatePayoutBatch(ctx, 501, 0, "bank_transfer", "batch-1", "idem-1")
	require.NoError(t, err)

	require.NoError(t, db.MarkPayoutFailed(ctx, payout.ID, "rail timeout"))
	require.NoError(t, db.ReleasePayoutTransactions(ctx, payout.ID))

	released, err := db.GetEarningsByBooking(ctx, tx.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.EarningsReady, released.PayoutStatus)
	assert.Nil(t, released.PayoutID)

	failed, err := db.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutFailed, failed.Status)
	assert.Equal(t, "rail timeout", failed.LastError)
}

func TestGetPayoutByBatchID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedReadyEarnings(t, db, 501, 8000)
	payout, _, err := db.CreatePayoutBatch(ctx, 501, 0, "bank_transfer", "batch-xyz", "idem-xyz")
	require.NoError(t, err)

	got, err := db.GetPayoutByBatchID(ctx, "batch-xyz")
	require.NoError(t, err)
	assert.Equal(t, payout.ID, got.ID)
	assert.Equal(t, "idem-xyz", got.IdempotencyKey)

	_, err = db.GetPayoutByBatchID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentPayoutBatch(t *testing.T) {
	logger := zerolog.Nop()
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	seedReadyEarnings(t, db, 501, 8000)
	seedReadyEarnings(t, db, 501, 6000)

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			_, _, bErr := db.CreatePayoutBatch(ctx, 501, 5000, "bank_transfer",
				fmt.Sprintf("batch-%d", id), fmt.Sprintf("idem-%d", id))
			results <- bErr
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
		}
	}

	// Exactly one batch claims the transactions; the rest find nothing eligible
	assert.Equal(t, 1, successCount, "only one concurrent batch run should claim the transactions")

	payouts, err := db.GetPayoutsByPractitioner(ctx, 501)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(14000), payouts[0].TotalCents)
}
