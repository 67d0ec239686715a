package database

import (
	"context"
	"testing"
	"time"

	"sana/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusDraft, time.Now().Add(48*time.Hour))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, got.ID)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Nil(t, got.SessionID)
}

func TestGetBookingNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetBooking(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateBookingStatusGuarded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusPendingPayment, time.Now().Add(48*time.Hour))

	err := db.UpdateBookingStatusGuarded(ctx, booking.ID, 1, models.StatusPendingPayment, models.StatusConfirmed)
	require.NoError(t, err)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)

	// Stale version loses the race
	err = db.UpdateBookingStatusGuarded(ctx, booking.ID, 1, models.StatusConfirmed, models.StatusInProgress)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Wrong expected status loses too
	err = db.UpdateBookingStatusGuarded(ctx, booking.ID, 2, models.StatusPendingPayment, models.StatusInProgress)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestMarkBookingCancelled(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusConfirmed, time.Now().Add(48*time.Hour))

	require.NoError(t, db.MarkBookingCancelled(ctx, booking.ID, 1, models.StatusConfirmed))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	err = db.MarkBookingCancelled(ctx, booking.ID, 2, models.StatusConfirmed)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestRescheduleBookingOnlyConfirmed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	start := time.Now().Add(48 * time.Hour)
	confirmed := mustCreateBooking(t, db, order.ID, models.StatusConfirmed, start)
	draft := mustCreateBooking(t, db, order.ID, models.StatusDraft, start)

	newStart := start.Add(24 * time.Hour)
	require.NoError(t, db.RescheduleBooking(ctx, confirmed.ID, 1, newStart, newStart.Add(time.Hour)))

	got, err := db.GetBooking(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, newStart, got.StartTime, time.Second)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)

	err = db.RescheduleBooking(ctx, draft.ID, 1, newStart, newStart.Add(time.Hour))
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestCountPractitionerOverlaps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	existing := mustCreateBooking(t, db, order.ID, models.StatusConfirmed, start)

	// Half-open windows: touching end-to-start is not an overlap
	count, err := db.CountPractitionerOverlaps(ctx, 501, existing.EndTime, existing.EndTime.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = db.CountPractitionerOverlaps(ctx, 501, start.Add(30*time.Minute), start.Add(90*time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The booking itself is excluded when rescheduling
	count, err = db.CountPractitionerOverlaps(ctx, 501, start, start.Add(time.Hour), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Cancelled bookings don't block the slot
	require.NoError(t, db.MarkBookingCancelled(ctx, existing.ID, 1, models.StatusConfirmed))
	count, err = db.CountPractitionerOverlaps(ctx, 501, start, start.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetSessionRoster(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	start := time.Now().Add(48 * time.Hour)
	sessionID := int64(42)

	for i, status := range []string{models.StatusConfirmed, models.StatusInProgress, models.StatusCancelled} {
		booking := &models.Booking{
			OrderID:        order.ID,
			SessionID:      &sessionID,
			PractitionerID: 501,
			ClientID:       int64(901 + i),
			ServiceType:    "group_session",
			Status:         status,
			PaymentStatus:  models.PaymentPaid,
			StartTime:      start,
			EndTime:        start.Add(time.Hour),
		}
		require.NoError(t, db.CreateBooking(ctx, booking))
	}

	roster, err := db.GetSessionRoster(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, int64(901), roster[0].ClientID)
	assert.Equal(t, int64(902), roster[1].ClientID)
}
