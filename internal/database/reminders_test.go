package database

import (
	"context"
	"testing"
	"time"

	"sana/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReminderDedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusConfirmed, time.Now().Add(48*time.Hour))

	r := &models.ReminderSchedule{
		BookingID: booking.ID,
		Offset:    models.OffsetDayBefore,
		Audience:  models.AudienceClient,
		FireAt:    booking.StartTime.Add(-24 * time.Hour),
	}
	require.NoError(t, db.CreateReminder(ctx, r))

	dup := &models.ReminderSchedule{
		BookingID: booking.ID,
		Offset:    models.OffsetDayBefore,
		Audience:  models.AudienceClient,
		FireAt:    booking.StartTime.Add(-24 * time.Hour),
	}
	assert.ErrorIs(t, db.CreateReminder(ctx, dup), ErrDuplicateSchedule)

	// Другая аудитория — отдельное напоминание
	other := &models.ReminderSchedule{
		BookingID: booking.ID,
		Offset:    models.OffsetDayBefore,
		Audience:  models.AudiencePractitioner,
		FireAt:    booking.StartTime.Add(-24 * time.Hour),
	}
	require.NoError(t, db.CreateReminder(ctx, other))

	reminders, err := db.GetRemindersByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Len(t, reminders, 2)
}

func TestClaimAndReopenReminder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusConfirmed, time.Now().Add(time.Minute))

	r := &models.ReminderSchedule{
		BookingID: booking.ID,
		Offset:    models.OffsetSoon,
		Audience:  models.AudienceClient,
		FireAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.CreateReminder(ctx, r))

	require.NoError(t, db.ClaimReminder(ctx, r.ID))
	assert.ErrorIs(t, db.ClaimReminder(ctx, r.ID), ErrConcurrentModification)

	due, err := db.GetDueReminders(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Failed send reopens the reminder for the next tick
	require.NoError(t, db.ReopenReminder(ctx, r.ID))
	due, err = db.GetDueReminders(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, r.ID, due[0].ID)
	assert.Nil(t, due[0].SentAt)
}

func TestCancelPendingReminders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	booking := mustCreateBooking(t, db, order.ID, models.StatusConfirmed, time.Now().Add(48*time.Hour))

	pending := &models.ReminderSchedule{
		BookingID: booking.ID,
		Offset:    models.OffsetDayBefore,
		Audience:  models.AudienceClient,
		FireAt:    booking.StartTime.Add(-24 * time.Hour),
	}
	require.NoError(t, db.CreateReminder(ctx, pending))

	sent := &models.ReminderSchedule{
		BookingID: booking.ID,
		Offset:    models.OffsetSoon,
		Audience:  models.AudienceClient,
		FireAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.CreateReminder(ctx, sent))
	require.NoError(t, db.ClaimReminder(ctx, sent.ID))

	n, err := db.CancelPendingReminders(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	reminders, err := db.GetRemindersByBooking(ctx, booking.ID)
	require.NoError(t, err)
	byID := make(map[int64]string, len(reminders))
	for _, r := range reminders {
		byID[r.ID] = r.Status
	}
	assert.Equal(t, models.ReminderCancelled, byID[pending.ID])
	assert.Equal(t, models.ReminderSent, byID[sent.ID])
}

func TestGetDueRemindersOrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypeSingle, 10000, 1)
	now := time.Now()
	var ids []int64
	for i := 3; i >= 1; i-- {
		booking := mustCreateBooking(t, db, order.ID, models.StatusConfirmed, now.Add(time.Hour))
		r := &models.ReminderSchedule{
			BookingID: booking.ID,
			Offset:    models.OffsetSoon,
			Audience:  models.AudienceClient,
			FireAt:    now.Add(-time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.CreateReminder(ctx, r))
		ids = append(ids, r.ID)
	}

	due, err := db.GetDueReminders(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Oldest fire_at first
	assert.Equal(t, ids[0], due[0].ID)
	assert.Equal(t, ids[1], due[1].ID)
}
