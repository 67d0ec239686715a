package database

import (
	"context"
	"fmt"
	"time"

	"sana/internal/models"
)

const reminderColumns = `id, booking_id, session_id, offset_kind, audience, fire_at, status, sent_at, created_at`

func scanReminder(row interface{ Scan(...any) error }) (*models.ReminderSchedule, error) {
	r := &models.ReminderSchedule{}
	err := row.Scan(
		&r.ID, &r.BookingID, &r.SessionID, &r.Offset, &r.Audience,
		&r.FireAt, &r.Status, &r.SentAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateReminder schedules one reminder. The partial unique index makes a
// repeated schedule for the same (booking, offset, audience) a no-op reported
// as ErrDuplicateSchedule.
func (db *DB) CreateReminder(ctx context.Context, r *models.ReminderSchedule) error {
	query := `INSERT OR IGNORE INTO reminder_schedules (
				booking_id, session_id, offset_kind, audience, fire_at, status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		r.BookingID, r.SessionID, r.Offset, r.Audience, r.FireAt, models.ReminderPending, now)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDuplicateSchedule
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.Status = models.ReminderPending
	r.CreatedAt = now

	return nil
}

// CancelPendingReminders cancels all unsent reminders of a booking.
// Fired on cancellation and reschedule before regeneration.
func (db *DB) CancelPendingReminders(ctx context.Context, bookingID int64) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE reminder_schedules SET status = ? WHERE booking_id = ? AND status = ?`,
		models.ReminderCancelled, bookingID, models.ReminderPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reminders: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func (db *DB) GetDueReminders(ctx context.Context, now time.Time, limit int) ([]*models.ReminderSchedule, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminder_schedules
              WHERE status = ? AND fire_at <= ? ORDER BY fire_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.ReminderPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*models.ReminderSchedule
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// ClaimReminder flips a pending reminder to sent. The guarded UPDATE is the
// dedup flag: only one dispatcher wins, the send happens after this commits.
func (db *DB) ClaimReminder(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE reminder_schedules SET status = ?, sent_at = ? WHERE id = ? AND status = ?`,
		models.ReminderSent, time.Now(), id, models.ReminderPending)
	if err != nil {
		return fmt.Errorf("failed to claim reminder: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ReopenReminder reverts a claimed reminder whose send failed so a retried
// dispatch can pick it up again.
func (db *DB) ReopenReminder(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE reminder_schedules SET status = ?, sent_at = NULL WHERE id = ? AND status = ?`,
		models.ReminderPending, id, models.ReminderSent)
	if err != nil {
		return fmt.Errorf("failed to reopen reminder: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetRemindersByBooking(ctx context.Context, bookingID int64) ([]*models.ReminderSchedule, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminder_schedules WHERE booking_id = ? ORDER BY fire_at ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reminders by booking: %w", err)
	}
	defer rows.Close()

	var reminders []*models.ReminderSchedule
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}
