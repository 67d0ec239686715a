package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sana/internal/models"
)

const bookingColumns = `id, order_id, parent_booking_id, session_id, practitioner_id, client_id,
                 service_type, status, payment_status, start_time, end_time, duration_minutes,
                 price_cents, final_amount_cents, requires_room, room_handle, no_show,
                 cancelled_at, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	b := &models.Booking{}
	err := row.Scan(
		&b.ID, &b.OrderID, &b.ParentBookingID, &b.SessionID, &b.PractitionerID, &b.ClientID,
		&b.ServiceType, &b.Status, &b.PaymentStatus, &b.StartTime, &b.EndTime, &b.DurationMinutes,
		&b.PriceCents, &b.FinalAmountCents, &b.RequiresRoom, &b.RoomHandle, &b.NoShow,
		&b.CancelledAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	query := `INSERT INTO bookings (
				order_id, parent_booking_id, session_id, practitioner_id, client_id,
				service_type, status, payment_status, start_time, end_time, duration_minutes,
				price_cents, final_amount_cents, requires_room, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		booking.OrderID,
		booking.ParentBookingID,
		booking.SessionID,
		booking.PractitionerID,
		booking.ClientID,
		booking.ServiceType,
		booking.Status,
		booking.PaymentStatus,
		booking.StartTime,
		booking.EndTime,
		booking.DurationMinutes,
		booking.PriceCents,
		booking.FinalAmountCents,
		booking.RequiresRoom,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// UpdateBookingStatusGuarded moves a booking to a new status only if it still
// has the expected status and version. Zero rows affected means a concurrent
// writer won the race.
func (db *DB) UpdateBookingStatusGuarded(ctx context.Context, id, fromVersion int64, fromStatus, toStatus string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, toStatus, time.Now(), id, fromStatus, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) MarkBookingCancelled(ctx context.Context, id, fromVersion int64, fromStatus string) error {
	now := time.Now()
	query := `UPDATE bookings SET status = ?, cancelled_at = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, models.StatusCancelled, now, now, id, fromStatus, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// RescheduleBooking mutates the time window of a confirmed booking. Not a
// status transition: the booking stays confirmed, only its window and version
// move.
func (db *DB) RescheduleBooking(ctx context.Context, id, fromVersion int64, start, end time.Time) error {
	query := `UPDATE bookings SET start_time = ?, end_time = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, start, end, time.Now(), id, models.StatusConfirmed, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to reschedule booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) SetBookingRoom(ctx context.Context, id int64, roomHandle string) error {
	query := `UPDATE bookings SET room_handle = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, roomHandle, time.Now(), id)
	return err
}

func (db *DB) SetBookingNoShow(ctx context.Context, id int64, noShow bool) error {
	query := `UPDATE bookings SET no_show = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, noShow, time.Now(), id)
	return err
}

// CountPractitionerOverlaps counts confirmed or payment-pending bookings of
// the practitioner whose half-open window [start_time, end_time) intersects
// [start, end), excluding excludeID.
func (db *DB) CountPractitionerOverlaps(ctx context.Context, practitionerID int64, start, end time.Time, excludeID int64) (int, error) {
	query := `SELECT COUNT(*) FROM bookings
              WHERE practitioner_id = ?
                AND id != ?
                AND status IN (?, ?)
                AND start_time < ?
                AND end_time > ?`
	var count int
	err := db.QueryRowContext(ctx, query, practitionerID, excludeID,
		models.StatusConfirmed, models.StatusPendingPayment, end, start).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count overlapping bookings: %w", err)
	}
	return count, nil
}

func (db *DB) GetBookingsByOrder(ctx context.Context, orderID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE order_id = ? ORDER BY start_time ASC`
	rows, err := db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by order: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetSessionRoster returns confirmed bookings of one group session. Used by
// aggregated reminder dispatch to send a single batch for the whole roster.
func (db *DB) GetSessionRoster(ctx context.Context, sessionID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE session_id = ? AND status IN (?, ?) ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, sessionID, models.StatusConfirmed, models.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to get session roster: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
