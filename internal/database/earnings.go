package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sana/internal/models"
)

const earningsColumns = `id, booking_id, practitioner_id, gross_cents, commission_rate,
                 commission_cents, fee_cents, net_cents, payout_status, payout_id,
                 payout_date, created_at, updated_at`

func scanEarnings(row interface{ Scan(...any) error }) (*models.EarningsTransaction, error) {
	t := &models.EarningsTransaction{}
	err := row.Scan(
		&t.ID, &t.BookingID, &t.PractitionerID, &t.GrossCents, &t.CommissionRate,
		&t.CommissionCents, &t.FeeCents, &t.NetCents, &t.PayoutStatus, &t.PayoutID,
		&t.PayoutDate, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateEarningsTransaction inserts exactly one transaction per booking.
// A second insert for the same booking is reported as ErrDuplicateTransaction.
func (db *DB) CreateEarningsTransaction(ctx context.Context, tx *models.EarningsTransaction) error {
	query := `INSERT OR IGNORE INTO earnings_transactions (
				booking_id, practitioner_id, gross_cents, commission_rate, commission_cents,
				fee_cents, net_cents, payout_status, payout_date, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		tx.BookingID,
		tx.PractitionerID,
		tx.GrossCents,
		tx.CommissionRate,
		tx.CommissionCents,
		tx.FeeCents,
		tx.NetCents,
		tx.PayoutStatus,
		tx.PayoutDate,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create earnings transaction: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDuplicateTransaction
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	tx.ID = id
	tx.CreatedAt = now
	tx.UpdatedAt = now

	return nil
}

func (db *DB) GetEarningsByBooking(ctx context.Context, bookingID int64) (*models.EarningsTransaction, error) {
	query := `SELECT ` + earningsColumns + ` FROM earnings_transactions WHERE booking_id = ?`
	t, err := scanEarnings(db.QueryRowContext(ctx, query, bookingID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get earnings transaction: %w", err)
	}
	return t, nil
}

// MarkEarningsReady releases a pending transaction for batching.
func (db *DB) MarkEarningsReady(ctx context.Context, id int64) error {
	query := `UPDATE earnings_transactions SET payout_status = ?, updated_at = ?
              WHERE id = ? AND payout_status = ?`
	result, err := db.ExecContext(ctx, query, models.EarningsReady, time.Now(), id, models.EarningsPending)
	if err != nil {
		return fmt.Errorf("failed to mark earnings ready: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// VoidEarningsForBooking voids an unclaimed transaction on cancellation.
// Voiding a transaction already claimed by a payout is refused.
func (db *DB) VoidEarningsForBooking(ctx context.Context, bookingID int64) error {
	query := `UPDATE earnings_transactions SET payout_status = ?, updated_at = ?
              WHERE booking_id = ? AND payout_id IS NULL AND payout_status IN (?, ?)`
	_, err := db.ExecContext(ctx, query, models.EarningsVoided, time.Now(),
		bookingID, models.EarningsPending, models.EarningsReady)
	if err != nil {
		return fmt.Errorf("failed to void earnings transaction: %w", err)
	}
	return nil
}

// GetPractitionersWithEligibleEarnings lists practitioners holding unclaimed
// transactions a batch run could pick up: ready ones, or pending ones whose
// payout date has arrived. The minimum-total check stays in CreatePayoutBatch.
func (db *DB) GetPractitionersWithEligibleEarnings(ctx context.Context, now time.Time) ([]int64, error) {
	query := `SELECT DISTINCT practitioner_id FROM earnings_transactions
              WHERE payout_id IS NULL
                AND (payout_status = ?
                     OR (payout_status = ? AND payout_date IS NOT NULL AND payout_date <= ?))
              ORDER BY practitioner_id ASC`
	rows, err := db.QueryContext(ctx, query, models.EarningsReady, models.EarningsPending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list practitioners with eligible earnings: %w", err)
	}
	defer rows.Close()

	var practitioners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan practitioner id: %w", err)
		}
		practitioners = append(practitioners, id)
	}
	return practitioners, rows.Err()
}

func (db *DB) GetEarningsByPayout(ctx context.Context, payoutID int64) ([]*models.EarningsTransaction, error) {
	query := `SELECT ` + earningsColumns + ` FROM earnings_transactions WHERE payout_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, payoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to get earnings by payout: %w", err)
	}
	defer rows.Close()

	var txs []*models.EarningsTransaction
	for rows.Next() {
		t, err := scanEarnings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan earnings transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
