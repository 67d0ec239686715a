package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sana/internal/models"
)

const payoutColumns = `id, batch_id, practitioner_id, total_cents, tx_count, method, status,
                 idempotency_key, transfer_id, last_error, created_at, updated_at`

func scanPayout(row interface{ Scan(...any) error }) (*models.Payout, error) {
	p := &models.Payout{}
	err := row.Scan(
		&p.ID, &p.BatchID, &p.PractitionerID, &p.TotalCents, &p.TxCount, &p.Method, &p.Status,
		&p.IdempotencyKey, &p.TransferID, &p.LastError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePayoutBatch selects all eligible earnings transactions of one
// practitioner and claims them into a new payout inside a single transaction.
// Eligible: ready, or pending with a payout date that has arrived, and not yet
// claimed by any payout. The set is fixed at selection time; a concurrent run
// for the same practitioner finds nothing left to claim.
func (db *DB) CreatePayoutBatch(ctx context.Context, practitionerID, minCents int64, method, batchID, idempotencyKey string) (*models.Payout, []*models.EarningsTransaction, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	querySelect := `SELECT ` + earningsColumns + ` FROM earnings_transactions
              WHERE practitioner_id = ?
                AND payout_id IS NULL
                AND (payout_status = ?
                     OR (payout_status = ? AND payout_date IS NOT NULL AND payout_date <= ?))
              ORDER BY id ASC`
	rows, err := tx.QueryContext(ctx, querySelect, practitionerID, models.EarningsReady, models.EarningsPending, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select eligible transactions: %w", err)
	}

	var selected []*models.EarningsTransaction
	var total int64
	for rows.Next() {
		t, err := scanEarnings(rows)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan earnings transaction: %w", err)
		}
		selected = append(selected, t)
		total += t.NetCents
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate eligible transactions: %w", err)
	}

	if len(selected) == 0 || total < minCents {
		return nil, nil, ErrBelowMinimum
	}

	queryInsert := `INSERT INTO payouts (
				batch_id, practitioner_id, total_cents, tx_count, method, status,
				idempotency_key, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, queryInsert,
		batchID, practitionerID, total, len(selected), method,
		models.PayoutProcessing, idempotencyKey, now, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert payout: %w", err)
	}
	payoutID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get payout id: %w", err)
	}

	ids := make([]any, 0, len(selected)+2)
	ids = append(ids, payoutID, now)
	placeholders := make([]string, len(selected))
	for i, t := range selected {
		placeholders[i] = "?"
		ids = append(ids, t.ID)
	}

	queryClaim := `UPDATE earnings_transactions SET payout_id = ?, updated_at = ?
              WHERE id IN (` + strings.Join(placeholders, ", ") + `) AND payout_id IS NULL`
	claimResult, err := tx.ExecContext(ctx, queryClaim, ids...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to claim transactions: %w", err)
	}
	claimed, _ := claimResult.RowsAffected()
	if claimed != int64(len(selected)) {
		return nil, nil, ErrConcurrentModification
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit payout batch: %w", err)
	}

	payout := &models.Payout{
		ID:             payoutID,
		BatchID:        batchID,
		PractitionerID: practitionerID,
		TotalCents:     total,
		TxCount:        len(selected),
		Method:         method,
		Status:         models.PayoutProcessing,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, t := range selected {
		t.PayoutID = &payoutID
	}
	return payout, selected, nil
}

func (db *DB) GetPayout(ctx context.Context, id int64) (*models.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = ?`
	p, err := scanPayout(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}

func (db *DB) GetPayoutByBatchID(ctx context.Context, batchID string) (*models.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE batch_id = ?`
	p, err := scanPayout(db.QueryRowContext(ctx, query, batchID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout by batch id: %w", err)
	}
	return p, nil
}

// MarkPayoutCompleted records the transfer and marks all claimed transactions
// paid in one transaction.
func (db *DB) MarkPayoutCompleted(ctx context.Context, payoutID int64, transferID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE payouts SET status = ?, transfer_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.PayoutCompleted, transferID, now, payoutID, models.PayoutProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete payout: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE earnings_transactions SET payout_status = ?, updated_at = ? WHERE payout_id = ?`,
		models.EarningsPaid, now, payoutID)
	if err != nil {
		return fmt.Errorf("failed to mark transactions paid: %w", err)
	}

	return tx.Commit()
}

func (db *DB) MarkPayoutFailed(ctx context.Context, payoutID int64, lastError string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE payouts SET status = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.PayoutFailed, lastError, time.Now(), payoutID, models.PayoutProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark payout failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ReleasePayoutTransactions reverts unpaid claimed transactions of a failed
// payout so the next batch run can pick them up. Runs as a separate retried
// compensation step, never inside the transfer call.
func (db *DB) ReleasePayoutTransactions(ctx context.Context, payoutID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE earnings_transactions SET payout_id = NULL, payout_status = ?, updated_at = ?
         WHERE payout_id = ? AND payout_status != ?`,
		models.EarningsReady, time.Now(), payoutID, models.EarningsPaid)
	if err != nil {
		return fmt.Errorf("failed to release payout transactions: %w", err)
	}
	return nil
}

func (db *DB) GetPayoutsByPractitioner(ctx context.Context, practitionerID int64) ([]*models.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE practitioner_id = ? ORDER BY id DESC`
	rows, err := db.QueryContext(ctx, query, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}
