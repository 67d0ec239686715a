package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sana/internal/models"
)

func (db *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `INSERT INTO orders (
				order_type, practitioner_id, client_id, total_cents, total_sessions,
				sessions_completed, session_value_cents, status, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		order.OrderType,
		order.PractitionerID,
		order.ClientID,
		order.TotalCents,
		order.TotalSessions,
		order.SessionsCompleted,
		order.SessionValueCents,
		order.Status,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	order.ID = id
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Version = 1

	return nil
}

func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o := &models.Order{}
	query := `SELECT id, order_type, practitioner_id, client_id, total_cents, total_sessions,
                     sessions_completed, session_value_cents, status, created_at, updated_at, version
              FROM orders WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.OrderType, &o.PractitionerID, &o.ClientID, &o.TotalCents, &o.TotalSessions,
		&o.SessionsCompleted, &o.SessionValueCents, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// IncrementSessionsCompleted bumps the completion counter without ever
// exceeding total_sessions. Returns the updated order.
func (db *DB) IncrementSessionsCompleted(ctx context.Context, id int64) (*models.Order, error) {
	query := `UPDATE orders SET sessions_completed = sessions_completed + 1, version = version + 1, updated_at = ?
              WHERE id = ? AND sessions_completed < total_sessions`
	result, err := db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to increment sessions completed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the order is missing or the counter is already full.
		if _, getErr := db.GetOrder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrLedgerExhausted
	}
	return db.GetOrder(ctx, id)
}

func (db *DB) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE orders SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
