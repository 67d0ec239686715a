package database

import (
	"context"
	"testing"

	"sana/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementSessionsCompletedCapped(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypePackage, 10000, 2)

	updated, err := db.IncrementSessionsCompleted(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.SessionsCompleted)

	updated, err = db.IncrementSessionsCompleted(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.SessionsCompleted)

	// Счётчик никогда не превышает total_sessions
	_, err = db.IncrementSessionsCompleted(ctx, order.ID)
	assert.ErrorIs(t, err, ErrLedgerExhausted)

	_, err = db.IncrementSessionsCompleted(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateOrderStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := mustCreateOrder(t, db, models.OrderTypePackage, 10000, 2)

	require.NoError(t, db.UpdateOrderStatus(ctx, order.ID, models.OrderDelivered))

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderDelivered, got.Status)

	assert.ErrorIs(t, db.UpdateOrderStatus(ctx, 999, models.OrderClosed), ErrNotFound)
}
