package export

import (
	"context"
	"testing"
	"time"

	"sana/internal/config"
	"sana/internal/database"
	"sana/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteStatement(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	order := &models.Order{
		OrderType:      models.OrderTypeSingle,
		PractitionerID: 501,
		ClientID:       901,
		TotalCents:     10000,
		TotalSessions:  1,
		Status:         models.OrderOpen,
	}
	require.NoError(t, db.CreateOrder(ctx, order))

	booking := &models.Booking{
		OrderID:          order.ID,
		PractitionerID:   501,
		ClientID:         901,
		ServiceType:      "session",
		Status:           models.StatusCompleted,
		PaymentStatus:    models.PaymentPaid,
		StartTime:        time.Now().Add(-2 * time.Hour),
		EndTime:          time.Now().Add(-time.Hour),
		FinalAmountCents: 10000,
	}
	require.NoError(t, db.CreateBooking(ctx, booking))
	require.NoError(t, db.CreateEarningsTransaction(ctx, &models.EarningsTransaction{
		BookingID:       booking.ID,
		PractitionerID:  501,
		GrossCents:      10000,
		CommissionRate:  15,
		CommissionCents: 1500,
		NetCents:        8500,
		PayoutStatus:    models.EarningsReady,
	}))

	payout, _, err := db.CreatePayoutBatch(ctx, 501, 0, "bank_transfer", "batch-1", "idem-1")
	require.NoError(t, err)

	writer := NewStatementWriter(db, config.ExportConfig{Path: t.TempDir()}, &logger)

	path, err := writer.WriteStatement(ctx, payout.ID)
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	net, err := f.GetCellValue("Выплата", "F3")
	require.NoError(t, err)
	assert.Equal(t, "85", net)
}
