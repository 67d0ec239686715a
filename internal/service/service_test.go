package service

import (
	"context"
	"testing"
	"time"

	"sana/internal/database"
	"sana/internal/domain"
	"sana/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.DB {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeEnqueuer records enqueued tasks in memory.
type fakeEnqueuer struct {
	enqueued  []enqueuedTask
	cancelled []string
}

type enqueuedTask struct {
	domain   string
	entityID int64
	kind     string
	runAt    time.Time
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, domain string, entityID int64, kind string, _ any, runAt time.Time) error {
	f.enqueued = append(f.enqueued, enqueuedTask{domain: domain, entityID: entityID, kind: kind, runAt: runAt})
	return nil
}

func (f *fakeEnqueuer) Cancel(_ context.Context, domain string, entityID int64) error {
	f.cancelled = append(f.cancelled, domain)
	_ = entityID
	return nil
}

func (f *fakeEnqueuer) kinds() []string {
	out := make([]string, 0, len(f.enqueued))
	for _, e := range f.enqueued {
		out = append(out, e.kind)
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, recipientID int64, template string, payload map[string]string) error {
	return m.Called(ctx, recipientID, template, payload).Error(0)
}

func (m *mockNotifier) SendBatch(ctx context.Context, recipientIDs []int64, template string, payload map[string]string) error {
	return m.Called(ctx, recipientIDs, template, payload).Error(0)
}

type mockRail struct {
	mock.Mock
}

func (m *mockRail) CreateTransfer(ctx context.Context, account string, amountCents int64, idempotencyKey string) (*domain.TransferResult, error) {
	args := m.Called(ctx, account, amountCents, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransferResult), args.Error(1)
}

// fakeLocks is an always-granting in-memory lock with a simple counting
// rate limiter.
type fakeLocks struct {
	held   map[string]bool
	counts map[string]int
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool), counts: make(map[string]int)}
}

func (f *fakeLocks) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocks) ReleaseLock(_ context.Context, key string) error {
	delete(f.held, key)
	return nil
}

func (f *fakeLocks) CheckRateLimit(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.counts[key]++
	return f.counts[key] <= limit, nil
}

func seedOrder(t *testing.T, db *database.DB, orderType string, totalCents int64, sessions int) *models.Order {
	t.Helper()
	perSession := totalCents
	if sessions > 0 {
		perSession = totalCents / int64(sessions)
	}
	order := &models.Order{
		OrderType:         orderType,
		PractitionerID:    501,
		ClientID:          901,
		TotalCents:        totalCents,
		TotalSessions:     sessions,
		SessionValueCents: perSession,
		Status:            models.OrderOpen,
	}
	require.NoError(t, db.CreateOrder(context.Background(), order))
	return order
}

func seedBooking(t *testing.T, db *database.DB, orderID int64, status string, start time.Time) *models.Booking {
	t.Helper()
	booking := &models.Booking{
		OrderID:          orderID,
		PractitionerID:   501,
		ClientID:         901,
		ServiceType:      "session",
		Status:           status,
		PaymentStatus:    models.PaymentPaid,
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
		DurationMinutes:  60,
		PriceCents:       10000,
		FinalAmountCents: 10000,
	}
	require.NoError(t, db.CreateBooking(context.Background(), booking))
	return booking
}
