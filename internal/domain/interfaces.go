package domain

import (
	"context"
	"time"

	"sana/internal/models"
)

type Repository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatusGuarded(ctx context.Context, id, fromVersion int64, fromStatus, toStatus string) error
	MarkBookingCancelled(ctx context.Context, id, fromVersion int64, fromStatus string) error
	RescheduleBooking(ctx context.Context, id, fromVersion int64, start, end time.Time) error
	SetBookingRoom(ctx context.Context, id int64, roomHandle string) error
	SetBookingNoShow(ctx context.Context, id int64, noShow bool) error
	CountPractitionerOverlaps(ctx context.Context, practitionerID int64, start, end time.Time, excludeID int64) (int, error)
	GetBookingsByOrder(ctx context.Context, orderID int64) ([]*models.Booking, error)
	GetSessionRoster(ctx context.Context, sessionID int64) ([]*models.Booking, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	IncrementSessionsCompleted(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) error

	CreateEarningsTransaction(ctx context.Context, tx *models.EarningsTransaction) error
	GetEarningsByBooking(ctx context.Context, bookingID int64) (*models.EarningsTransaction, error)
	MarkEarningsReady(ctx context.Context, id int64) error
	VoidEarningsForBooking(ctx context.Context, bookingID int64) error
	GetEarningsByPayout(ctx context.Context, payoutID int64) ([]*models.EarningsTransaction, error)
	GetPractitionersWithEligibleEarnings(ctx context.Context, now time.Time) ([]int64, error)

	CreatePayoutBatch(ctx context.Context, practitionerID, minCents int64, method, batchID, idempotencyKey string) (*models.Payout, []*models.EarningsTransaction, error)
	GetPayout(ctx context.Context, id int64) (*models.Payout, error)
	GetPayoutByBatchID(ctx context.Context, batchID string) (*models.Payout, error)
	MarkPayoutCompleted(ctx context.Context, payoutID int64, transferID string) error
	MarkPayoutFailed(ctx context.Context, payoutID int64, lastError string) error
	ReleasePayoutTransactions(ctx context.Context, payoutID int64) error
	GetPayoutsByPractitioner(ctx context.Context, practitionerID int64) ([]*models.Payout, error)

	CreateReminder(ctx context.Context, r *models.ReminderSchedule) error
	CancelPendingReminders(ctx context.Context, bookingID int64) (int64, error)
	GetDueReminders(ctx context.Context, now time.Time, limit int) ([]*models.ReminderSchedule, error)
	ClaimReminder(ctx context.Context, id int64) error
	ReopenReminder(ctx context.Context, id int64) error
	GetRemindersByBooking(ctx context.Context, bookingID int64) ([]*models.ReminderSchedule, error)
}

// TaskEnqueuer hands durable work to the orchestrator. The booking lifecycle
// never performs external side effects inline: it enqueues them here.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, domain string, entityID int64, kind string, payload any, runAt time.Time) error
	Cancel(ctx context.Context, domain string, entityID int64) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// PaymentRail is the external transfer provider (Stripe-like).
type PaymentRail interface {
	CreateTransfer(ctx context.Context, account string, amountCents int64, idempotencyKey string) (*TransferResult, error)
}

type TransferResult struct {
	ID     string
	Status string
}

// Notifier delivers user-facing and operational notifications.
type Notifier interface {
	Send(ctx context.Context, recipientID int64, template string, payload map[string]string) error
	SendBatch(ctx context.Context, recipientIDs []int64, template string, payload map[string]string) error
}

// RoomService provisions video rooms for bookings that need one.
type RoomService interface {
	CreateRoom(ctx context.Context, bookingID int64) (string, error)
	CloseRoom(ctx context.Context, roomHandle string) error
}

// LockRepository serializes work per practitioner. Locks are advisory with a
// TTL; the storage layer stays the source of truth. CheckRateLimit counts
// occurrences of a key inside a sliding window and reports whether the
// current one is still within the limit.
type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
