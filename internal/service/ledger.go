package service

import (
	"context"
	"fmt"

	"sana/internal/database"
	"sana/internal/domain"
	"sana/internal/events"
	"sana/internal/models"

	"github.com/rs/zerolog"
)

// SessionLedger keeps sessions_completed/total_sessions consistent on an
// order while its child bookings complete or cancel, and drives the
// progressive payout release for packages.
type SessionLedger struct {
	repo     domain.Repository
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewSessionLedger(repo domain.Repository, eventBus domain.EventPublisher, logger *zerolog.Logger) *SessionLedger {
	return &SessionLedger{
		repo:     repo,
		eventBus: eventBus,
		logger:   logger,
	}
}

// AllocateSessionValues splits a package total across its sessions.
// Every session gets total/n; the last session absorbs the integer-division
// remainder so the allocations always sum to the package total.
func AllocateSessionValues(totalCents int64, sessions int) ([]int64, error) {
	if sessions <= 0 {
		return nil, fmt.Errorf("session count must be positive, got %d", sessions)
	}
	if totalCents < 0 {
		return nil, fmt.Errorf("package total must not be negative, got %d", totalCents)
	}

	per := totalCents / int64(sessions)
	allocations := make([]int64, sessions)
	var sum int64
	for i := range allocations {
		allocations[i] = per
		sum += per
	}
	allocations[sessions-1] += totalCents - sum

	var check int64
	for _, a := range allocations {
		check += a
	}
	if check != totalCents {
		return nil, fmt.Errorf("%w: allocated %d of %d cents", ErrRoundingReconciliation, check, totalCents)
	}
	return allocations, nil
}

// RecordCompletion bumps the order's completion counter for one finished
// child session. Returns the updated order and whether the package is now
// fully delivered.
func (l *SessionLedger) RecordCompletion(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	order, err := l.repo.IncrementSessionsCompleted(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	if order.SessionsCompleted < order.TotalSessions {
		return order, false, nil
	}

	if err := l.repo.UpdateOrderStatus(ctx, order.ID, models.OrderDelivered); err != nil {
		return nil, false, fmt.Errorf("mark order delivered: %w", err)
	}
	order.Status = models.OrderDelivered

	if l.eventBus != nil {
		_ = l.eventBus.PublishJSON(events.EventPackageDelivered, map[string]int64{
			"order_id":       order.ID,
			"total_sessions": int64(order.TotalSessions),
		})
	}
	return order, true, nil
}

// ReconcileAllocations verifies a delivered package against its allocation
// plan: the amounts earned by completed child sessions must sum to what
// AllocateSessionValues assigns to the order. Drift is logged and published
// as a ledger_drift event; the caller decides whether to keep releasing.
func (l *SessionLedger) ReconcileAllocations(ctx context.Context, order *models.Order) error {
	allocations, err := AllocateSessionValues(order.TotalCents, order.TotalSessions)
	if err != nil {
		return err
	}
	var planned int64
	for _, a := range allocations {
		planned += a
	}

	bookings, err := l.repo.GetBookingsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	var booked int64
	for _, b := range bookings {
		if b.Status != models.StatusCompleted {
			continue
		}
		amount := b.FinalAmountCents
		if amount == 0 {
			amount = b.PriceCents
		}
		booked += amount
	}

	if booked == planned {
		return nil
	}

	if l.logger != nil {
		l.logger.Error().
			Int64("order_id", order.ID).
			Int64("planned_cents", planned).
			Int64("booked_cents", booked).
			Msg("package allocation drift")
	}
	if l.eventBus != nil {
		_ = l.eventBus.PublishJSON(events.EventLedgerDrift, map[string]int64{
			"order_id":      order.ID,
			"planned_cents": planned,
			"booked_cents":  booked,
		})
	}
	return fmt.Errorf("%w: order %d booked %d of %d cents", ErrRoundingReconciliation, order.ID, booked, planned)
}

// RecordCancellation handles a cancelled child session. Already-delivered
// sessions stay counted; only future forecast revenue shrinks, which is
// derived, not stored, so nothing is decremented here.
func (l *SessionLedger) RecordCancellation(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := l.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if l.logger != nil {
		forecast, ferr := l.ForecastRevenueCents(ctx, order)
		if ferr == nil {
			l.logger.Info().Int64("order_id", orderID).Int64("forecast_cents", forecast).
				Msg("package forecast updated after cancellation")
		}
	}
	return order, nil
}

// ForecastRevenueCents is the expected remaining revenue of an order: the
// session allocations of child bookings that are still going to happen.
func (l *SessionLedger) ForecastRevenueCents(ctx context.Context, order *models.Order) (int64, error) {
	bookings, err := l.repo.GetBookingsByOrder(ctx, order.ID)
	if err != nil {
		return 0, err
	}

	var forecast int64
	for _, b := range bookings {
		switch b.Status {
		case models.StatusCompleted, models.StatusCancelled, models.StatusNoShow:
			continue
		default:
			forecast += b.FinalAmountCents
		}
	}
	return forecast, nil
}

// ReleaseFinal releases the held percentage of a fully delivered package:
// any earnings transaction of the order's bookings still pending becomes
// ready for the next payout batch.
func (l *SessionLedger) ReleaseFinal(ctx context.Context, orderID int64) error {
	bookings, err := l.repo.GetBookingsByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	for _, b := range bookings {
		tx, err := l.repo.GetEarningsByBooking(ctx, b.ID)
		if err != nil {
			if err == database.ErrNotFound {
				continue
			}
			return err
		}
		if tx.PayoutStatus != models.EarningsPending {
			continue
		}
		if err := l.repo.MarkEarningsReady(ctx, tx.ID); err != nil && err != database.ErrConcurrentModification {
			return err
		}
	}
	return nil
}
