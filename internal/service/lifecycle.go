package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sana/internal/database"
	"sana/internal/domain"
	"sana/internal/events"
	"sana/internal/metrics"
	"sana/internal/models"

	"github.com/rs/zerolog"
)

// Workflow task kinds executed by the orchestrator on behalf of the booking
// lifecycle. Side effects are enqueued, never performed inline.
const (
	KindBeginSession    = "booking.begin_session"
	KindCompleteSession = "booking.complete_session"
	KindCreateRoom      = "booking.create_room"
	KindReleaseRoom     = "booking.release_room"
)

// transitions enumerates the allowed status edges. Everything else fails
// with ErrInvalidTransition.
var transitions = map[string][]string{
	models.StatusDraft:          {models.StatusPendingPayment, models.StatusCancelled},
	models.StatusPendingPayment: {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed:      {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:     {models.StatusCompleted, models.StatusNoShow, models.StatusCancelled},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type LifecycleConfig struct {
	CancellationWindow time.Duration
	ReviewDelay        time.Duration
}

// Lifecycle drives booking status transitions with validation and enqueued
// side effects.
type Lifecycle struct {
	repo       domain.Repository
	commission *CommissionPlan
	ledger     *SessionLedger
	reminders  *ReminderScheduler
	tasks      domain.TaskEnqueuer
	eventBus   domain.EventPublisher
	cfg        LifecycleConfig
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewLifecycle(
	repo domain.Repository,
	commission *CommissionPlan,
	ledger *SessionLedger,
	reminders *ReminderScheduler,
	tasks domain.TaskEnqueuer,
	eventBus domain.EventPublisher,
	cfg LifecycleConfig,
	logger *zerolog.Logger,
) *Lifecycle {
	if cfg.CancellationWindow <= 0 {
		cfg.CancellationWindow = models.DefaultCancellationWindowHours * time.Hour
	}
	if cfg.ReviewDelay <= 0 {
		cfg.ReviewDelay = models.DefaultReviewDelayHours * time.Hour
	}
	return &Lifecycle{
		repo:       repo,
		commission: commission,
		ledger:     ledger,
		reminders:  reminders,
		tasks:      tasks,
		eventBus:   eventBus,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Lifecycle) transition(ctx context.Context, booking *models.Booking, to string) error {
	if !CanTransition(booking.Status, to) {
		metrics.IncTransition(booking.Status, to, "rejected")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, to)
	}
	if err := s.repo.UpdateBookingStatusGuarded(ctx, booking.ID, booking.Version, booking.Status, to); err != nil {
		metrics.IncTransition(booking.Status, to, "conflict")
		return err
	}
	metrics.IncTransition(booking.Status, to, "ok")
	from := booking.Status
	booking.Status = to
	booking.Version++
	if s.logger != nil {
		s.logger.Info().Int64("booking_id", booking.ID).Str("from", from).Str("to", to).Msg("booking transition")
	}
	return nil
}

// Confirm moves a booking from pending_payment to confirmed after payment
// capture. Side effects: reminder schedules, a room-provisioning task when
// required, and the timer that starts the session.
func (s *Lifecycle) Confirm(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if err := s.transition(ctx, booking, models.StatusConfirmed); err != nil {
		return err
	}

	if err := s.reminders.ScheduleForBooking(ctx, booking); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	if booking.RequiresRoom {
		if err := s.enqueue(ctx, booking.ID, KindCreateRoom, s.now()); err != nil {
			return err
		}
	}
	if err := s.enqueue(ctx, booking.ID, KindBeginSession, booking.StartTime); err != nil {
		return err
	}

	s.publish(events.EventBookingConfirmed, booking, "")
	return nil
}

// Begin moves a confirmed booking to in_progress. Time-driven: the
// orchestrator invokes it when the start timer fires.
func (s *Lifecycle) Begin(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if err := s.transition(ctx, booking, models.StatusInProgress); err != nil {
		return err
	}

	if err := s.enqueue(ctx, booking.ID, KindCompleteSession, booking.EndTime); err != nil {
		return err
	}

	s.publish(events.EventBookingStarted, booking, "")
	return nil
}

// Complete finishes an in-progress booking at end time. A flagged no-show
// goes to no_show instead and earns nothing. Completion creates the earnings
// transaction, updates the package ledger, and schedules the review request.
func (s *Lifecycle) Complete(ctx context.Context, bookingID int64, tier string, fees []Fee) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if booking.NoShow {
		return s.markNoShow(ctx, booking)
	}

	if err := s.transition(ctx, booking, models.StatusCompleted); err != nil {
		return err
	}

	order, err := s.repo.GetOrder(ctx, booking.OrderID)
	if err != nil {
		return err
	}

	if err := s.createEarnings(ctx, booking, order, tier, fees); err != nil {
		return err
	}

	if order.IsMultiSession() {
		updated, delivered, err := s.ledger.RecordCompletion(ctx, order.ID)
		if err != nil && !errors.Is(err, database.ErrLedgerExhausted) {
			return fmt.Errorf("update session ledger: %w", err)
		}
		if delivered {
			// Drift is flagged, never dropped: the release still runs so
			// earned money is not stranded behind a rounding discrepancy.
			if err := s.ledger.ReconcileAllocations(ctx, updated); err != nil {
				if !errors.Is(err, ErrRoundingReconciliation) {
					return fmt.Errorf("reconcile package allocations: %w", err)
				}
				if s.logger != nil {
					s.logger.Error().Err(err).Int64("order_id", updated.ID).Msg("package allocation drift on delivery")
				}
			}
			if err := s.ledger.ReleaseFinal(ctx, updated.ID); err != nil {
				return fmt.Errorf("release final payout: %w", err)
			}
		}
	}

	if err := s.reminders.ScheduleReview(ctx, booking, s.cfg.ReviewDelay); err != nil &&
		!errors.Is(err, database.ErrDuplicateSchedule) {
		return fmt.Errorf("schedule review reminder: %w", err)
	}

	s.publish(events.EventBookingCompleted, booking, "")
	return nil
}

// MarkNoShow flags and finalizes a no-show during an in-progress session.
func (s *Lifecycle) MarkNoShow(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if err := s.repo.SetBookingNoShow(ctx, booking.ID, true); err != nil {
		return err
	}
	booking.NoShow = true
	return s.markNoShow(ctx, booking)
}

func (s *Lifecycle) markNoShow(ctx context.Context, booking *models.Booking) error {
	if err := s.transition(ctx, booking, models.StatusNoShow); err != nil {
		return err
	}
	if _, err := s.repo.CancelPendingReminders(ctx, booking.ID); err != nil {
		return err
	}
	s.publish(events.EventBookingNoShow, booking, "")
	return nil
}

// Cancel cancels any non-terminal booking. Bookings close to their start time
// are protected by the cancellation window; draft and pending_payment ones can
// always be cancelled. Side effects: void the unclaimed earnings transaction,
// cancel pending reminders and timers, release the room.
func (s *Lifecycle) Cancel(ctx context.Context, bookingID int64, reason string) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if booking.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, models.StatusCancelled)
	}

	if booking.Status == models.StatusConfirmed || booking.Status == models.StatusInProgress {
		deadline := booking.StartTime.Add(-s.cfg.CancellationWindow)
		if s.now().After(deadline) {
			return fmt.Errorf("%w: deadline was %s", ErrCancellationWindowExpired, deadline.Format(time.RFC3339))
		}
	}

	if err := s.repo.MarkBookingCancelled(ctx, booking.ID, booking.Version, booking.Status); err != nil {
		metrics.IncTransition(booking.Status, models.StatusCancelled, "conflict")
		return err
	}
	metrics.IncTransition(booking.Status, models.StatusCancelled, "ok")
	booking.Status = models.StatusCancelled

	if err := s.repo.VoidEarningsForBooking(ctx, booking.ID); err != nil {
		return err
	}
	if _, err := s.repo.CancelPendingReminders(ctx, booking.ID); err != nil {
		return err
	}
	if err := s.tasks.Cancel(ctx, models.DomainBooking, booking.ID); err != nil {
		return err
	}
	if booking.RoomHandle != "" {
		if err := s.enqueue(ctx, booking.ID, KindReleaseRoom, s.now()); err != nil {
			return err
		}
	}

	order, err := s.repo.GetOrder(ctx, booking.OrderID)
	switch {
	case err != nil:
		// The booking is already cancelled; a missing order must not undo that.
		if s.logger != nil {
			s.logger.Error().Err(err).Int64("booking_id", booking.ID).Int64("order_id", booking.OrderID).
				Msg("load order after cancellation error")
		}
	case order.IsMultiSession():
		if _, err := s.ledger.RecordCancellation(ctx, order.ID); err != nil {
			return err
		}
	}

	s.publish(events.EventBookingCancelled, booking, reason)
	return nil
}

// Reschedule mutates the time window of a confirmed booking. Not a status
// transition. The new window must not overlap any confirmed or
// payment-pending booking of the same practitioner; reminders and the start
// timer are cancelled and regenerated against the new time.
func (s *Lifecycle) Reschedule(ctx context.Context, bookingID int64, newStart, newEnd time.Time) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.StatusConfirmed {
		return fmt.Errorf("%w: status is %s", ErrNotReschedulable, booking.Status)
	}
	if !newEnd.After(newStart) {
		return fmt.Errorf("reschedule window is empty: [%s, %s)", newStart, newEnd)
	}

	overlaps, err := s.repo.CountPractitionerOverlaps(ctx, booking.PractitionerID, newStart, newEnd, booking.ID)
	if err != nil {
		return err
	}
	if overlaps > 0 {
		return fmt.Errorf("%w: practitioner %d has %d bookings in [%s, %s)",
			ErrBookingConflict, booking.PractitionerID, overlaps,
			newStart.Format(time.RFC3339), newEnd.Format(time.RFC3339))
	}

	if err := s.repo.RescheduleBooking(ctx, booking.ID, booking.Version, newStart, newEnd); err != nil {
		return err
	}
	booking.StartTime = newStart
	booking.EndTime = newEnd
	booking.Version++

	if err := s.reminders.RegenerateForBooking(ctx, booking); err != nil {
		return err
	}
	if err := s.tasks.Cancel(ctx, models.DomainBooking, booking.ID); err != nil {
		return err
	}
	if err := s.enqueue(ctx, booking.ID, KindBeginSession, newStart); err != nil {
		return err
	}

	s.publish(events.EventBookingRescheduled, booking, "")
	return nil
}

func (s *Lifecycle) createEarnings(ctx context.Context, booking *models.Booking, order *models.Order, tier string, fees []Fee) error {
	hasChildren, err := s.hasChildBookings(ctx, booking)
	if err != nil {
		return err
	}
	if hasChildren {
		// Parent container bookings never earn; only their sessions do.
		return nil
	}

	gross := booking.FinalAmountCents
	if gross == 0 {
		gross = booking.PriceCents
	}

	breakdown := s.commission.Calculate(booking.ServiceType, tier, gross, fees)

	status := models.EarningsReady
	if order.IsMultiSession() && order.Status != models.OrderDelivered {
		// Progressive release: session earnings stay pending until the
		// package delivers, then ReleaseFinal flips them to ready.
		status = models.EarningsPending
	}

	tx := &models.EarningsTransaction{
		BookingID:       booking.ID,
		PractitionerID:  booking.PractitionerID,
		GrossCents:      breakdown.GrossCents,
		CommissionRate:  breakdown.Rate,
		CommissionCents: breakdown.CommissionCents,
		FeeCents:        breakdown.FeeCents,
		NetCents:        breakdown.NetCents,
		PayoutStatus:    status,
	}
	err = s.repo.CreateEarningsTransaction(ctx, tx)
	if errors.Is(err, database.ErrDuplicateTransaction) {
		// Completion activity re-ran; the transaction already exists.
		return nil
	}
	return err
}

func (s *Lifecycle) hasChildBookings(ctx context.Context, booking *models.Booking) (bool, error) {
	if booking.IsChild() {
		return false, nil
	}
	siblings, err := s.repo.GetBookingsByOrder(ctx, booking.OrderID)
	if err != nil {
		return false, err
	}
	for _, b := range siblings {
		if b.ParentBookingID != nil && *b.ParentBookingID == booking.ID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Lifecycle) enqueue(ctx context.Context, bookingID int64, kind string, runAt time.Time) error {
	err := s.tasks.Enqueue(ctx, models.DomainBooking, bookingID, kind, nil, runAt)
	if errors.Is(err, database.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (s *Lifecycle) publish(eventType string, booking *models.Booking, reason string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:      booking.ID,
		OrderID:        booking.OrderID,
		PractitionerID: booking.PractitionerID,
		ClientID:       booking.ClientID,
		Status:         booking.Status,
		StartTime:      booking.StartTime,
		EndTime:        booking.EndTime,
		Reason:         reason,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil && s.logger != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
