package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"sana/internal/config"
	"sana/internal/database"
	"sana/internal/domain"
	"sana/internal/metrics"
	"sana/internal/models"

	"github.com/rs/zerolog"
)

const (
	TemplateUpcoming     = "booking_upcoming"
	TemplateReview       = "booking_review"
	TemplateGroupSummary = "group_session_summary"
)

// ReminderScheduler creates, cancels and dispatches reminder schedules.
// Scheduling is idempotent: the storage layer keeps at most one unsent row
// per (booking, offset, audience), so regenerating after a reschedule or a
// re-run of the confirmation activity never duplicates sends.
type ReminderScheduler struct {
	repo     domain.Repository
	notifier domain.Notifier
	offsets  []time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewReminderScheduler(repo domain.Repository, notifier domain.Notifier, cfg config.ReminderConfig, logger *zerolog.Logger) *ReminderScheduler {
	offsets := make([]time.Duration, 0, len(cfg.UpcomingOffsetsMinutes))
	for _, m := range cfg.UpcomingOffsetsMinutes {
		offsets = append(offsets, time.Duration(m)*time.Minute)
	}
	return &ReminderScheduler{
		repo:     repo,
		notifier: notifier,
		offsets:  offsets,
		logger:   logger,
		now:      time.Now,
	}
}

// offsetKind names the offset in storage. Known offsets use fixed names so the
// dedup index stays stable across config reloads.
func offsetKind(offset time.Duration) string {
	switch offset {
	case 24 * time.Hour:
		return models.OffsetDayBefore
	case 30 * time.Minute:
		return models.OffsetSoon
	}
	return strconv.Itoa(int(offset.Minutes())) + "m_before"
}

// ScheduleForBooking creates the upcoming-session reminders for both the
// client and the practitioner. Offsets already in the past are skipped, not
// fired immediately.
func (s *ReminderScheduler) ScheduleForBooking(ctx context.Context, booking *models.Booking) error {
	now := s.now()
	for _, offset := range s.offsets {
		fireAt := booking.StartTime.Add(-offset)
		if !fireAt.After(now) {
			continue
		}
		kind := offsetKind(offset)
		for _, audience := range []string{models.AudienceClient, models.AudiencePractitioner} {
			r := &models.ReminderSchedule{
				BookingID: booking.ID,
				SessionID: booking.SessionID,
				Offset:    kind,
				Audience:  audience,
				FireAt:    fireAt,
				Status:    models.ReminderPending,
			}
			if err := s.repo.CreateReminder(ctx, r); err != nil &&
				!errors.Is(err, database.ErrDuplicateSchedule) {
				return fmt.Errorf("create reminder %s/%s: %w", kind, audience, err)
			}
		}
	}
	return nil
}

// ScheduleReview schedules the post-session review request for the client.
func (s *ReminderScheduler) ScheduleReview(ctx context.Context, booking *models.Booking, delay time.Duration) error {
	r := &models.ReminderSchedule{
		BookingID: booking.ID,
		SessionID: booking.SessionID,
		Offset:    models.OffsetReview,
		Audience:  models.AudienceClient,
		FireAt:    booking.EndTime.Add(delay),
		Status:    models.ReminderPending,
	}
	return s.repo.CreateReminder(ctx, r)
}

// CancelForBooking cancels all pending reminders of a booking.
func (s *ReminderScheduler) CancelForBooking(ctx context.Context, bookingID int64) error {
	n, err := s.repo.CancelPendingReminders(ctx, bookingID)
	if err != nil {
		return err
	}
	if n > 0 && s.logger != nil {
		s.logger.Info().Int64("booking_id", bookingID).Int64("cancelled", n).Msg("reminders cancelled")
	}
	return nil
}

// RegenerateForBooking replaces the pending reminders after a reschedule:
// cancel what is pending, then schedule against the new start time.
func (s *ReminderScheduler) RegenerateForBooking(ctx context.Context, booking *models.Booking) error {
	if err := s.CancelForBooking(ctx, booking.ID); err != nil {
		return err
	}
	return s.ScheduleForBooking(ctx, booking)
}

// reminderGroup collects due reminders that dispatch as one aggregated send:
// same group session, same offset, same audience.
type reminderGroup struct {
	sessionID int64
	offset    string
	audience  string
}

// DispatchDue sends everything due at now. Each reminder row is claimed
// (pending → sent) before the send, so a competing dispatcher loses the
// claim instead of double-sending; a failed send reopens the row for the
// next tick. Reminders of the same group session and offset collapse into
// one aggregated notification per audience.
func (s *ReminderScheduler) DispatchDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.GetDueReminders(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	singles := make([]*models.ReminderSchedule, 0, len(due))
	groups := make(map[reminderGroup][]*models.ReminderSchedule)
	for _, r := range due {
		if r.SessionID != nil {
			key := reminderGroup{sessionID: *r.SessionID, offset: r.Offset, audience: r.Audience}
			groups[key] = append(groups[key], r)
			continue
		}
		singles = append(singles, r)
	}

	var sent int
	for _, r := range singles {
		if s.dispatchOne(ctx, r) {
			sent++
		}
	}
	for key, rows := range groups {
		sent += s.dispatchGroup(ctx, key, rows)
	}
	return sent, nil
}

func (s *ReminderScheduler) dispatchOne(ctx context.Context, r *models.ReminderSchedule) bool {
	if err := s.repo.ClaimReminder(ctx, r.ID); err != nil {
		// Someone else got there first.
		return false
	}

	booking, err := s.repo.GetBooking(ctx, r.BookingID)
	if err != nil {
		s.reopen(ctx, r, err)
		return false
	}
	if booking.IsTerminal() && r.Offset != models.OffsetReview {
		// Cancelled under us between claim and send; drop silently.
		metrics.IncReminder("skipped")
		return false
	}

	recipient := booking.ClientID
	if r.Audience == models.AudiencePractitioner {
		recipient = booking.PractitionerID
	}
	template := TemplateUpcoming
	if r.Offset == models.OffsetReview {
		template = TemplateReview
	}

	err = s.notifier.Send(ctx, recipient, template, map[string]string{
		"booking_id": strconv.FormatInt(booking.ID, 10),
		"start_time": booking.StartTime.Format(time.RFC3339),
		"offset":     r.Offset,
	})
	if err != nil {
		s.reopen(ctx, r, err)
		return false
	}
	metrics.IncReminder("sent")
	return true
}

// dispatchGroup sends one aggregated notification for a group session: the
// whole claimed roster in a single batch for clients, one summary with the
// attendee count for the practitioner.
func (s *ReminderScheduler) dispatchGroup(ctx context.Context, key reminderGroup, rows []*models.ReminderSchedule) int {
	claimed := make([]*models.ReminderSchedule, 0, len(rows))
	for _, r := range rows {
		if err := s.repo.ClaimReminder(ctx, r.ID); err == nil {
			claimed = append(claimed, r)
		}
	}
	if len(claimed) == 0 {
		return 0
	}

	roster, err := s.repo.GetSessionRoster(ctx, key.sessionID)
	if err != nil {
		for _, r := range claimed {
			s.reopen(ctx, r, err)
		}
		return 0
	}

	byBooking := make(map[int64]*models.Booking, len(roster))
	for _, b := range roster {
		byBooking[b.ID] = b
	}

	payload := map[string]string{
		"session_id": strconv.FormatInt(key.sessionID, 10),
		"offset":     key.offset,
		"attendees":  strconv.Itoa(len(roster)),
	}

	var recipients []int64
	active := make([]*models.ReminderSchedule, 0, len(claimed))
	for _, r := range claimed {
		b, ok := byBooking[r.BookingID]
		if !ok {
			// Booking left the roster after scheduling; nothing to send.
			metrics.IncReminder("skipped")
			continue
		}
		if key.audience == models.AudiencePractitioner {
			recipients = append(recipients, b.PractitionerID)
		} else {
			recipients = append(recipients, b.ClientID)
		}
		active = append(active, r)
	}
	if len(recipients) == 0 {
		return 0
	}

	template := TemplateUpcoming
	if key.audience == models.AudiencePractitioner {
		template = TemplateGroupSummary
		recipients = dedupe(recipients)
	}

	if err := s.notifier.SendBatch(ctx, recipients, template, payload); err != nil {
		for _, r := range active {
			s.reopen(ctx, r, err)
		}
		return 0
	}
	for range active {
		metrics.IncReminder("sent")
	}
	return len(active)
}

func (s *ReminderScheduler) reopen(ctx context.Context, r *models.ReminderSchedule, cause error) {
	metrics.IncReminder("failed")
	if s.logger != nil {
		s.logger.Error().Err(cause).Int64("reminder_id", r.ID).Msg("reminder dispatch failed, reopening")
	}
	if err := s.repo.ReopenReminder(ctx, r.ID); err != nil && s.logger != nil {
		s.logger.Error().Err(err).Int64("reminder_id", r.ID).Msg("reopen reminder error")
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
