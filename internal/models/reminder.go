package models

import "time"

const (
	OffsetDayBefore = "24h_before"
	OffsetSoon      = "30m_before"
	OffsetReview    = "72h_after"
)

const (
	AudienceClient       = "client"
	AudiencePractitioner = "practitioner"
)

const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderCancelled = "cancelled"
)

// ReminderSchedule is one scheduled notification for a booking. At most one
// unsent reminder exists per (booking, offset, audience); group sessions
// additionally aggregate dispatch per session.
type ReminderSchedule struct {
	ID        int64      `json:"id"`
	BookingID int64      `json:"booking_id"`
	SessionID *int64     `json:"session_id,omitempty"`
	Offset    string     `json:"offset"`
	Audience  string     `json:"audience"`
	FireAt    time.Time  `json:"fire_at"`
	Status    string     `json:"status"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
