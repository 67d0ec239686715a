package models

import "time"

const (
	StatusDraft          = "draft"
	StatusPendingPayment = "pending_payment"
	StatusConfirmed      = "confirmed"
	StatusInProgress     = "in_progress"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusNoShow         = "no_show"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

type Booking struct {
	ID               int64      `json:"id"`
	OrderID          int64      `json:"order_id"`
	ParentBookingID  *int64     `json:"parent_booking_id,omitempty"`
	SessionID        *int64     `json:"session_id,omitempty"`
	PractitionerID   int64      `json:"practitioner_id"`
	ClientID         int64      `json:"client_id"`
	ServiceType      string     `json:"service_type"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          time.Time  `json:"end_time"`
	DurationMinutes  int        `json:"duration_minutes"`
	PriceCents       int64      `json:"price_cents"`
	FinalAmountCents int64      `json:"final_amount_cents"`
	RequiresRoom     bool       `json:"requires_room"`
	RoomHandle       string     `json:"room_handle,omitempty"`
	NoShow           bool       `json:"no_show"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// IsTerminal reports whether no further status transition is allowed.
func (b *Booking) IsTerminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusCancelled || b.Status == StatusNoShow
}

// IsChild reports whether the booking is a session inside a package order.
func (b *Booking) IsChild() bool {
	return b.ParentBookingID != nil
}
