package models

import "time"

const (
	EarningsPending = "pending"
	EarningsReady   = "ready"
	EarningsPaid    = "paid"
	EarningsVoided  = "voided"
)

// EarningsTransaction is a practitioner's commission-adjusted entitlement for
// one completed booking. Created exactly once per completed session booking,
// never for a package parent.
type EarningsTransaction struct {
	ID              int64      `json:"id"`
	BookingID       int64      `json:"booking_id"`
	PractitionerID  int64      `json:"practitioner_id"`
	GrossCents      int64      `json:"gross_cents"`
	CommissionRate  float64    `json:"commission_rate"`
	CommissionCents int64      `json:"commission_cents"`
	FeeCents        int64      `json:"fee_cents"`
	NetCents        int64      `json:"net_cents"`
	PayoutStatus    string     `json:"payout_status"`
	PayoutID        *int64     `json:"payout_id,omitempty"`
	PayoutDate      *time.Time `json:"payout_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
