package models

import "time"

const (
	OrderTypeSingle  = "single"
	OrderTypePackage = "package"
	OrderTypeBundle  = "bundle"
	OrderTypeCourse  = "course"
)

const (
	OrderOpen      = "open"
	OrderDelivered = "delivered"
	OrderClosed    = "closed"
)

// Order is the purchase event. For packages and bundles it is the parent
// record for all child session bookings.
type Order struct {
	ID                int64     `json:"id"`
	OrderType         string    `json:"order_type"`
	PractitionerID    int64     `json:"practitioner_id"`
	ClientID          int64     `json:"client_id"`
	TotalCents        int64     `json:"total_cents"`
	TotalSessions     int       `json:"total_sessions"`
	SessionsCompleted int       `json:"sessions_completed"`
	SessionValueCents int64     `json:"session_value_cents"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int64     `json:"version"`
}

// IsMultiSession reports whether the order carries more than one session.
func (o *Order) IsMultiSession() bool {
	return o.OrderType != OrderTypeSingle && o.TotalSessions > 1
}
