package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingConfirmed   = "booking_confirmed"
	EventBookingStarted     = "booking_started"
	EventBookingCompleted   = "booking_completed"
	EventBookingCancelled   = "booking_cancelled"
	EventBookingNoShow      = "booking_no_show"
	EventBookingRescheduled = "booking_rescheduled"
	EventPackageDelivered   = "package_delivered"
	EventLedgerDrift        = "ledger_drift"
	EventPayoutCreated      = "payout_created"
	EventPayoutCompleted    = "payout_completed"
	EventPayoutFailed       = "payout_failed"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID      int64     `json:"booking_id"`
	OrderID        int64     `json:"order_id"`
	PractitionerID int64     `json:"practitioner_id"`
	ClientID       int64     `json:"client_id"`
	Status         string    `json:"status"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Reason         string    `json:"reason,omitempty"`
}

// PayoutEventPayload describes a payout batch state change.
type PayoutEventPayload struct {
	PayoutID       int64  `json:"payout_id"`
	BatchID        string `json:"batch_id"`
	PractitionerID int64  `json:"practitioner_id"`
	TotalCents     int64  `json:"total_cents"`
	TxCount        int    `json:"tx_count"`
	Status         string `json:"status"`
	TransferID     string `json:"transfer_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
