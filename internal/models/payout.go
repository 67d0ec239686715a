package models

import "time"

const (
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

// Payout is a batch disbursement of earnings transactions to one practitioner.
// The transaction set is fixed at creation time; later eligible transactions
// wait for the next batch run.
type Payout struct {
	ID             int64     `json:"id"`
	BatchID        string    `json:"batch_id"`
	PractitionerID int64     `json:"practitioner_id"`
	TotalCents     int64     `json:"total_cents"`
	TxCount        int       `json:"tx_count"`
	Method         string    `json:"method"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	TransferID     string    `json:"transfer_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
