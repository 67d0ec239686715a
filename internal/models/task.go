package models

import "time"

const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskRetry     = "retry"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Workflow domains. A workflow instance is keyed by (domain, entity id) so the
// same booking or payout is never orchestrated twice concurrently. Reporting
// tasks run in their own domain: cancelling a payout workflow must not drop
// the statement export for an already settled batch.
const (
	DomainBooking = "booking"
	DomainPayout  = "payout"
	DomainReport  = "report"
)

// WorkflowTask is one durable unit of orchestration work. ScheduledAt in the
// future makes it a timer; NextRetryAt drives backoff after failures.
type WorkflowTask struct {
	ID          int64      `json:"id"`
	Domain      string     `json:"domain"`
	EntityID    int64      `json:"entity_id"`
	Kind        string     `json:"kind"`
	RunID       string     `json:"run_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
