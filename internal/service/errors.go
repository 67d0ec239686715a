package service

import "errors"

var (
	// ErrInvalidTransition is a state-machine misuse: the requested edge does
	// not exist. Never retried, surfaced to the caller.
	ErrInvalidTransition = errors.New("invalid booking status transition")

	// ErrCancellationWindowExpired rejects a cancellation attempted inside the
	// cancellation deadline window.
	ErrCancellationWindowExpired = errors.New("cancellation window expired")

	// ErrBookingConflict means the practitioner already has a booking whose
	// window intersects the requested one.
	ErrBookingConflict = errors.New("conflicting booking in requested window")

	// ErrRoundingReconciliation means session value allocations do not sum to
	// the package total. Flagged for manual reconciliation, never dropped.
	ErrRoundingReconciliation = errors.New("session allocations do not sum to package total")

	// ErrNotReschedulable rejects a reschedule of a booking that is not in
	// confirmed status.
	ErrNotReschedulable = errors.New("only confirmed bookings can be rescheduled")

	// ErrBatchInProgress means another batch run holds the practitioner's
	// payout lock. The sweep just waits for the next pass.
	ErrBatchInProgress = errors.New("payout batch already running for practitioner")

	// ErrBatchRateLimited caps how often a practitioner can be batched per day.
	ErrBatchRateLimited = errors.New("payout batch rate limit reached")
)
