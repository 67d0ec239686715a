package database

import "errors"

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrDuplicateTransaction   = errors.New("earnings transaction already exists for booking")
	ErrDuplicateSchedule      = errors.New("reminder already scheduled")
	ErrDuplicateTask          = errors.New("workflow task already active for entity")
	ErrLedgerExhausted        = errors.New("all package sessions already completed")
	ErrBelowMinimum           = errors.New("eligible earnings below minimum payout amount")
)
