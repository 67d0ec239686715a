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
	"sana/internal/events"
	"sana/internal/metrics"
	"sana/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Workflow task kinds of the payout saga.
const (
	KindPayoutTransfer  = "payout.execute_transfer"
	KindPayoutRelease   = "payout.release_transactions"
	KindPayoutStatement = "payout.export_statement"
)

// PayoutBatcher groups eligible earnings into batches and drives the transfer
// saga through the orchestrator. Batch creation happens under a per-practitioner
// advisory lock; the external transfer never runs inside a lock or a storage
// transaction.
type PayoutBatcher struct {
	repo     domain.Repository
	locks    domain.LockRepository
	rail     domain.PaymentRail
	tasks    domain.TaskEnqueuer
	eventBus domain.EventPublisher
	cfg      config.PayoutConfig
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewPayoutBatcher(
	repo domain.Repository,
	locks domain.LockRepository,
	rail domain.PaymentRail,
	tasks domain.TaskEnqueuer,
	eventBus domain.EventPublisher,
	cfg config.PayoutConfig,
	logger *zerolog.Logger,
) *PayoutBatcher {
	if cfg.MinAmountCents == 0 {
		cfg.MinAmountCents = models.DefaultMinPayoutCents
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = "bank_transfer"
	}
	if cfg.LockTTLSeconds == 0 {
		cfg.LockTTLSeconds = models.DefaultLockTTL
	}
	if cfg.MaxBatchesPerDay == 0 {
		cfg.MaxBatchesPerDay = models.DefaultMaxPayoutBatchesPerDay
	}
	return &PayoutBatcher{
		repo:     repo,
		locks:    locks,
		rail:     rail,
		tasks:    tasks,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func lockKey(practitionerID int64) string {
	return "payout:practitioner:" + strconv.FormatInt(practitionerID, 10)
}

// CreateBatch atomically claims every eligible transaction of the practitioner
// into a new processing payout and enqueues the transfer task. The claim is a
// single storage transaction, so two concurrent batch runs can never share a
// transaction even if the advisory lock is lost.
func (s *PayoutBatcher) CreateBatch(ctx context.Context, practitionerID int64) (*models.Payout, error) {
	key := lockKey(practitionerID)
	acquired, err := s.locks.AcquireLock(ctx, key, time.Duration(s.cfg.LockTTLSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("acquire payout lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: practitioner %d", ErrBatchInProgress, practitionerID)
	}
	defer func() {
		if err := s.locks.ReleaseLock(ctx, key); err != nil && s.logger != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("release payout lock error")
		}
	}()

	if s.cfg.MaxBatchesPerDay > 0 {
		allowed, rlErr := s.locks.CheckRateLimit(ctx, key, s.cfg.MaxBatchesPerDay, 24*time.Hour)
		if rlErr != nil {
			// The counter is best effort; the claiming transaction stays correct.
			if s.logger != nil {
				s.logger.Warn().Err(rlErr).Str("key", key).Msg("payout rate limit check error")
			}
		} else if !allowed {
			return nil, fmt.Errorf("%w: practitioner %d, limit %d/day", ErrBatchRateLimited, practitionerID, s.cfg.MaxBatchesPerDay)
		}
	}

	batchID := uuid.NewString()
	idempotencyKey := uuid.NewString()

	payout, txs, err := s.repo.CreatePayoutBatch(ctx, practitionerID, s.cfg.MinAmountCents, s.cfg.DefaultMethod, batchID, idempotencyKey)
	if err != nil {
		if errors.Is(err, database.ErrBelowMinimum) {
			if s.logger != nil {
				s.logger.Info().Int64("practitioner_id", practitionerID).Msg("eligible total below payout minimum")
			}
		}
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info().
			Int64("practitioner_id", practitionerID).
			Str("batch_id", payout.BatchID).
			Int64("total_cents", payout.TotalCents).
			Int("tx_count", len(txs)).
			Msg("payout batch created")
	}
	metrics.IncPayout(models.PayoutProcessing)

	s.publish(events.EventPayoutCreated, payout)

	if err := s.tasks.Enqueue(ctx, models.DomainPayout, payout.ID, KindPayoutTransfer, nil, s.now()); err != nil &&
		!errors.Is(err, database.ErrDuplicateTask) {
		return nil, fmt.Errorf("enqueue transfer task: %w", err)
	}
	return payout, nil
}

// RunDueBatches sweeps every practitioner holding eligible earnings and
// creates a batch for each. Below-minimum totals, a batch already running,
// and rate-limited practitioners simply wait for the next sweep; other
// per-practitioner failures are logged without stopping the run.
func (s *PayoutBatcher) RunDueBatches(ctx context.Context) (int, error) {
	practitioners, err := s.repo.GetPractitionersWithEligibleEarnings(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list practitioners with eligible earnings: %w", err)
	}

	created := 0
	for _, practitionerID := range practitioners {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		_, err := s.CreateBatch(ctx, practitionerID)
		switch {
		case err == nil:
			created++
		case errors.Is(err, database.ErrBelowMinimum),
			errors.Is(err, ErrBatchInProgress),
			errors.Is(err, ErrBatchRateLimited):
			continue
		default:
			if s.logger != nil {
				s.logger.Error().Err(err).Int64("practitioner_id", practitionerID).Msg("payout batch error")
			}
		}
	}
	return created, nil
}

// ExecuteTransfer is the transfer activity. Idempotent: a payout no longer in
// processing is a completed or abandoned re-delivery and is skipped. Transient
// rail failures return an error for the orchestrator to retry; the payout's
// idempotency key makes the retry safe on the rail side.
func (s *PayoutBatcher) ExecuteTransfer(ctx context.Context, payoutID int64) error {
	payout, err := s.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutProcessing {
		if s.logger != nil {
			s.logger.Info().Int64("payout_id", payoutID).Str("status", payout.Status).Msg("transfer already settled, skipping")
		}
		return nil
	}

	account := strconv.FormatInt(payout.PractitionerID, 10)
	result, err := s.rail.CreateTransfer(ctx, account, payout.TotalCents, payout.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("rail transfer for payout %d: %w", payoutID, err)
	}

	if err := s.repo.MarkPayoutCompleted(ctx, payout.ID, result.ID); err != nil {
		return err
	}
	payout.Status = models.PayoutCompleted
	payout.TransferID = result.ID
	metrics.IncPayout(models.PayoutCompleted)

	s.publish(events.EventPayoutCompleted, payout)

	if err := s.tasks.Enqueue(ctx, models.DomainReport, payout.ID, KindPayoutStatement, nil, s.now()); err != nil &&
		!errors.Is(err, database.ErrDuplicateTask) {
		return err
	}
	return nil
}

// OnTransferFailed is the compensation entry point after the transfer task
// exhausts its retries: mark the payout failed and hand the transaction
// release to its own retried task, so the money is never stranded by a crash
// between the two writes.
func (s *PayoutBatcher) OnTransferFailed(ctx context.Context, payoutID int64, cause string) error {
	payout, err := s.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutProcessing {
		return nil
	}

	if err := s.repo.MarkPayoutFailed(ctx, payout.ID, cause); err != nil {
		return err
	}
	payout.Status = models.PayoutFailed
	payout.LastError = cause
	metrics.IncPayout(models.PayoutFailed)

	s.publish(events.EventPayoutFailed, payout)

	err = s.tasks.Enqueue(ctx, models.DomainPayout, payout.ID, KindPayoutRelease, nil, s.now())
	if errors.Is(err, database.ErrDuplicateTask) {
		return nil
	}
	return err
}

// ReleaseTransactions returns the claimed transactions of a failed payout to
// the ready pool. Safe to re-run.
func (s *PayoutBatcher) ReleaseTransactions(ctx context.Context, payoutID int64) error {
	payout, err := s.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutFailed {
		return fmt.Errorf("payout %d is %s, refusing to release claimed transactions", payoutID, payout.Status)
	}
	return s.repo.ReleasePayoutTransactions(ctx, payoutID)
}

func (s *PayoutBatcher) publish(eventType string, payout *models.Payout) {
	if s.eventBus == nil {
		return
	}
	payload := events.PayoutEventPayload{
		PayoutID:       payout.ID,
		BatchID:        payout.BatchID,
		PractitionerID: payout.PractitionerID,
		TotalCents:     payout.TotalCents,
		TxCount:        payout.TxCount,
		Status:         payout.Status,
		TransferID:     payout.TransferID,
		Error:          payout.LastError,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil && s.logger != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("payout_id", payout.ID).Msg("publish event error")
	}
}
