package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Coordinator is what the failover wrapper needs from its backends.
type Coordinator interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// FailoverLockRepository prefers redis and degrades to the in-memory backend
// when it errors, probing the primary again after a cooldown.
type FailoverLockRepository struct {
	primary   Coordinator
	fallback  Coordinator
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLockRepository(primary, fallback Coordinator, logger *zerolog.Logger) *FailoverLockRepository {
	return &FailoverLockRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverLockRepository) markDown(err error) {
	if r.logger != nil {
		r.logger.Error().Err(err).Msg("primary lock repository failed, falling back to memory")
	}
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

// shouldProbe reports whether the cooldown passed and the primary deserves
// another try.
func (r *FailoverLockRepository) shouldProbe() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func (r *FailoverLockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		acquired, err := r.primary.AcquireLock(ctx, key, ttl)
		if err == nil {
			r.isDown.Store(false)
			return acquired, nil
		}
		r.markDown(err)
	}
	return r.fallback.AcquireLock(ctx, key, ttl)
}

func (r *FailoverLockRepository) ReleaseLock(ctx context.Context, key string) error {
	if !r.isDown.Load() || r.shouldProbe() {
		err := r.primary.ReleaseLock(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.ReleaseLock(ctx, key)
}

func (r *FailoverLockRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
