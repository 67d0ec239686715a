package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sana/internal/database"
	"sana/internal/metrics"
	"sana/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler executes one workflow task.
type Handler func(ctx context.Context, task *models.WorkflowTask) error

// FailureHook runs once after a task exhausts its retries. Compensation
// entry point: it must itself enqueue any follow-up work durably.
type FailureHook func(ctx context.Context, task *models.WorkflowTask, cause error)

// Interceptor wraps a Handler. Composed with Chain, outermost first.
type Interceptor func(next Handler) Handler

// Chain composes interceptors into one: Chain(a, b)(h) == a(b(h)).
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next Handler) Handler {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}

// LoggingInterceptor logs every task execution with its outcome.
func LoggingInterceptor(logger *zerolog.Logger) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *models.WorkflowTask) error {
			start := time.Now()
			err := next(ctx, task)
			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.Str("kind", task.Kind).
				Str("domain", task.Domain).
				Int64("entity_id", task.EntityID).
				Int64("task_id", task.ID).
				Dur("elapsed", time.Since(start)).
				Msg("task executed")
			return err
		}
	}
}

// RecoverInterceptor converts a handler panic into an error so one bad task
// cannot take the whole loop down.
func RecoverInterceptor() Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, task *models.WorkflowTask) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("task panic: %v", r)
				}
			}()
			return next(ctx, task)
		}
	}
}

type registration struct {
	handler   Handler
	onFailure FailureHook
}

// RegisterOption tunes a handler registration.
type RegisterOption func(*registration)

// WithOnFailure attaches a compensation hook fired after the final retry.
func WithOnFailure(hook FailureHook) RegisterOption {
	return func(r *registration) {
		r.onFailure = hook
	}
}

// queueEnvelope is what travels through redis; the DB row stays the source
// of truth, the envelope is only a wake-up.
type queueEnvelope struct {
	TaskID int64 `json:"task_id"`
}

// Orchestrator runs durable workflow tasks: persisted in the database,
// signalled through redis, recovered by polling. Handlers are registered
// per kind before Start; an unknown kind is a permanent failure.
type Orchestrator struct {
	db            *database.DB
	redis         *redis.Client
	retryPolicy   RetryPolicy
	handlers      map[string]registration
	interceptor   Interceptor
	queue         chan int64
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        zerolog.Logger
}

func NewOrchestrator(db *database.DB, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger, interceptors ...Interceptor) *Orchestrator {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 10 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "orchestrator").Logger()
	}

	return &Orchestrator{
		db:            db,
		redis:         redisClient,
		retryPolicy:   retry,
		handlers:      make(map[string]registration),
		interceptor:   Chain(interceptors...),
		queue:         make(chan int64, models.WorkerQueueSize),
		redisQueueKey: "workflow:queue",
		deadLetterKey: "workflow:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     models.DefaultTaskBatchSize,
		logger:        log,
	}
}

// Register binds a handler to a task kind. Must be called before Start.
func (o *Orchestrator) Register(kind string, handler Handler, opts ...RegisterOption) {
	reg := registration{handler: handler}
	for _, opt := range opts {
		opt(&reg)
	}
	o.handlers[kind] = reg
}

// Enqueue persists a task and wakes a worker if it is already due. A future
// runAt makes the task a durable timer picked up by polling.
func (o *Orchestrator) Enqueue(ctx context.Context, domain string, entityID int64, kind string, payload any, runAt time.Time) error {
	var encoded string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode task payload: %w", err)
		}
		encoded = string(raw)
	}

	task := &models.WorkflowTask{
		Domain:      domain,
		EntityID:    entityID,
		Kind:        kind,
		RunID:       uuid.NewString(),
		Payload:     encoded,
		ScheduledAt: runAt,
	}
	if err := o.db.CreateTask(ctx, task); err != nil {
		return err
	}

	if runAt.After(time.Now()) {
		return nil
	}

	if o.redis != nil {
		if err := o.pushRedis(ctx, task.ID); err != nil {
			o.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case o.queue <- task.ID:
	default:
		// Полный канал — задачу подберёт опрос базы
		o.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Cancel cancels the pending timers of one workflow.
func (o *Orchestrator) Cancel(ctx context.Context, domain string, entityID int64) error {
	n, err := o.db.CancelTasks(ctx, domain, entityID)
	if err != nil {
		return err
	}
	if n > 0 {
		o.logger.Info().Str("domain", domain).Int64("entity_id", entityID).Int64("cancelled", n).Msg("workflow timers cancelled")
	}
	return nil
}

// Start runs the main loop until ctx is done: drain the local queue first,
// then redis, then fall back to polling the database for due timers and
// tasks recovered after a crash.
func (o *Orchestrator) Start(ctx context.Context) {
	o.logger.Info().Msg("orchestrator started")
	defer o.logger.Info().Msg("orchestrator stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if id, ok := o.tryLocalQueue(); ok {
			o.runByID(ctx, id)
			continue
		}

		if id, ok := o.tryRedis(ctx); ok {
			o.runByID(ctx, id)
			continue
		}

		tasks, err := o.db.GetDueTasks(ctx, time.Now(), o.batchSize)
		if err != nil {
			o.logger.Error().Err(err).Msg("fetch due tasks")
			o.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			o.sleep(ctx)
			continue
		}

		for _, task := range tasks {
			o.process(ctx, task)
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(o.pollInterval):
	}
}

func (o *Orchestrator) tryLocalQueue() (int64, bool) {
	select {
	case id := <-o.queue:
		return id, true
	default:
		return 0, false
	}
}

func (o *Orchestrator) tryRedis(ctx context.Context) (int64, bool) {
	if o.redis == nil {
		return 0, false
	}
	res, err := o.redis.BRPop(ctx, time.Second, o.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, false
		}
		o.logger.Error().Err(err).Msg("redis BRPOP error")
		return 0, false
	}
	if len(res) != 2 {
		return 0, false
	}
	var envelope queueEnvelope
	if err := json.Unmarshal([]byte(res[1]), &envelope); err != nil {
		o.logger.Error().Err(err).Msg("decode redis envelope")
		return 0, false
	}
	return envelope.TaskID, true
}

// runByID re-reads the row so a stale envelope never resurrects a cancelled
// or already-finished task.
func (o *Orchestrator) runByID(ctx context.Context, id int64) {
	task, err := o.db.GetTask(ctx, id)
	if err != nil {
		o.logger.Error().Err(err).Int64("task_id", id).Msg("load task")
		return
	}
	o.process(ctx, task)
}

func (o *Orchestrator) process(ctx context.Context, task *models.WorkflowTask) {
	if err := o.db.MarkTaskClaimed(ctx, task.ID); err != nil {
		// Другой воркер уже забрал задачу
		return
	}
	task.Status = models.TaskRunning

	reg, ok := o.handlers[task.Kind]
	if !ok {
		o.failTask(ctx, task, registration{}, fmt.Errorf("no handler registered for kind %q", task.Kind))
		return
	}

	start := time.Now()
	err := o.interceptor(reg.handler)(ctx, task)
	if err != nil {
		metrics.ObserveTask(task.Kind, "error", time.Since(start))
		o.retryOrFail(ctx, task, reg, err)
		return
	}
	metrics.ObserveTask(task.Kind, "ok", time.Since(start))

	if err := o.db.UpdateTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		o.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task completed")
	}
}

func (o *Orchestrator) retryOrFail(ctx context.Context, task *models.WorkflowTask, reg registration, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= o.retryPolicy.MaxRetries {
		o.failTask(ctx, task, reg, cause)
		return
	}

	nextTime := time.Now().Add(o.retryPolicy.NextDelay(attempt))
	if err := o.db.UpdateTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &nextTime); err != nil {
		o.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task retry")
	}
}

func (o *Orchestrator) failTask(ctx context.Context, task *models.WorkflowTask, reg registration, cause error) {
	if err := o.db.UpdateTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		o.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task failed")
	}
	o.pushDeadLetter(ctx, task)

	if reg.onFailure != nil {
		reg.onFailure(ctx, task, cause)
	}
}

func (o *Orchestrator) pushRedis(ctx context.Context, taskID int64) error {
	data, err := json.Marshal(queueEnvelope{TaskID: taskID})
	if err != nil {
		return err
	}
	return o.redis.LPush(ctx, o.redisQueueKey, data).Err()
}

func (o *Orchestrator) pushDeadLetter(ctx context.Context, task *models.WorkflowTask) {
	if o.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		o.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter task")
		return
	}
	if err := o.redis.LPush(ctx, o.deadLetterKey, data).Err(); err != nil {
		o.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push error")
	}
}
