package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sana/internal/api"
	"sana/internal/config"
	"sana/internal/database"
	"sana/internal/events"
	"sana/internal/export"
	"sana/internal/google"
	"sana/internal/integrations/paymentrail"
	"sana/internal/integrations/rooms"
	"sana/internal/logging"
	"sana/internal/metrics"
	"sana/internal/models"
	"sana/internal/notify"
	"sana/internal/repository"
	"sana/internal/service"
	"sana/internal/worker"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg); err != nil {
		return err
	}

	metrics.Register()

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := repository.NewRedisClient(cfg.Redis)
	locks := repository.NewFailoverLockRepository(
		repository.NewRedisLockRepository(redisClient),
		repository.NewMemoryLockRepository(),
		logger,
	)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, lock coordination degrades to in-memory")
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram, logger)
	if err != nil {
		return fmt.Errorf("init telegram notifier: %w", err)
	}

	railClient := paymentrail.NewClient(cfg.Rail)
	roomsClient := rooms.NewClient(cfg.Rooms)

	sheetsService, err := initGoogleSheets(ctx, cfg, logger)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus()
	subscribePayoutEvents(eventBus, notifier, logger)

	orchestrator := worker.NewOrchestrator(db, redisClient, worker.RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}, logger, worker.RecoverInterceptor(), worker.LoggingInterceptor(logger))

	// Бизнес-сервисы
	commission := service.NewCommissionPlan(cfg.Commission)
	ledger := service.NewSessionLedger(db, eventBus, logger)
	scheduler := service.NewReminderScheduler(db, notifier, cfg.Reminders, logger)
	lifecycle := service.NewLifecycle(db, commission, ledger, scheduler, orchestrator, eventBus, service.LifecycleConfig{
		CancellationWindow: time.Duration(cfg.Booking.CancellationWindowHours) * time.Hour,
		ReviewDelay:        time.Duration(cfg.Reminders.ReviewDelayHours) * time.Hour,
	}, logger)
	batcher := service.NewPayoutBatcher(db, locks, railClient, orchestrator, eventBus, cfg.Payouts, logger)
	statements := export.NewStatementWriter(db, cfg.Exports, logger)

	registerHandlers(orchestrator, lifecycle, batcher, statements, sheetsService, roomsClient, db, logger)

	go orchestrator.Start(ctx)
	go dispatchReminders(ctx, scheduler, logger)
	go runPayoutBatches(ctx, batcher, time.Duration(cfg.Payouts.BatchIntervalMinutes)*time.Minute, logger)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, db, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Str("env", cfg.App.Environment).Msg("engine started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := baseLogger.With().Str("component", "engine-main").Logger()

	return cfg, &logger, closer, nil
}

func prepareDirectories(cfg *config.Config) error {
	dirs := []string{filepath.Dir(cfg.Database.Path)}
	if cfg.Exports.Path != "" {
		dirs = append(dirs, cfg.Exports.Path)
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*google.SheetsService, error) {
	if cfg.Google.CredentialsFile == "" || cfg.Google.PayoutSpreadsheetID == "" {
		logger.Info().Msg("google sheets reporting disabled")
		return nil, nil
	}

	sheetsService, err := google.NewSheetsService(cfg.Google.CredentialsFile, cfg.Google.PayoutSpreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("init google sheets: %w", err)
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("google sheets connection test: %w", err)
	}
	logger.Info().Msg("google sheets reporting enabled")
	return sheetsService, nil
}

// registerHandlers binds every workflow task kind to its executor. The
// transfer task carries a compensation hook: after the final retry the payout
// is marked failed and its transactions are released back to the pool.
func registerHandlers(
	orchestrator *worker.Orchestrator,
	lifecycle *service.Lifecycle,
	batcher *service.PayoutBatcher,
	statements *export.StatementWriter,
	sheetsService *google.SheetsService,
	roomsClient *rooms.Client,
	db *database.DB,
	logger *zerolog.Logger,
) {
	orchestrator.Register(service.KindBeginSession, func(ctx context.Context, task *models.WorkflowTask) error {
		return lifecycle.Begin(ctx, task.EntityID)
	})

	orchestrator.Register(service.KindCompleteSession, func(ctx context.Context, task *models.WorkflowTask) error {
		return lifecycle.Complete(ctx, task.EntityID, "", nil)
	})

	orchestrator.Register(service.KindCreateRoom, func(ctx context.Context, task *models.WorkflowTask) error {
		handle, err := roomsClient.CreateRoom(ctx, task.EntityID)
		if err != nil {
			return err
		}
		return db.SetBookingRoom(ctx, task.EntityID, handle)
	})

	orchestrator.Register(service.KindReleaseRoom, func(ctx context.Context, task *models.WorkflowTask) error {
		booking, err := db.GetBooking(ctx, task.EntityID)
		if err != nil {
			return err
		}
		if booking.RoomHandle == "" {
			return nil
		}
		return roomsClient.CloseRoom(ctx, booking.RoomHandle)
	})

	orchestrator.Register(service.KindPayoutTransfer, func(ctx context.Context, task *models.WorkflowTask) error {
		return batcher.ExecuteTransfer(ctx, task.EntityID)
	}, worker.WithOnFailure(func(ctx context.Context, task *models.WorkflowTask, cause error) {
		if err := batcher.OnTransferFailed(ctx, task.EntityID, cause.Error()); err != nil {
			logger.Error().Err(err).Int64("payout_id", task.EntityID).Msg("transfer compensation error")
		}
	}))

	orchestrator.Register(service.KindPayoutRelease, func(ctx context.Context, task *models.WorkflowTask) error {
		return batcher.ReleaseTransactions(ctx, task.EntityID)
	})

	orchestrator.Register(service.KindPayoutStatement, func(ctx context.Context, task *models.WorkflowTask) error {
		path, err := statements.WriteStatement(ctx, task.EntityID)
		if err != nil {
			return err
		}
		logger.Info().Int64("payout_id", task.EntityID).Str("path", path).Msg("statement written")

		if sheetsService == nil {
			return nil
		}
		payout, err := db.GetPayout(ctx, task.EntityID)
		if err != nil {
			return err
		}
		return sheetsService.AppendPayout(ctx, payout)
	})
}

// dispatchReminders sends due reminders once a minute until shutdown.
func dispatchReminders(ctx context.Context, scheduler *service.ReminderScheduler, logger *zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := scheduler.DispatchDue(ctx, models.DefaultTaskBatchSize)
			if err != nil {
				logger.Error().Err(err).Msg("reminder dispatch error")
				continue
			}
			if sent > 0 {
				logger.Info().Int("sent", sent).Msg("reminders dispatched")
			}
		}
	}
}

// runPayoutBatches periodically sweeps practitioners with eligible earnings
// and opens a payout batch for each; the transfer itself runs as an
// orchestrator task.
func runPayoutBatches(ctx context.Context, batcher *service.PayoutBatcher, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			created, err := batcher.RunDueBatches(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("payout batch sweep error")
				continue
			}
			if created > 0 {
				logger.Info().Int("created", created).Msg("payout batches created")
			}
		}
	}
}

func subscribePayoutEvents(eventBus *events.EventBus, notifier *notify.TelegramNotifier, logger *zerolog.Logger) {
	eventBus.Subscribe(events.EventPayoutCompleted, func(event *events.Event) error {
		var payload events.PayoutEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Error().Err(err).Msg("decode payout event")
			return err
		}
		notifier.NotifyOps(fmt.Sprintf("Выплата %s завершена: %.2f, перевод %s",
			payload.BatchID, float64(payload.TotalCents)/100, payload.TransferID))
		return nil
	})

	eventBus.Subscribe(events.EventPayoutFailed, func(event *events.Event) error {
		var payload events.PayoutEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Error().Err(err).Msg("decode payout event")
			return err
		}
		notifier.NotifyOps(fmt.Sprintf("Выплата %s не прошла: %s", payload.BatchID, payload.Error))
		return nil
	})
}
