package models

const (
	// DefaultCancellationWindowHours минимальный интервал до начала сессии,
	// после которого отмена запрещена
	DefaultCancellationWindowHours = 24

	// DefaultMinPayoutCents минимальная сумма для формирования выплаты
	DefaultMinPayoutCents = 5000

	// DefaultReviewDelayHours задержка напоминания об отзыве после сессии
	DefaultReviewDelayHours = 72

	// WorkerQueueSize размер локальной очереди оркестратора
	WorkerQueueSize = 256

	// DefaultTaskBatchSize количество задач, выбираемых за один опрос БД
	DefaultTaskBatchSize = 20

	// DefaultLockTTL время жизни блокировки на практикующего
	DefaultLockTTL = 30 // секунды

	// DefaultPayoutBatchIntervalMinutes период фонового формирования выплат
	DefaultPayoutBatchIntervalMinutes = 60

	// DefaultMaxPayoutBatchesPerDay максимум выплат практикующему за сутки
	DefaultMaxPayoutBatchesPerDay = 4
)
