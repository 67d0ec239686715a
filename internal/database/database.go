package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	log zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Каждое соединение пула видит свою пустую базу
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "database").Logger()
	}
	log.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_type TEXT NOT NULL DEFAULT 'single',
            practitioner_id INTEGER NOT NULL,
            client_id INTEGER NOT NULL,
            total_cents INTEGER NOT NULL DEFAULT 0,
            total_sessions INTEGER NOT NULL DEFAULT 1,
            sessions_completed INTEGER NOT NULL DEFAULT 0,
            session_value_cents INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'open',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (sessions_completed <= total_sessions)
        )`,

		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id INTEGER NOT NULL,
            parent_booking_id INTEGER,
            session_id INTEGER,
            practitioner_id INTEGER NOT NULL,
            client_id INTEGER NOT NULL,
            service_type TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'draft',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            start_time DATETIME NOT NULL,
            end_time DATETIME NOT NULL,
            duration_minutes INTEGER NOT NULL DEFAULT 0,
            price_cents INTEGER NOT NULL DEFAULT 0,
            final_amount_cents INTEGER NOT NULL DEFAULT 0,
            requires_room BOOLEAN NOT NULL DEFAULT 0,
            room_handle TEXT NOT NULL DEFAULT '',
            no_show BOOLEAN NOT NULL DEFAULT 0,
            cancelled_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1,
            FOREIGN KEY (order_id) REFERENCES orders(id)
        )`,

		`CREATE TABLE IF NOT EXISTS earnings_transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL UNIQUE,
            practitioner_id INTEGER NOT NULL,
            gross_cents INTEGER NOT NULL,
            commission_rate REAL NOT NULL,
            commission_cents INTEGER NOT NULL,
            fee_cents INTEGER NOT NULL DEFAULT 0,
            net_cents INTEGER NOT NULL,
            payout_status TEXT NOT NULL DEFAULT 'pending',
            payout_id INTEGER,
            payout_date DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY (booking_id) REFERENCES bookings(id)
        )`,

		`CREATE TABLE IF NOT EXISTS payouts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            batch_id TEXT NOT NULL UNIQUE,
            practitioner_id INTEGER NOT NULL,
            total_cents INTEGER NOT NULL,
            tx_count INTEGER NOT NULL,
            method TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'processing',
            idempotency_key TEXT NOT NULL,
            transfer_id TEXT NOT NULL DEFAULT '',
            last_error TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS reminder_schedules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            session_id INTEGER,
            offset_kind TEXT NOT NULL,
            audience TEXT NOT NULL,
            fire_at DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            sent_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY (booking_id) REFERENCES bookings(id)
        )`,

		`CREATE TABLE IF NOT EXISTS workflow_tasks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            domain TEXT NOT NULL,
            entity_id INTEGER NOT NULL,
            kind TEXT NOT NULL,
            run_id TEXT NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT NOT NULL DEFAULT '',
            scheduled_at DATETIME NOT NULL,
            next_retry_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME
        )`,

		// Дедупликация: не более одного неотправленного напоминания
		// на (booking, offset, audience)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reminders_dedup
            ON reminder_schedules(booking_id, offset_kind, audience)
            WHERE status = 'pending'`,

		// Один активный воркфлоу на (domain, entity, kind)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_active
            ON workflow_tasks(domain, entity_id, kind)
            WHERE status IN ('pending', 'running', 'retry')`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_order_id ON bookings(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_practitioner ON bookings(practitioner_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_session ON bookings(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_earnings_practitioner ON earnings_transactions(practitioner_id, payout_status)`,
		`CREATE INDEX IF NOT EXISTS idx_earnings_payout ON earnings_transactions(payout_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_practitioner ON payouts(practitioner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminder_schedules(status, fire_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due ON workflow_tasks(status, scheduled_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
