package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the sqlite handle. A single open connection serializes writers;
// every write runs inside a BEGIN IMMEDIATE transaction.
type DB struct {
	*sql.DB
	logger      *zerolog.Logger
	retry       RetryPolicy
	busyTimeout time.Duration
	now         func() time.Time
}

type Option func(*DB)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(db *DB) { db.retry = p }
}

func WithBusyTimeout(d time.Duration) Option {
	return func(db *DB) { db.busyTimeout = d }
}

// WithClock overrides the time source used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	db := &DB{
		logger:      logger,
		retry:       DefaultRetryPolicy(),
		busyTimeout: 5 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}

	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", db.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.DB = sqlDB

	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_txlock=immediate&_foreign_keys=on", path, sep, db.busyTimeout.Milliseconds())
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS applications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            applicant_id TEXT NOT NULL,
            display_name TEXT NOT NULL,
            email TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            specialization TEXT NOT NULL,
            license_number TEXT NOT NULL,
            years_of_experience INTEGER NOT NULL DEFAULT 0 CHECK (years_of_experience >= 0),
            education TEXT NOT NULL DEFAULT '',
            bio TEXT NOT NULL DEFAULT '',
            certifications TEXT NOT NULL DEFAULT '[]',
            languages TEXT NOT NULL DEFAULT '[]',
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
            admin_note TEXT NOT NULL DEFAULT '',
            provider_id INTEGER REFERENCES providers(id),
            reviewed_by TEXT,
            reviewed_at DATETIME,
            archived_at DATETIME,
            created_at DATETIME NOT NULL,
            CHECK ((status = 'pending') = (reviewed_at IS NULL)),
            CHECK (status <> 'approved' OR provider_id IS NOT NULL)
        )`,
		`CREATE TABLE IF NOT EXISTS providers (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            applicant_id TEXT NOT NULL UNIQUE,
            application_id INTEGER UNIQUE REFERENCES applications(id),
            display_name TEXT NOT NULL,
            specialization TEXT NOT NULL,
            bio TEXT NOT NULL DEFAULT '',
            languages TEXT NOT NULL DEFAULT '[]',
            session_price TEXT NOT NULL DEFAULT '0',
            timezone TEXT NOT NULL DEFAULT 'UTC',
            verified BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS availability_windows (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider_id INTEGER NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
            day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
            start_time TEXT NOT NULL CHECK (length(start_time) = 5),
            end_time TEXT NOT NULL CHECK (length(end_time) = 5),
            enabled BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK (start_time < end_time),
            UNIQUE (provider_id, day_of_week, start_time)
        )`,
		`CREATE TABLE IF NOT EXISTS appointments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider_id INTEGER NOT NULL REFERENCES providers(id),
            client_id TEXT NOT NULL,
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
            status TEXT NOT NULL DEFAULT 'scheduled' CHECK (status IN ('scheduled', 'completed', 'cancelled')),
            price TEXT NOT NULL DEFAULT '0',
            notes TEXT NOT NULL DEFAULT '',
            cancelled_by TEXT,
            cancelled_at DATETIME,
            completed_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK (end_at = start_at + duration_minutes * 60)
        )`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider_id INTEGER NOT NULL REFERENCES providers(id),
            appointment_id INTEGER UNIQUE REFERENCES appointments(id),
            amount TEXT NOT NULL CHECK (CAST(amount AS REAL) >= 0),
            transaction_type TEXT NOT NULL CHECK (transaction_type IN ('earning', 'withdrawal')),
            status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'cancelled')),
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            CHECK (transaction_type = 'earning' OR appointment_id IS NULL)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            entry_id INTEGER NOT NULL REFERENCES ledger_entries(id),
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		// at most one live application per applicant
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_applications_open ON applications(applicant_id) WHERE archived_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status)`,
		`CREATE INDEX IF NOT EXISTS idx_providers_specialization ON providers(specialization)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_provider_start ON appointments(provider_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_client ON appointments(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_provider ON ledger_entries(provider_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,

		`CREATE TRIGGER IF NOT EXISTS trg_applications_terminal
            BEFORE UPDATE OF status ON applications
            WHEN OLD.status <> 'pending' AND NEW.status <> OLD.status
            BEGIN SELECT RAISE(ABORT, 'application status is terminal'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_applications_no_delete
            BEFORE DELETE ON applications
            BEGIN SELECT RAISE(ABORT, 'applications are kept for audit'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_providers_future_appointments
            BEFORE DELETE ON providers
            WHEN EXISTS (
                SELECT 1 FROM appointments
                WHERE provider_id = OLD.id AND status = 'scheduled'
                AND start_at > CAST(strftime('%s', 'now') AS INTEGER)
            )
            BEGIN SELECT RAISE(ABORT, 'provider has future appointments'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_appointments_no_overlap
            BEFORE INSERT ON appointments
            WHEN NEW.status IN ('scheduled', 'completed') AND EXISTS (
                SELECT 1 FROM appointments
                WHERE provider_id = NEW.provider_id
                AND status IN ('scheduled', 'completed')
                AND start_at < NEW.end_at AND NEW.start_at < end_at
            )
            BEGIN SELECT RAISE(ABORT, 'appointment slot conflict'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_appointments_terminal
            BEFORE UPDATE OF status ON appointments
            WHEN OLD.status <> 'scheduled' AND NEW.status <> OLD.status
            BEGIN SELECT RAISE(ABORT, 'appointment status is terminal'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_ledger_immutable
            BEFORE UPDATE OF provider_id, appointment_id, amount, transaction_type, created_at ON ledger_entries
            BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_ledger_no_delete
            BEFORE DELETE ON ledger_entries
            BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_ledger_status
            BEFORE UPDATE OF status ON ledger_entries
            WHEN OLD.status <> 'pending' AND NEW.status <> OLD.status
            BEGIN SELECT RAISE(ABORT, 'ledger entry status is terminal'); END`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// inTx runs fn in one transaction, retrying transient sqlite faults.
// fn may run more than once and must not leak partial results.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.withRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func (db *DB) stamp() time.Time {
	return db.now().UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound, wrapping everything else.
func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return false
	}
	return column == "" || strings.Contains(sqliteErr.Error(), column)
}

// isTriggerAbort reports whether a RAISE(ABORT, ...) with the given message fired.
func isTriggerAbort(err error, message string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return strings.Contains(sqliteErr.Error(), message)
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(raw string) []string {
	var values []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil || values == nil {
		return []string{}
	}
	return values
}

func pageBounds(page, size int) (limit, offset int) {
	if size <= 0 {
		size = models.DefaultPageSize
	}
	if size > models.MaxPageSize {
		size = models.MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}
