package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/models"

	"github.com/shopspring/decimal"
)

const ledgerColumns = `id, provider_id, appointment_id, amount, transaction_type, status, created_at, processed_at`

func scanLedgerEntry(row rowScanner) (models.LedgerEntry, error) {
	var (
		e             models.LedgerEntry
		appointmentID sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.ProviderID, &appointmentID, &e.Amount, &e.Type, &e.Status, &e.CreatedAt, &e.ProcessedAt)
	if err != nil {
		return e, err
	}
	if appointmentID.Valid {
		e.AppointmentID = &appointmentID.Int64
	}
	return e, nil
}

func getLedgerEntry(ctx context.Context, q querier, id int64) (*models.LedgerEntry, error) {
	e, err := scanLedgerEntry(q.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "ledger entry", id)
	}
	return &e, nil
}

// insertEntryTx appends the entry and queues it for the accounting mirror.
func (db *DB) insertEntryTx(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
	now := db.stamp()

	var appointmentID any
	if entry.AppointmentID != nil {
		appointmentID = *entry.AppointmentID
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (provider_id, appointment_id, amount, transaction_type, status, created_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ProviderID, appointmentID, entry.Amount, entry.Type, entry.Status, now, entry.ProcessedAt)
	if isUniqueViolation(err, "ledger_entries.appointment_id") {
		return fmt.Errorf("appointment %d: %w", *entry.AppointmentID, domain.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	entry.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.CreatedAt = now

	return db.createSyncTaskTx(ctx, tx, models.SyncTaskAppendEntry, entry)
}

// RecordEarning books a pending earning for a completed appointment that has
// none yet. Completing an appointment already records one, so a repeated call
// fails with ErrDuplicateEntry.
func (db *DB) RecordEarning(ctx context.Context, providerID, appointmentID int64, amount decimal.Decimal) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		appt, err := getAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if appt.ProviderID != providerID {
			return fmt.Errorf("appointment %d belongs to another provider: %w", appointmentID, domain.ErrInvalidInput)
		}

		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE appointment_id = ?`, appointmentID).Scan(&existing); err != nil {
			return fmt.Errorf("failed to check ledger entry: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("appointment %d: %w", appointmentID, domain.ErrDuplicateEntry)
		}
		if appt.Status != models.StatusCompleted {
			return fmt.Errorf("appointment %d is %s: %w", appointmentID, appt.Status, domain.ErrInvalidTransition)
		}

		entry = &models.LedgerEntry{
			ProviderID:    providerID,
			AppointmentID: &appointmentID,
			Amount:        amount,
			Type:          models.TxEarning,
			Status:        models.EntryPending,
		}
		return db.insertEntryTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// TransitionEntry moves a pending earning to completed or cancelled.
func (db *DB) TransitionEntry(ctx context.Context, id int64, status string, at time.Time) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = getLedgerEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry.Type != models.TxEarning || entry.Status != models.EntryPending {
			return fmt.Errorf("%s entry %d is %s: %w", entry.Type, id, entry.Status, domain.ErrInvalidTransition)
		}

		at := at.UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE ledger_entries SET status = ?, processed_at = ? WHERE id = ? AND status = ?`,
			status, at, id, models.EntryPending)
		if err != nil {
			return fmt.Errorf("failed to update ledger entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrInvalidTransition
		}
		entry.Status = status
		entry.ProcessedAt = &at

		return db.createSyncTaskTx(ctx, tx, models.SyncTaskUpdateEntry, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreateWithdrawal checks the available balance and appends a completed
// withdrawal within one immediate transaction.
func (db *DB) CreateWithdrawal(ctx context.Context, providerID int64, amount decimal.Decimal, at time.Time) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProvider(ctx, tx, providerID); err != nil {
			return err
		}

		entries, err := db.listEntries(ctx, tx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE provider_id = ?`, providerID)
		if err != nil {
			return err
		}
		balance := models.SumBalance(providerID, entries, time.Time{})
		if amount.GreaterThan(balance.Available) {
			return fmt.Errorf("requested %s, available %s: %w", amount, balance.Available, domain.ErrInsufficientBalance)
		}

		processed := at.UTC()
		entry = &models.LedgerEntry{
			ProviderID:  providerID,
			Amount:      amount,
			Type:        models.TxWithdrawal,
			Status:      models.EntryCompleted,
			ProcessedAt: &processed,
		}
		return db.insertEntryTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (db *DB) GetLedgerEntry(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	return getLedgerEntry(ctx, db, id)
}

// ListLedgerEntries returns newest first. A non-positive limit returns everything.
func (db *DB) ListLedgerEntries(ctx context.Context, providerID int64, limit, offset int) ([]models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE provider_id = ? ORDER BY id DESC`
	args := []any{providerID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	return db.listEntries(ctx, db, query, args...)
}

func (db *DB) ListLedgerEntriesBetween(ctx context.Context, providerID int64, from, to time.Time) ([]models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE provider_id = ? AND created_at >= ? AND created_at < ? ORDER BY id ASC`
	return db.listEntries(ctx, db, query, providerID, from.UTC(), to.UTC())
}

func (db *DB) listEntries(ctx context.Context, q rowsQuerier, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) createSyncTaskTx(ctx context.Context, tx *sql.Tx, taskType string, entry *models.LedgerEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal sync payload: %w", err)
	}
	task := &models.SyncTask{
		TaskType: taskType,
		EntryID:  entry.ID,
		Payload:  string(payload),
		Status:   models.SyncPending,
	}
	return db.createSyncTask(ctx, tx, task)
}
