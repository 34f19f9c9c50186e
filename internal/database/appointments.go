package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/models"
)

const appointmentColumns = `id, provider_id, client_id, start_at, duration_minutes, status, price, notes,
	cancelled_by, cancelled_at, completed_at, created_at, updated_at`

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a           models.Appointment
		startAt     int64
		cancelledBy sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.ProviderID, &a.ClientID, &startAt, &a.DurationMinutes, &a.Status, &a.Price, &a.Notes,
		&cancelledBy, &a.CancelledAt, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Start = time.Unix(startAt, 0).UTC()
	a.CancelledBy = cancelledBy.String
	return &a, nil
}

func getAppointment(ctx context.Context, q querier, id int64) (*models.Appointment, error) {
	a, err := scanAppointment(q.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "appointment", id)
	}
	return a, nil
}

// CreateAppointmentWithLock validates availability and overlap and inserts the
// appointment in one immediate transaction. start and end are the wall-clock
// bounds on dayOfWeek in the provider's timezone.
func (db *DB) CreateAppointmentWithLock(ctx context.Context, appt *models.Appointment, dayOfWeek int, start, end models.ClockTime) error {
	var created models.Appointment

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProvider(ctx, tx, appt.ProviderID); err != nil {
			return err
		}

		// 1. Availability
		windows, err := db.listWindows(ctx, tx, `SELECT `+windowColumns+` FROM availability_windows
			WHERE provider_id = ? AND day_of_week = ? AND enabled = 1`, appt.ProviderID, dayOfWeek)
		if err != nil {
			return err
		}
		if !models.Covers(windows, start, end) {
			return domain.ErrOutsideAvailability
		}

		// 2. Overlap with live appointments, half-open
		startAt := appt.Start.Unix()
		endAt := appt.End().Unix()
		var conflictID int64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM appointments WHERE provider_id = ? AND status IN (?, ?) AND start_at < ? AND ? < end_at LIMIT 1`,
			appt.ProviderID, models.StatusScheduled, models.StatusCompleted, endAt, startAt).Scan(&conflictID)
		switch {
		case err == nil:
			return fmt.Errorf("overlaps appointment %d: %w", conflictID, domain.ErrSlotConflict)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check overlap: %w", err)
		}

		// 3. Insert
		now := db.stamp()
		result, err := tx.ExecContext(ctx,
			`INSERT INTO appointments (provider_id, client_id, start_at, end_at, duration_minutes, status, price, notes, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			appt.ProviderID, appt.ClientID, startAt, endAt, appt.DurationMinutes,
			models.StatusScheduled, appt.Price, appt.Notes, now, now)
		if isTriggerAbort(err, "appointment slot conflict") {
			return domain.ErrSlotConflict
		}
		if err != nil {
			return fmt.Errorf("failed to insert appointment in tx: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id in tx: %w", err)
		}
		created = *appt
		created.ID = id
		created.Start = time.Unix(startAt, 0).UTC()
		created.Status = models.StatusScheduled
		created.CreatedAt = now
		created.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	*appt = created
	return nil
}

func (db *DB) GetAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	return getAppointment(ctx, db, id)
}

func (db *DB) CancelAppointment(ctx context.Context, id int64, actorID string, at time.Time) (*models.Appointment, error) {
	var appt *models.Appointment

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		appt, err = getAppointment(ctx, tx, id)
		if err != nil {
			return err
		}
		if appt.Status != models.StatusScheduled {
			return fmt.Errorf("appointment %d is %s: %w", id, appt.Status, domain.ErrInvalidTransition)
		}

		at := at.UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE appointments SET status = ?, cancelled_by = ?, cancelled_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			models.StatusCancelled, actorID, at, at, id, models.StatusScheduled)
		if err != nil {
			return fmt.Errorf("failed to cancel appointment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrInvalidTransition
		}

		appt.Status = models.StatusCancelled
		appt.CancelledBy = actorID
		appt.CancelledAt = &at
		appt.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// CompleteAppointment marks a due appointment completed and records its
// pending earning in the same transaction.
func (db *DB) CompleteAppointment(ctx context.Context, id int64, at time.Time) (*models.Appointment, *models.LedgerEntry, error) {
	var (
		appt  *models.Appointment
		entry *models.LedgerEntry
	)

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		appt, err = getAppointment(ctx, tx, id)
		if err != nil {
			return err
		}
		if appt.Status != models.StatusScheduled {
			return fmt.Errorf("appointment %d is %s: %w", id, appt.Status, domain.ErrInvalidTransition)
		}
		if appt.Start.After(at) {
			return fmt.Errorf("appointment %d starts at %s: %w", id, appt.Start.Format(time.RFC3339), domain.ErrNotDue)
		}

		at := at.UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE appointments SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			models.StatusCompleted, at, at, id, models.StatusScheduled)
		if err != nil {
			return fmt.Errorf("failed to complete appointment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrInvalidTransition
		}
		appt.Status = models.StatusCompleted
		appt.CompletedAt = &at
		appt.UpdatedAt = at

		appointmentID := appt.ID
		entry = &models.LedgerEntry{
			ProviderID:    appt.ProviderID,
			AppointmentID: &appointmentID,
			Amount:        appt.Price,
			Type:          models.TxEarning,
			Status:        models.EntryPending,
		}
		return db.insertEntryTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	return appt, entry, nil
}

func (db *DB) ListProviderAppointments(ctx context.Context, providerID int64, from, to time.Time) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE provider_id = ? AND start_at < ? AND ? < end_at ORDER BY start_at ASC`
	return db.listAppointments(ctx, query, providerID, to.Unix(), from.Unix())
}

func (db *DB) ListClientAppointments(ctx context.Context, clientID string) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE client_id = ? ORDER BY start_at DESC`
	return db.listAppointments(ctx, query, clientID)
}

func (db *DB) listAppointments(ctx context.Context, query string, args ...any) ([]*models.Appointment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}
