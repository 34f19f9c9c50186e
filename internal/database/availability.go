package database

import (
	"context"
	"database/sql"
	"fmt"

	"therapycore/internal/domain"
	"therapycore/internal/models"
)

const windowColumns = `id, provider_id, day_of_week, start_time, end_time, enabled, created_at, updated_at`

func scanWindow(row rowScanner) (models.AvailabilityWindow, error) {
	var w models.AvailabilityWindow
	err := row.Scan(&w.ID, &w.ProviderID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.Enabled, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// UpsertWindow inserts or updates on the natural key (provider, day, start).
func (db *DB) UpsertWindow(ctx context.Context, w *models.AvailabilityWindow) error {
	var stored models.AvailabilityWindow

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProvider(ctx, tx, w.ProviderID); err != nil {
			return err
		}

		now := db.stamp()
		query := `INSERT INTO availability_windows (provider_id, day_of_week, start_time, end_time, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider_id, day_of_week, start_time)
			DO UPDATE SET end_time = excluded.end_time, enabled = excluded.enabled, updated_at = excluded.updated_at
			RETURNING ` + windowColumns
		var err error
		stored, err = scanWindow(tx.QueryRowContext(ctx, query,
			w.ProviderID, w.DayOfWeek, w.StartTime, w.EndTime, w.Enabled, now, now))
		if err != nil {
			return fmt.Errorf("failed to upsert availability window: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	*w = stored
	return nil
}

func (db *DB) GetWindow(ctx context.Context, id int64) (*models.AvailabilityWindow, error) {
	w, err := scanWindow(db.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM availability_windows WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "availability window", id)
	}
	return &w, nil
}

func (db *DB) DeleteWindow(ctx context.Context, id int64) error {
	return db.withRetry(ctx, func() error {
		res, err := db.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete availability window: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("availability window %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

func (db *DB) ToggleWindow(ctx context.Context, id int64) (*models.AvailabilityWindow, error) {
	var w models.AvailabilityWindow
	err := db.withRetry(ctx, func() error {
		var err error
		w, err = scanWindow(db.QueryRowContext(ctx,
			`UPDATE availability_windows SET enabled = NOT enabled, updated_at = ? WHERE id = ? RETURNING `+windowColumns,
			db.stamp(), id))
		if err != nil {
			return notFound(err, "availability window", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWindows returns all windows of a provider ordered by day then start.
func (db *DB) ListWindows(ctx context.Context, providerID int64) ([]models.AvailabilityWindow, error) {
	return db.listWindows(ctx, db, `SELECT `+windowColumns+` FROM availability_windows
		WHERE provider_id = ? ORDER BY day_of_week ASC, start_time ASC`, providerID)
}

func (db *DB) ListEnabledWindows(ctx context.Context, providerID int64, dayOfWeek int) ([]models.AvailabilityWindow, error) {
	return db.listWindows(ctx, db, `SELECT `+windowColumns+` FROM availability_windows
		WHERE provider_id = ? AND day_of_week = ? AND enabled = 1 ORDER BY start_time ASC`, providerID, dayOfWeek)
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (db *DB) listWindows(ctx context.Context, q rowsQuerier, query string, args ...any) ([]models.AvailabilityWindow, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list availability windows: %w", err)
	}
	defer rows.Close()

	var windows []models.AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan availability window: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}
