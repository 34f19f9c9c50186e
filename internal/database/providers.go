package database

import (
	"context"
	"database/sql"
	"fmt"

	"therapycore/internal/models"
)

const providerColumns = `id, applicant_id, application_id, display_name, specialization, bio, languages,
	session_price, timezone, verified, created_at, updated_at`

func scanProvider(row rowScanner) (*models.Provider, error) {
	var (
		p             models.Provider
		applicationID sql.NullInt64
		langs         string
	)
	err := row.Scan(
		&p.ID, &p.ApplicantID, &applicationID, &p.DisplayName, &p.Specialization, &p.Bio, &langs,
		&p.SessionPrice, &p.Timezone, &p.Verified, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if applicationID.Valid {
		p.ApplicationID = &applicationID.Int64
	}
	p.Languages = decodeList(langs)
	return &p, nil
}

func getProvider(ctx context.Context, q querier, id int64) (*models.Provider, error) {
	p, err := scanProvider(q.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "provider", id)
	}
	return p, nil
}

func (db *DB) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	return getProvider(ctx, db, id)
}

func (db *DB) GetProviderByApplicant(ctx context.Context, applicantID string) (*models.Provider, error) {
	p, err := scanProvider(db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE applicant_id = ?`, applicantID))
	if err != nil {
		return nil, notFound(err, "provider for applicant", applicantID)
	}
	return p, nil
}

func (db *DB) ListProviders(ctx context.Context, filter models.ProviderFilter) ([]*models.Provider, error) {
	limit, offset := pageBounds(filter.Page, filter.Size)

	query := `SELECT ` + providerColumns + ` FROM providers WHERE 1 = 1`
	args := []any{}
	if filter.Specialization != "" {
		query += ` AND specialization = ?`
		args = append(args, filter.Specialization)
	}
	if filter.Language != "" {
		// languages is a JSON array of strings
		query += ` AND EXISTS (SELECT 1 FROM json_each(providers.languages) WHERE json_each.value = ?)`
		args = append(args, filter.Language)
	}
	if filter.VerifiedOnly {
		query += ` AND verified = 1`
	}
	query += ` ORDER BY display_name ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// UpdateProvider applies the non-nil patch fields.
func (db *DB) UpdateProvider(ctx context.Context, id int64, patch models.ProviderPatch) (*models.Provider, error) {
	var updated *models.Provider

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		p, err := getProvider(ctx, tx, id)
		if err != nil {
			return err
		}

		if patch.DisplayName != nil {
			p.DisplayName = *patch.DisplayName
		}
		if patch.Bio != nil {
			p.Bio = *patch.Bio
		}
		if patch.Languages != nil {
			p.Languages = patch.Languages
		}
		if patch.SessionPrice != nil {
			p.SessionPrice = *patch.SessionPrice
		}
		if patch.Timezone != nil {
			p.Timezone = *patch.Timezone
		}
		p.UpdatedAt = db.stamp()

		_, err = tx.ExecContext(ctx,
			`UPDATE providers SET display_name = ?, bio = ?, languages = ?, session_price = ?, timezone = ?, updated_at = ?
			 WHERE id = ?`,
			p.DisplayName, p.Bio, encodeList(p.Languages), p.SessionPrice, p.Timezone, p.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("failed to update provider: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
