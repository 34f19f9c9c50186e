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

const applicationColumns = `id, applicant_id, display_name, email, phone, specialization, license_number,
	years_of_experience, education, bio, certifications, languages, status, admin_note, provider_id,
	reviewed_by, reviewed_at, archived_at, created_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		a            models.Application
		certs, langs string
		providerID   sql.NullInt64
		reviewedBy   sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.ApplicantID, &a.DisplayName, &a.Email, &a.Phone, &a.Specialization, &a.LicenseNumber,
		&a.YearsOfExperience, &a.Education, &a.Bio, &certs, &langs, &a.Status, &a.AdminNote, &providerID,
		&reviewedBy, &a.ReviewedAt, &a.ArchivedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Certifications = decodeList(certs)
	a.Languages = decodeList(langs)
	if providerID.Valid {
		a.ProviderID = &providerID.Int64
	}
	a.ReviewedBy = reviewedBy.String
	return &a, nil
}

// CreateApplication stores a pending application. A rejected application of
// the same applicant is archived first. When autoApprove is set the application
// is approved by the system reviewer in the same transaction and the new
// provider is returned.
func (db *DB) CreateApplication(ctx context.Context, app *models.Application, autoApprove *domain.ProvisionRequest) (*models.Provider, error) {
	var provider *models.Provider
	var created models.Application

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		now := db.stamp()

		var provisioned int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM providers WHERE applicant_id = ?`, app.ApplicantID).Scan(&provisioned)
		if err != nil {
			return fmt.Errorf("failed to check provider: %w", err)
		}
		if provisioned > 0 {
			return domain.ErrAlreadyProvisioned
		}

		current, err := scanApplication(tx.QueryRowContext(ctx,
			`SELECT `+applicationColumns+` FROM applications WHERE applicant_id = ? AND archived_at IS NULL`, app.ApplicantID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to get open application: %w", err)
		case current.Status == models.ApplicationRejected:
			if _, err := tx.ExecContext(ctx, `UPDATE applications SET archived_at = ? WHERE id = ?`, now, current.ID); err != nil {
				return fmt.Errorf("failed to archive application: %w", err)
			}
		default:
			return domain.ErrDuplicateApplication
		}

		query := `INSERT INTO applications (
				applicant_id, display_name, email, phone, specialization, license_number,
				years_of_experience, education, bio, certifications, languages, status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		result, err := tx.ExecContext(ctx, query,
			app.ApplicantID,
			app.DisplayName,
			app.Email,
			app.Phone,
			app.Specialization,
			app.LicenseNumber,
			app.YearsOfExperience,
			app.Education,
			app.Bio,
			encodeList(app.Certifications),
			encodeList(app.Languages),
			models.ApplicationPending,
			now,
		)
		if isUniqueViolation(err, "applications.applicant_id") {
			return domain.ErrDuplicateApplication
		}
		if err != nil {
			return fmt.Errorf("failed to insert application: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}

		created = *app
		created.ID = id
		created.Status = models.ApplicationPending
		created.CreatedAt = now
		created.ArchivedAt = nil
		provider = nil

		if autoApprove != nil {
			provider, err = approveTx(ctx, tx, &created, models.SystemReviewerID, "", *autoApprove, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	*app = created
	return provider, nil
}

// approveTx provisions the provider and flips the application to approved.
// Both writes share the caller's transaction.
func approveTx(ctx context.Context, tx *sql.Tx, app *models.Application, reviewerID, note string, prov domain.ProvisionRequest, now time.Time) (*models.Provider, error) {
	provider := &models.Provider{
		ApplicantID:    app.ApplicantID,
		ApplicationID:  &app.ID,
		DisplayName:    app.DisplayName,
		Specialization: app.Specialization,
		Bio:            app.Bio,
		Languages:      app.Languages,
		SessionPrice:   prov.SessionPrice,
		Timezone:       prov.Timezone,
		Verified:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if provider.Timezone == "" {
		provider.Timezone = "UTC"
	}
	if provider.Languages == nil {
		provider.Languages = []string{}
	}

	query := `INSERT INTO providers (
			applicant_id, application_id, display_name, specialization, bio, languages,
			session_price, timezone, verified, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, query,
		provider.ApplicantID,
		app.ID,
		provider.DisplayName,
		provider.Specialization,
		provider.Bio,
		encodeList(provider.Languages),
		provider.SessionPrice,
		provider.Timezone,
		provider.Verified,
		now,
		now,
	)
	if isUniqueViolation(err, "providers.applicant_id") {
		return nil, domain.ErrAlreadyProvisioned
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert provider: %w", err)
	}
	provider.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE applications SET status = ?, admin_note = ?, reviewed_by = ?, reviewed_at = ?, provider_id = ?
		 WHERE id = ? AND status = ?`,
		models.ApplicationApproved, note, reviewerID, now, provider.ID, app.ID, models.ApplicationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to approve application: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrInvalidTransition
	}

	app.Status = models.ApplicationApproved
	app.AdminNote = note
	app.ReviewedBy = reviewerID
	app.ReviewedAt = &now
	app.ProviderID = &provider.ID
	return provider, nil
}

func (db *DB) ReviewApplication(ctx context.Context, id int64, reviewerID, decision, note string, provision domain.ProvisionRequest) (*models.Application, *models.Provider, error) {
	var (
		app      *models.Application
		provider *models.Provider
	)

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		now := db.stamp()
		provider = nil

		var err error
		app, err = scanApplication(tx.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id))
		if err != nil {
			return notFound(err, "application", id)
		}
		if app.Status != models.ApplicationPending {
			return fmt.Errorf("application %d is %s: %w", id, app.Status, domain.ErrInvalidTransition)
		}

		switch decision {
		case models.DecisionApprove:
			provider, err = approveTx(ctx, tx, app, reviewerID, note, provision, now)
			return err
		case models.DecisionReject:
			res, err := tx.ExecContext(ctx,
				`UPDATE applications SET status = ?, admin_note = ?, reviewed_by = ?, reviewed_at = ?
				 WHERE id = ? AND status = ?`,
				models.ApplicationRejected, note, reviewerID, now, id, models.ApplicationPending)
			if err != nil {
				return fmt.Errorf("failed to reject application: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.ErrInvalidTransition
			}
			app.Status = models.ApplicationRejected
			app.AdminNote = note
			app.ReviewedBy = reviewerID
			app.ReviewedAt = &now
			return nil
		default:
			return fmt.Errorf("unknown decision %q: %w", decision, domain.ErrInvalidInput)
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return app, provider, nil
}

func (db *DB) GetApplication(ctx context.Context, id int64) (*models.Application, error) {
	app, err := scanApplication(db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "application", id)
	}
	return app, nil
}

// GetApplicationByApplicant returns the live application, or the most recent
// archived one when none is live.
func (db *DB) GetApplicationByApplicant(ctx context.Context, applicantID string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE applicant_id = ?
		ORDER BY archived_at IS NOT NULL, id DESC LIMIT 1`
	app, err := scanApplication(db.QueryRowContext(ctx, query, applicantID))
	if err != nil {
		return nil, notFound(err, "application for applicant", applicantID)
	}
	return app, nil
}

func (db *DB) ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]*models.Application, error) {
	limit, offset := pageBounds(filter.Page, filter.Size)

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE archived_at IS NULL`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}
