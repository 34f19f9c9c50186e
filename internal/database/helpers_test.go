package database

import (
	"context"
	"io"
	"testing"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// monday is 2030-01-07 00:00 UTC.
var monday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testForm(name string) models.ApplicationForm {
	return models.ApplicationForm{
		DisplayName:       name,
		Email:             "dr@example.com",
		Phone:             "+10000000000",
		Specialization:    "psychotherapy",
		LicenseNumber:     "LIC-1",
		YearsOfExperience: 5,
		Education:         "MSc Psychology",
		Certifications:    []string{"CBT"},
		Languages:         []string{"en", "de"},
	}
}

func seedProvider(t *testing.T, db *DB, applicantID string) *models.Provider {
	t.Helper()
	ctx := context.Background()

	app := &models.Application{ApplicantID: applicantID, ApplicationForm: testForm("Dr. " + applicantID)}
	_, err := db.CreateApplication(ctx, app, nil)
	require.NoError(t, err)

	_, provider, err := db.ReviewApplication(ctx, app.ID, "admin-1", models.DecisionApprove, "",
		domain.ProvisionRequest{Timezone: "UTC", SessionPrice: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.NotNil(t, provider)
	return provider
}

func seedWindow(t *testing.T, db *DB, providerID int64, day int, start, end string) *models.AvailabilityWindow {
	t.Helper()
	w := &models.AvailabilityWindow{
		ProviderID: providerID,
		DayOfWeek:  day,
		StartTime:  models.MustClock(start),
		EndTime:    models.MustClock(end),
		Enabled:    true,
	}
	require.NoError(t, db.UpsertWindow(context.Background(), w))
	return w
}

// book creates an appointment on monday at hh:mm in UTC.
func book(db *DB, providerID int64, hhmm string, minutes int, price string) (*models.Appointment, error) {
	start := models.MustClock(hhmm)
	appt := &models.Appointment{
		ProviderID:      providerID,
		ClientID:        "client-1",
		Start:           monday.Add(time.Duration(start) * time.Minute),
		DurationMinutes: minutes,
		Price:           decimal.RequireFromString(price),
	}
	err := db.CreateAppointmentWithLock(context.Background(), appt, int(time.Monday), start, start+models.ClockTime(minutes))
	return appt, err
}
