package database

import (
	"context"
	"testing"

	"therapycore/internal/domain"
	"therapycore/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateApplication(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	app := &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("Dr. One")}
	provider, err := db.CreateApplication(ctx, app, nil)
	require.NoError(t, err)
	assert.Nil(t, provider)
	assert.NotZero(t, app.ID)
	assert.Equal(t, models.ApplicationPending, app.Status)

	got, err := db.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CBT"}, got.Certifications)
	assert.Equal(t, []string{"en", "de"}, got.Languages)
	assert.Nil(t, got.ReviewedAt)

	t.Run("DuplicatePending", func(t *testing.T) {
		_, err := db.CreateApplication(ctx, &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("x")}, nil)
		assert.ErrorIs(t, err, domain.ErrDuplicateApplication)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.GetApplication(ctx, 999)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestReviewApplication_Approve(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	app := &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("Dr. One")}
	_, err := db.CreateApplication(ctx, app, nil)
	require.NoError(t, err)

	reviewed, provider, err := db.ReviewApplication(ctx, app.ID, "admin-1", models.DecisionApprove, "welcome",
		domain.ProvisionRequest{Timezone: "Europe/Berlin", SessionPrice: decimal.NewFromInt(90)})
	require.NoError(t, err)
	require.NotNil(t, provider)

	assert.Equal(t, models.ApplicationApproved, reviewed.Status)
	assert.Equal(t, "admin-1", reviewed.ReviewedBy)
	require.NotNil(t, reviewed.ProviderID)
	assert.Equal(t, provider.ID, *reviewed.ProviderID)

	stored, err := db.GetProviderByApplicant(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, stored.Verified)
	assert.Equal(t, "Europe/Berlin", stored.Timezone)
	assert.True(t, decimal.NewFromInt(90).Equal(stored.SessionPrice))
	require.NotNil(t, stored.ApplicationID)
	assert.Equal(t, app.ID, *stored.ApplicationID)

	_, _, err = db.ReviewApplication(ctx, app.ID, "admin-2", models.DecisionReject, "", domain.ProvisionRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = db.CreateApplication(ctx, &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("again")}, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyProvisioned)
}

func TestReviewApplication_RejectAndReapply(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	app := &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("Dr. One")}
	_, err := db.CreateApplication(ctx, app, nil)
	require.NoError(t, err)

	reviewed, provider, err := db.ReviewApplication(ctx, app.ID, "admin-1", models.DecisionReject, "license expired", domain.ProvisionRequest{})
	require.NoError(t, err)
	assert.Nil(t, provider)
	assert.Equal(t, models.ApplicationRejected, reviewed.Status)
	assert.Equal(t, "license expired", reviewed.AdminNote)

	_, _, err = db.ReviewApplication(ctx, app.ID, "admin-1", models.DecisionApprove, "", domain.ProvisionRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = db.GetProviderByApplicant(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	second := &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("Dr. One")}
	_, err = db.CreateApplication(ctx, second, nil)
	require.NoError(t, err)
	assert.NotEqual(t, app.ID, second.ID)

	old, err := db.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.NotNil(t, old.ArchivedAt)
	assert.Equal(t, models.ApplicationRejected, old.Status)

	live, err := db.GetApplicationByApplicant(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, live.ID)
}

func TestReviewApplication_UnknownDecision(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	app := &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("Dr. One")}
	_, err := db.CreateApplication(ctx, app, nil)
	require.NoError(t, err)

	_, _, err = db.ReviewApplication(ctx, app.ID, "admin", "maybe", "", domain.ProvisionRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = db.ReviewApplication(ctx, 404, "admin", models.DecisionApprove, "", domain.ProvisionRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := db.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationPending, got.Status)
}

func TestCreateApplication_AutoApprove(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	app := &models.Application{ApplicantID: "user-1", ApplicationForm: testForm("Dr. Fast")}
	provider, err := db.CreateApplication(ctx, app, &domain.ProvisionRequest{Timezone: "UTC"})
	require.NoError(t, err)
	require.NotNil(t, provider)

	assert.Equal(t, models.ApplicationApproved, app.Status)
	assert.Equal(t, models.SystemReviewerID, app.ReviewedBy)
	require.NotNil(t, app.ProviderID)
	assert.Equal(t, provider.ID, *app.ProviderID)
}

func TestListApplications(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := db.CreateApplication(ctx, &models.Application{ApplicantID: id, ApplicationForm: testForm(id)}, nil)
		require.NoError(t, err)
	}
	first, err := db.GetApplicationByApplicant(ctx, "a")
	require.NoError(t, err)
	_, _, err = db.ReviewApplication(ctx, first.ID, "admin", models.DecisionReject, "", domain.ProvisionRequest{})
	require.NoError(t, err)

	pending, err := db.ListApplications(ctx, models.ApplicationFilter{Status: models.ApplicationPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := db.ListApplications(ctx, models.ApplicationFilter{Size: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	page2, err := db.ListApplications(ctx, models.ApplicationFilter{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.Len(t, page2, 1)
}
