package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"therapycore/internal/events"
	"therapycore/internal/export"
	"therapycore/internal/lock"
	"therapycore/internal/models"
	"therapycore/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzSkipsAuth(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]string
	code := env.call(t, http.MethodGet, "/healthz", "", "", nil, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRejectsMissingAndUnknownKeys(t *testing.T) {
	env := newTestEnv(t)

	var body errorBody
	code := env.call(t, http.MethodGet, "/api/v1/providers", "", "", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthenticated", body.Code)

	code = env.call(t, http.MethodGet, "/api/v1/providers", "nope", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestApplicationFlow(t *testing.T) {
	env := newTestEnv(t)

	var app models.Application
	code := env.call(t, http.MethodPost, "/api/v1/applications", clientKey, "therapist-1", testForm(), &app)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, models.ApplicationPending, app.Status)

	// a second open application is a conflict
	var errBody errorBody
	code = env.call(t, http.MethodPost, "/api/v1/applications", clientKey, "therapist-1", testForm(), &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_application", errBody.Code)

	// only admins review
	review := map[string]string{"decision": models.DecisionApprove}
	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/applications/%d/review", app.ID), clientKey, "therapist-1", review, &errBody)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", errBody.Code)

	var reviewed models.Application
	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/applications/%d/review", app.ID), adminKey, "admin-1", review, &reviewed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.ApplicationApproved, reviewed.Status)
	require.NotNil(t, reviewed.ProviderID)

	var mine models.Application
	code = env.call(t, http.MethodGet, "/api/v1/applications/me", clientKey, "therapist-1", nil, &mine)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, app.ID, mine.ID)

	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/applications/%d", app.ID), clientKey, "someone-else", nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var listed struct {
		Applications []models.Application `json:"applications"`
	}
	code = env.call(t, http.MethodGet, "/api/v1/applications?status=approved", adminKey, "", nil, &listed)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, listed.Applications, 1)
}

func TestSubmitRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	var errBody errorBody
	code := env.call(t, http.MethodPost, "/api/v1/applications", clientKey, "", testForm(), &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", errBody.Code)
}

func TestWindowsAndSlots(t *testing.T) {
	env := newTestEnv(t)
	p := env.approvedProvider(t, "therapist-1")

	window := map[string]any{"day_of_week": 2, "start_time": "10:00", "end_time": "12:00"}
	code := env.call(t, http.MethodPut, fmt.Sprintf("/api/v1/providers/%d/windows", p.ID), clientKey, "intruder", window, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var created models.AvailabilityWindow
	code = env.call(t, http.MethodPut, fmt.Sprintf("/api/v1/providers/%d/windows", p.ID), clientKey, "therapist-1", window, &created)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, created.Enabled)
	assert.Equal(t, models.MustClock("10:00"), created.StartTime)

	var listed struct {
		Windows []models.AvailabilityWindow `json:"windows"`
	}
	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/providers/%d/windows", p.ID), clientKey, "", nil, &listed)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, listed.Windows, 2)

	var toggled models.AvailabilityWindow
	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/windows/%d/toggle", created.ID), clientKey, "therapist-1", nil, &toggled)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, toggled.Enabled)

	code = env.call(t, http.MethodDelete, fmt.Sprintf("/api/v1/windows/%d", created.ID), adminKey, "", nil, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/windows/%d", created.ID), clientKey, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	var slots struct {
		Slots []models.Slot `json:"slots"`
	}
	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/providers/%d/slots?date=2030-01-07&minutes=60", p.ID), clientKey, "", nil, &slots)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, slots.Slots, 8)
}

func TestInvalidWindowIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	p := env.approvedProvider(t, "therapist-1")

	window := map[string]any{"day_of_week": 1, "start_time": "12:00", "end_time": "10:00"}
	var errBody errorBody
	code := env.call(t, http.MethodPut, fmt.Sprintf("/api/v1/providers/%d/windows", p.ID), adminKey, "", window, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_range", errBody.Code)
}

func TestBookingErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.approvedProvider(t, "therapist-1")

	book := BookRequest{ProviderID: p.ID, Start: monday.Add(10 * time.Hour), DurationMinutes: 50}

	var appt models.Appointment
	code := env.call(t, http.MethodPost, "/api/v1/appointments", clientKey, "client-1", book, &appt)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "client-1", appt.ClientID)
	assert.True(t, decimal.NewFromInt(100).Equal(appt.Price))

	var errBody errorBody
	code = env.call(t, http.MethodPost, "/api/v1/appointments", clientKey, "client-2", book, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "slot_conflict", errBody.Code)

	outside := BookRequest{ProviderID: p.ID, Start: monday.Add(18 * time.Hour), DurationMinutes: 50}
	code = env.call(t, http.MethodPost, "/api/v1/appointments", clientKey, "client-2", outside, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "outside_availability", errBody.Code)

	missing := BookRequest{ProviderID: 999, Start: monday.Add(10 * time.Hour), DurationMinutes: 50}
	code = env.call(t, http.MethodPost, "/api/v1/appointments", clientKey, "client-2", missing, &errBody)
	assert.Equal(t, http.StatusNotFound, code)

	// not started yet
	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/appointments/%d/complete", appt.ID), clientKey, "therapist-1", nil, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "not_due", errBody.Code)

	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/appointments/%d/cancel", appt.ID), clientKey, "stranger", nil, &errBody)
	assert.Equal(t, http.StatusForbidden, code)

	var cancelled models.Appointment
	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/appointments/%d/cancel", appt.ID), clientKey, "client-1", nil, &cancelled)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/appointments/%d/cancel", appt.ID), clientKey, "client-1", nil, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", errBody.Code)

	var mine struct {
		Appointments []models.Appointment `json:"appointments"`
	}
	code = env.call(t, http.MethodGet, "/api/v1/appointments", clientKey, "client-1", nil, &mine)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, mine.Appointments, 1)

	var agenda struct {
		Appointments []models.Appointment `json:"appointments"`
	}
	path := fmt.Sprintf("/api/v1/providers/%d/appointments?from=2030-01-07&to=2030-01-08", p.ID)
	code = env.call(t, http.MethodGet, path, clientKey, "therapist-1", nil, &agenda)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, agenda.Appointments, 1)
}

func TestLedgerEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.approvedProvider(t, "therapist-1")

	var appt models.Appointment
	book := BookRequest{ProviderID: p.ID, Start: monday.Add(10 * time.Hour), DurationMinutes: 50, Price: decimal.NewFromInt(150)}
	require.Equal(t, http.StatusCreated, env.call(t, http.MethodPost, "/api/v1/appointments", clientKey, "client-1", book, &appt))

	_, entry, err := env.db.CompleteAppointment(ctx, appt.ID, monday.Add(48*time.Hour))
	require.NoError(t, err)

	var errBody errorBody
	withdraw := map[string]string{"amount": "100"}
	code := env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/providers/%d/withdrawals", p.ID), clientKey, "therapist-1", withdraw, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "insufficient_balance", errBody.Code)

	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/ledger/entries/%d/settle", entry.ID), clientKey, "therapist-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var settled models.LedgerEntry
	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/ledger/entries/%d/settle", entry.ID), adminKey, "", nil, &settled)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.EntryCompleted, settled.Status)

	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/ledger/entries/%d/void", entry.ID), adminKey, "", nil, &errBody)
	assert.Equal(t, http.StatusConflict, code)

	var withdrawal models.LedgerEntry
	code = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/providers/%d/withdrawals", p.ID), clientKey, "therapist-1", withdraw, &withdrawal)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, models.TxWithdrawal, withdrawal.Type)

	var balance models.Balance
	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/providers/%d/balance", p.ID), clientKey, "therapist-1", nil, &balance)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decimal.NewFromInt(50).Equal(balance.Available), balance.Available.String())

	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/providers/%d/balance", p.ID), clientKey, "client-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var entries struct {
		Entries []models.LedgerEntry `json:"entries"`
	}
	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/providers/%d/ledger?page=1&size=10", p.ID), adminKey, "", nil, &entries)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, entries.Entries, 2)

	// no exporter configured
	code = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/providers/%d/statement?from=2030-01-01&to=2030-02-01", p.ID), adminKey, "", nil, &errBody)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", errBody.Code)

	code = env.call(t, http.MethodGet, "/api/v1/admin/sync/dead-letters", adminKey, "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestUpdateProviderProfile(t *testing.T) {
	env := newTestEnv(t)
	p := env.approvedProvider(t, "therapist-1")

	patch := map[string]any{"bio": "Couples and families", "session_price": "120"}
	code := env.call(t, http.MethodPatch, fmt.Sprintf("/api/v1/providers/%d", p.ID), clientKey, "client-1", patch, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var updated models.Provider
	code = env.call(t, http.MethodPatch, fmt.Sprintf("/api/v1/providers/%d", p.ID), clientKey, "therapist-1", patch, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Couples and families", updated.Bio)
	assert.True(t, decimal.NewFromInt(120).Equal(updated.SessionPrice))

	var listed struct {
		Providers []models.Provider `json:"providers"`
	}
	code = env.call(t, http.MethodGet, "/api/v1/providers?specialization=psychotherapy", clientKey, "", nil, &listed)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, listed.Providers, 1)
}

func TestMalformedInput(t *testing.T) {
	env := newTestEnv(t)

	code := env.call(t, http.MethodGet, "/api/v1/providers/abc", clientKey, "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = env.call(t, http.MethodPost, "/api/v1/appointments", clientKey, "client-1", map[string]any{"unknown": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRateLimit(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := testAPIConfig()
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	srv := NewHTTPServer(cfg, &Services{}, &logger)

	req := func() int {
		r, _ := http.NewRequest(http.MethodGet, "/api/v1/admin/sync/dead-letters", nil)
		r.Header.Set("X-API-Key", clientKey)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, r)
		return rec.Code
	}
	assert.Equal(t, http.StatusForbidden, req())
	assert.Equal(t, http.StatusTooManyRequests, req())
}

func TestStatementDownload(t *testing.T) {
	env := newTestEnv(t)
	logger := zerolog.New(io.Discard)
	exporter := export.NewStatementExporter(t.TempDir(), &logger)
	env.svc.Ledger = service.NewLedgerService(env.db, lock.NewMemoryLocker(), events.NewEventBus(&logger), exporter, time.Second, &logger)

	p := env.approvedProvider(t, "therapist-1")

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/providers/%d/statement?from=2030-01-01&to=2030-02-01", env.ts.URL, p.ID), nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", clientKey)
	req.Header.Set("X-User-ID", "therapist-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), fmt.Sprintf("statement_%d_2030-01-01_to_2030-02-01.xlsx", p.ID))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// xlsx is a zip archive
	assert.Equal(t, "PK", string(body[:2]))

	code := env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/providers/%d/statement?from=2030-02-01&to=2030-01-01", p.ID), adminKey, "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
