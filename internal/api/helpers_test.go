package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"therapycore/internal/config"
	"therapycore/internal/database"
	"therapycore/internal/domain"
	"therapycore/internal/events"
	"therapycore/internal/lock"
	"therapycore/internal/models"
	"therapycore/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	adminKey  = "admin-key"
	clientKey = "client-key"
)

// monday is 2030-01-07 00:00 UTC.
var monday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	db  *database.DB
	svc *Services
	cfg config.APIConfig
	ts  *httptest.Server
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		GRPC:    config.APIGRPCConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: adminKey, Name: "backoffice", Permissions: []string{"admin"}},
				{Key: clientKey, Name: "mobile"},
			},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewEventBus(&logger)
	locker := lock.NewMemoryLocker()
	provision := domain.ProvisionRequest{Timezone: "UTC", SessionPrice: decimal.NewFromInt(100)}

	svc := &Services{
		Applications: service.NewApplicationService(db, bus, nil, provision, &logger),
		Providers:    service.NewProviderService(db, nil, &logger),
		Availability: service.NewAvailabilityService(db, &logger),
		Booking:      service.NewBookingService(db, locker, bus, time.Second, &logger),
		Ledger:       service.NewLedgerService(db, locker, bus, nil, time.Second, &logger),
	}

	cfg := testAPIConfig()
	env := &testEnv{db: db, svc: svc, cfg: cfg}
	env.ts = httptest.NewServer(NewHTTPServer(cfg, svc, &logger).Handler())
	t.Cleanup(env.ts.Close)
	return env
}

// call sends a JSON request and decodes the response into out when given.
func (e *testEnv) call(t *testing.T, method, path, key, userID string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func testForm() models.ApplicationForm {
	return models.ApplicationForm{
		DisplayName:       "Dr. Test",
		Email:             "dr@example.com",
		Specialization:    "psychotherapy",
		LicenseNumber:     "LIC-42",
		YearsOfExperience: 7,
		Education:         "PhD Clinical Psychology",
		Languages:         []string{"en"},
	}
}

// approvedProvider submits and approves an application for applicantID and
// opens a Monday 09:00-17:00 window.
func (e *testEnv) approvedProvider(t *testing.T, applicantID string) *models.Provider {
	t.Helper()
	ctx := context.Background()
	app, err := e.svc.Applications.Submit(ctx, applicantID, testForm())
	require.NoError(t, err)
	_, err = e.svc.Applications.Review(ctx, app.ID, "admin", models.DecisionApprove, "")
	require.NoError(t, err)
	p, err := e.svc.Providers.GetProviderByApplicant(ctx, applicantID)
	require.NoError(t, err)
	_, err = e.svc.Availability.SetWindow(ctx, p.ID, int(time.Monday), models.MustClock("09:00"), models.MustClock("17:00"), true)
	require.NoError(t, err)
	return p
}
