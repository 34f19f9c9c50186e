package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"therapycore/internal/database"
	"therapycore/internal/domain"
	"therapycore/internal/events"
	"therapycore/internal/lock"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// monday is 2030-01-07 00:00 UTC.
var monday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	return monday.Add(time.Duration(models.MustClock(hhmm)) * time.Minute)
}

type fixture struct {
	db        *database.DB
	apps      *ApplicationService
	providers *ProviderService
	avail     *AvailabilityService
	booking   *BookingService
	ledger    *LedgerService

	mu       sync.Mutex
	received []string
}

func newFixture(t *testing.T, fastTrack ...string) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db}
	bus := events.NewEventBus(&logger)
	for _, eventType := range []string{
		events.EventApplicationSubmitted, events.EventApplicationApproved, events.EventApplicationRejected,
		events.EventAppointmentBooked, events.EventAppointmentCancelled, events.EventAppointmentCompleted,
		events.EventEarningRecorded, events.EventEarningSettled, events.EventEarningVoided,
		events.EventWithdrawalCompleted,
	} {
		bus.Subscribe(eventType, func(e *events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.received = append(f.received, e.Type)
			return nil
		})
	}

	provision := domain.ProvisionRequest{Timezone: "UTC", SessionPrice: decimal.NewFromInt(100)}
	locker := lock.NewMemoryLocker()

	f.apps = NewApplicationService(db, bus, fastTrack, provision, &logger)
	f.providers = NewProviderService(db, nil, &logger)
	f.avail = NewAvailabilityService(db, &logger)
	f.booking = NewBookingService(db, locker, bus, time.Second, &logger)
	f.ledger = NewLedgerService(db, locker, bus, nil, time.Second, &logger)

	// appointments on monday are already due
	f.booking.now = func() time.Time { return monday.Add(48 * time.Hour) }
	f.avail.now = func() time.Time { return monday.Add(-time.Hour) }
	return f
}

func (f *fixture) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func testForm(specialization string) models.ApplicationForm {
	return models.ApplicationForm{
		DisplayName:       "Dr. Test",
		Email:             "dr@example.com",
		Specialization:    specialization,
		LicenseNumber:     "LIC-42",
		YearsOfExperience: 7,
		Education:         "PhD Clinical Psychology",
		Certifications:    []string{"EMDR"},
		Languages:         []string{"en"},
	}
}

// provider runs an application through approval.
func (f *fixture) provider(t *testing.T, applicantID string) *models.Provider {
	t.Helper()
	ctx := context.Background()
	app, err := f.apps.Submit(ctx, applicantID, testForm("psychotherapy"))
	require.NoError(t, err)
	_, err = f.apps.Review(ctx, app.ID, "admin", models.DecisionApprove, "")
	require.NoError(t, err)
	p, err := f.providers.GetProviderByApplicant(ctx, applicantID)
	require.NoError(t, err)
	return p
}

func (f *fixture) window(t *testing.T, providerID int64, day int, start, end string) *models.AvailabilityWindow {
	t.Helper()
	w, err := f.avail.SetWindow(context.Background(), providerID, day, models.MustClock(start), models.MustClock(end), true)
	require.NoError(t, err)
	return w
}

func request(providerID int64, hhmm string, minutes int, price string) models.BookingRequest {
	return models.BookingRequest{
		ProviderID:      providerID,
		ClientID:        "client-1",
		Start:           at(hhmm),
		DurationMinutes: minutes,
		Price:           decimal.RequireFromString(price),
	}
}
