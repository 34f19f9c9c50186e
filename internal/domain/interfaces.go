package domain

import (
	"context"
	"iter"
	"time"

	"therapycore/internal/models"

	"github.com/shopspring/decimal"
)

// ProvisionRequest carries the provider defaults applied on approval.
type ProvisionRequest struct {
	Timezone     string
	SessionPrice decimal.Decimal
}

type ApplicationRepository interface {
	CreateApplication(ctx context.Context, app *models.Application, autoApprove *ProvisionRequest) (*models.Provider, error)
	ReviewApplication(ctx context.Context, id int64, reviewerID, decision, note string, provision ProvisionRequest) (*models.Application, *models.Provider, error)
	GetApplication(ctx context.Context, id int64) (*models.Application, error)
	GetApplicationByApplicant(ctx context.Context, applicantID string) (*models.Application, error)
	ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]*models.Application, error)
}

type ProviderRepository interface {
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	GetProviderByApplicant(ctx context.Context, applicantID string) (*models.Provider, error)
	ListProviders(ctx context.Context, filter models.ProviderFilter) ([]*models.Provider, error)
	UpdateProvider(ctx context.Context, id int64, patch models.ProviderPatch) (*models.Provider, error)
}

type AvailabilityRepository interface {
	UpsertWindow(ctx context.Context, w *models.AvailabilityWindow) error
	GetWindow(ctx context.Context, id int64) (*models.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, id int64) error
	ToggleWindow(ctx context.Context, id int64) (*models.AvailabilityWindow, error)
	ListWindows(ctx context.Context, providerID int64) ([]models.AvailabilityWindow, error)
	ListEnabledWindows(ctx context.Context, providerID int64, dayOfWeek int) ([]models.AvailabilityWindow, error)
}

type AppointmentRepository interface {
	CreateAppointmentWithLock(ctx context.Context, appt *models.Appointment, dayOfWeek int, start, end models.ClockTime) error
	GetAppointment(ctx context.Context, id int64) (*models.Appointment, error)
	CancelAppointment(ctx context.Context, id int64, actorID string, at time.Time) (*models.Appointment, error)
	CompleteAppointment(ctx context.Context, id int64, at time.Time) (*models.Appointment, *models.LedgerEntry, error)
	ListProviderAppointments(ctx context.Context, providerID int64, from, to time.Time) ([]*models.Appointment, error)
	ListClientAppointments(ctx context.Context, clientID string) ([]*models.Appointment, error)
}

type LedgerRepository interface {
	RecordEarning(ctx context.Context, providerID, appointmentID int64, amount decimal.Decimal) (*models.LedgerEntry, error)
	TransitionEntry(ctx context.Context, id int64, status string, at time.Time) (*models.LedgerEntry, error)
	CreateWithdrawal(ctx context.Context, providerID int64, amount decimal.Decimal, at time.Time) (*models.LedgerEntry, error)
	GetLedgerEntry(ctx context.Context, id int64) (*models.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, providerID int64, limit, offset int) ([]models.LedgerEntry, error)
	ListLedgerEntriesBetween(ctx context.Context, providerID int64, from, to time.Time) ([]models.LedgerEntry, error)
}

// Repository is the full persistence surface implemented by database.DB.
type Repository interface {
	ApplicationRepository
	ProviderRepository
	AvailabilityRepository
	AppointmentRepository
	LedgerRepository
}

type SyncQueue interface {
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetLedgerEntry(ctx context.Context, id int64) (*models.LedgerEntry, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Locker serializes work per key across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RatingSource is owned by the reviews collaborator.
type RatingSource interface {
	Rating(ctx context.Context, providerID int64) (rating float64, count int, err error)
}

type LedgerSheetWriter interface {
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	UpdateEntryStatus(ctx context.Context, entry *models.LedgerEntry) error
}

// StatementExporter renders a provider's ledger statement and returns the file path.
type StatementExporter interface {
	Export(provider *models.Provider, entries []models.LedgerEntry, balance models.Balance, from, to time.Time) (string, error)
}

type ApplicationService interface {
	Submit(ctx context.Context, applicantID string, form models.ApplicationForm) (*models.Application, error)
	Review(ctx context.Context, applicationID int64, reviewerID, decision, note string) (*models.Application, error)
	GetApplication(ctx context.Context, id int64) (*models.Application, error)
	GetApplicationByApplicant(ctx context.Context, applicantID string) (*models.Application, error)
	ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]*models.Application, error)
}

type ProviderService interface {
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	GetProviderByApplicant(ctx context.Context, applicantID string) (*models.Provider, error)
	ListProviders(ctx context.Context, filter models.ProviderFilter) ([]*models.Provider, error)
	UpdateProfile(ctx context.Context, id int64, actorID string, isAdmin bool, patch models.ProviderPatch) (*models.Provider, error)
}

type AvailabilityService interface {
	SetWindow(ctx context.Context, providerID int64, dayOfWeek int, start, end models.ClockTime, enabled bool) (*models.AvailabilityWindow, error)
	RemoveWindow(ctx context.Context, windowID int64) error
	GetWindow(ctx context.Context, windowID int64) (*models.AvailabilityWindow, error)
	ListWindows(ctx context.Context, providerID int64) iter.Seq2[models.AvailabilityWindow, error]
	ToggleEnabled(ctx context.Context, windowID int64) (*models.AvailabilityWindow, error)
	FreeSlots(ctx context.Context, providerID int64, date time.Time, slotMinutes int) ([]models.Slot, error)
}

type BookingService interface {
	Book(ctx context.Context, req models.BookingRequest) (*models.Appointment, error)
	Cancel(ctx context.Context, appointmentID int64, actorID string, isAdmin bool) (*models.Appointment, error)
	Complete(ctx context.Context, appointmentID int64) (*models.Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*models.Appointment, error)
	ListProviderAppointments(ctx context.Context, providerID int64, from, to time.Time) ([]*models.Appointment, error)
	ListClientAppointments(ctx context.Context, clientID string) ([]*models.Appointment, error)
}

type LedgerService interface {
	RecordEarning(ctx context.Context, providerID, appointmentID int64, amount decimal.Decimal) (*models.LedgerEntry, error)
	SettleEarning(ctx context.Context, entryID int64) (*models.LedgerEntry, error)
	VoidEarning(ctx context.Context, entryID int64) (*models.LedgerEntry, error)
	RequestWithdrawal(ctx context.Context, providerID int64, amount decimal.Decimal) (*models.LedgerEntry, error)
	Balance(ctx context.Context, providerID int64) (*models.Balance, error)
	ListEntries(ctx context.Context, providerID int64, page, size int) ([]models.LedgerEntry, error)
	ExportStatement(ctx context.Context, providerID int64, from, to time.Time) (string, error)
}
