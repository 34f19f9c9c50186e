package service

import (
	"errors"
	"fmt"
	"strings"

	"therapycore/internal/domain"
	"therapycore/internal/events"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
)

// businessErrors are outcomes the caller must handle, not faults.
var businessErrors = []error{
	domain.ErrNotFound,
	domain.ErrInvalidTransition,
	domain.ErrInvalidRange,
	domain.ErrInvalidInput,
	domain.ErrDuplicateApplication,
	domain.ErrDuplicateEntry,
	domain.ErrAlreadyProvisioned,
	domain.ErrOutsideAvailability,
	domain.ErrSlotConflict,
	domain.ErrNotDue,
	domain.ErrInsufficientBalance,
	domain.ErrForbidden,
}

func isBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// logFailure logs business outcomes at Warn and storage faults at Error.
func logFailure(logger *zerolog.Logger, err error) *zerolog.Event {
	if isBusinessError(err) {
		return logger.Warn().Err(err).Str("code", domain.Code(err))
	}
	return logger.Error().Err(err).Str("code", domain.Code(err))
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func publish(bus domain.EventPublisher, logger *zerolog.Logger, eventType string, payload any) {
	if bus == nil {
		return
	}
	if err := bus.PublishJSON(eventType, payload); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

func applicationPayload(app *models.Application) events.ApplicationEventPayload {
	payload := events.ApplicationEventPayload{
		ApplicationID:  app.ID,
		ApplicantID:    app.ApplicantID,
		DisplayName:    app.DisplayName,
		Specialization: app.Specialization,
		Status:         app.Status,
		ReviewerID:     app.ReviewedBy,
		Note:           app.AdminNote,
	}
	if app.ProviderID != nil {
		payload.ProviderID = *app.ProviderID
	}
	return payload
}

func appointmentPayload(appt *models.Appointment, changedBy string) events.AppointmentEventPayload {
	return events.AppointmentEventPayload{
		AppointmentID:   appt.ID,
		ProviderID:      appt.ProviderID,
		ClientID:        appt.ClientID,
		Start:           appt.Start,
		DurationMinutes: appt.DurationMinutes,
		Status:          appt.Status,
		Price:           appt.Price,
		ChangedBy:       changedBy,
	}
}

func ledgerPayload(entry *models.LedgerEntry) events.LedgerEventPayload {
	payload := events.LedgerEventPayload{
		EntryID:    entry.ID,
		ProviderID: entry.ProviderID,
		Type:       entry.Type,
		Status:     entry.Status,
		Amount:     entry.Amount,
	}
	if entry.AppointmentID != nil {
		payload.AppointmentID = *entry.AppointmentID
	}
	return payload
}

// pageBounds clamps paging input the same way for every listing.
func pageBounds(page, size int) (limit, offset int) {
	if size <= 0 {
		size = models.DefaultPageSize
	}
	if size > models.MaxPageSize {
		size = models.MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var (
	_ domain.ApplicationService  = (*ApplicationService)(nil)
	_ domain.ProviderService     = (*ProviderService)(nil)
	_ domain.AvailabilityService = (*AvailabilityService)(nil)
	_ domain.BookingService      = (*BookingService)(nil)
	_ domain.LedgerService       = (*LedgerService)(nil)
)
