package api

import (
	"context"
	"fmt"

	"therapycore/internal/domain"
	"therapycore/internal/models"
)

// DeadLetterSource exposes sync tasks that exhausted their retries.
type DeadLetterSource interface {
	DeadLetters(ctx context.Context, limit int64) ([]models.SyncTask, error)
}

// Services bundles what both transports call into.
type Services struct {
	Applications domain.ApplicationService
	Providers    domain.ProviderService
	Availability domain.AvailabilityService
	Booking      domain.BookingService
	Ledger       domain.LedgerService
	DeadLetters  DeadLetterSource
}

var errNoUser = fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)

func requireUser(c Caller) error {
	if c.UserID == "" {
		return errNoUser
	}
	return nil
}

func requireAdmin(c Caller) error {
	if !c.Admin {
		return domain.ErrForbidden
	}
	return nil
}

// authorizeProvider allows admins and the provider's own account.
func (s *Services) authorizeProvider(ctx context.Context, c Caller, providerID int64) error {
	if c.Admin {
		return nil
	}
	if err := requireUser(c); err != nil {
		return err
	}
	p, err := s.Providers.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}
	if p.ApplicantID != c.UserID {
		return domain.ErrForbidden
	}
	return nil
}

// authorizeAppointment lets the client, the provider or an admin see an appointment.
func (s *Services) authorizeAppointment(ctx context.Context, c Caller, id int64) (*models.Appointment, error) {
	appt, err := s.Booking.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Admin || (c.UserID != "" && c.UserID == appt.ClientID) {
		return appt, nil
	}
	if err := s.authorizeProvider(ctx, c, appt.ProviderID); err != nil {
		return nil, err
	}
	return appt, nil
}
