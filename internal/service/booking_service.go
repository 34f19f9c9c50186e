package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/events"
	"therapycore/internal/logging"
	"therapycore/internal/metrics"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
)

type BookingService struct {
	repo     domain.Repository
	locker   domain.Locker
	eventBus domain.EventPublisher
	lockTTL  time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewBookingService(repo domain.Repository, locker domain.Locker, eventBus domain.EventPublisher, lockTTL time.Duration, logger *zerolog.Logger) *BookingService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &BookingService{
		repo:     repo,
		locker:   locker,
		eventBus: eventBus,
		lockTTL:  lockTTL,
		logger:   logging.Component(logger, "booking"),
		now:      time.Now,
	}
}

func providerLockKey(providerID int64) string {
	return fmt.Sprintf("provider:%d", providerID)
}

// wallClock resolves the request to a weekday and wall-clock bounds in loc.
// An interval may end at midnight (24:00) but never run into the next day.
func wallClock(start time.Time, minutes int, loc *time.Location) (dayOfWeek int, from, to models.ClockTime, err error) {
	localStart := start.In(loc)
	localEnd := start.Add(time.Duration(minutes) * time.Minute).In(loc)

	y, m, d := localStart.Date()
	from = models.ClockOf(localStart)

	ey, em, ed := localEnd.Date()
	switch {
	case ey == y && em == m && ed == d:
		to = models.ClockOf(localEnd)
	case localEnd.Equal(time.Date(y, m, d+1, 0, 0, 0, 0, loc)):
		to = models.MinutesPerDay
	default:
		return 0, 0, 0, fmt.Errorf("interval crosses midnight: %w", domain.ErrInvalidRange)
	}
	if to <= from {
		return 0, 0, 0, fmt.Errorf("interval collapses in local time: %w", domain.ErrInvalidRange)
	}
	return int(localStart.Weekday()), from, to, nil
}

func validateBooking(req models.BookingRequest) error {
	switch {
	case strings.TrimSpace(req.ClientID) == "":
		return invalidInput("client id is required")
	case req.Price.IsNegative():
		return invalidInput("price must not be negative")
	case req.DurationMinutes <= 0:
		return fmt.Errorf("duration must be positive: %w", domain.ErrInvalidRange)
	case req.DurationMinutes > models.MinutesPerDay:
		return fmt.Errorf("duration exceeds a day: %w", domain.ErrInvalidRange)
	case req.Start.IsZero():
		return fmt.Errorf("start is required: %w", domain.ErrInvalidRange)
	case req.Start.Second() != 0 || req.Start.Nanosecond() != 0:
		return fmt.Errorf("start must fall on a whole minute: %w", domain.ErrInvalidRange)
	}
	return nil
}

func bookingResult(err error) string {
	if err == nil {
		return "booked"
	}
	return domain.Code(err)
}

// Book validates the request against availability and existing appointments
// and stores it. A zero price falls back to the provider's session price.
func (s *BookingService) Book(ctx context.Context, req models.BookingRequest) (appt *models.Appointment, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveBooking(bookingResult(err), started)
		if err != nil {
			logFailure(s.logger, err).
				Int64(logging.FieldProviderID, req.ProviderID).
				Str("client_id", req.ClientID).
				Time("start", req.Start).
				Int("duration_minutes", req.DurationMinutes).
				Msg("Booking rejected")
		}
	}()

	if err = validateBooking(req); err != nil {
		return nil, err
	}

	provider, err := s.repo.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	dayOfWeek, from, to, err := wallClock(req.Start, req.DurationMinutes, provider.Location())
	if err != nil {
		return nil, err
	}

	price := req.Price
	if price.IsZero() {
		price = provider.SessionPrice
	}

	if s.locker != nil {
		release, lockErr := s.locker.Acquire(ctx, providerLockKey(provider.ID), s.lockTTL)
		if lockErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: provider lock: %v", domain.ErrUnavailable, lockErr)
		}
		defer release()
	}

	appt = &models.Appointment{
		ProviderID:      provider.ID,
		ClientID:        req.ClientID,
		Start:           req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
		Price:           price,
		Notes:           req.Notes,
	}
	if err = s.repo.CreateAppointmentWithLock(ctx, appt, dayOfWeek, from, to); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64(logging.FieldAppointmentID, appt.ID).
		Int64(logging.FieldProviderID, appt.ProviderID).
		Str("client_id", appt.ClientID).
		Time("start", appt.Start).
		Int("duration_minutes", appt.DurationMinutes).
		Msg("Appointment booked")

	publish(s.eventBus, s.logger, events.EventAppointmentBooked, appointmentPayload(appt, appt.ClientID))
	return appt, nil
}

// Cancel is allowed for the client, the provider or an admin.
func (s *BookingService) Cancel(ctx context.Context, appointmentID int64, actorID string, isAdmin bool) (*models.Appointment, error) {
	current, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if !isAdmin && actorID != current.ClientID {
		provider, err := s.repo.GetProvider(ctx, current.ProviderID)
		if err != nil {
			return nil, err
		}
		if provider.ApplicantID != actorID {
			s.logger.Warn().Int64(logging.FieldAppointmentID, appointmentID).Str("actor_id", actorID).Msg("Cancel refused")
			return nil, domain.ErrForbidden
		}
	}

	appt, err := s.repo.CancelAppointment(ctx, appointmentID, actorID, s.now())
	if err != nil {
		logFailure(s.logger, err).Int64(logging.FieldAppointmentID, appointmentID).Msg("Cancel failed")
		return nil, err
	}

	s.logger.Info().
		Int64(logging.FieldAppointmentID, appt.ID).
		Int64(logging.FieldProviderID, appt.ProviderID).
		Str("actor_id", actorID).
		Msg("Appointment cancelled")

	publish(s.eventBus, s.logger, events.EventAppointmentCancelled, appointmentPayload(appt, actorID))
	return appt, nil
}

// Complete closes a started appointment and records its pending earning.
func (s *BookingService) Complete(ctx context.Context, appointmentID int64) (*models.Appointment, error) {
	appt, entry, err := s.repo.CompleteAppointment(ctx, appointmentID, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEntry) {
			metrics.IncLedger(models.TxEarning, domain.Code(err))
		}
		logFailure(s.logger, err).Int64(logging.FieldAppointmentID, appointmentID).Msg("Complete failed")
		return nil, err
	}
	metrics.IncLedger(models.TxEarning, "ok")

	s.logger.Info().
		Int64(logging.FieldAppointmentID, appt.ID).
		Int64(logging.FieldProviderID, appt.ProviderID).
		Int64(logging.FieldEntryID, entry.ID).
		Str("amount", entry.Amount.String()).
		Msg("Appointment completed")

	publish(s.eventBus, s.logger, events.EventAppointmentCompleted, appointmentPayload(appt, ""))
	publish(s.eventBus, s.logger, events.EventEarningRecorded, ledgerPayload(entry))
	return appt, nil
}

func (s *BookingService) GetAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *BookingService) ListProviderAppointments(ctx context.Context, providerID int64, from, to time.Time) ([]*models.Appointment, error) {
	if !from.Before(to) {
		return nil, domain.ErrInvalidRange
	}
	return s.repo.ListProviderAppointments(ctx, providerID, from, to)
}

func (s *BookingService) ListClientAppointments(ctx context.Context, clientID string) ([]*models.Appointment, error) {
	return s.repo.ListClientAppointments(ctx, clientID)
}
