package service

import (
	"context"
	"iter"
	"sort"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/logging"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
)

type AvailabilityService struct {
	repo   domain.Repository
	logger *zerolog.Logger
	now    func() time.Time
}

func NewAvailabilityService(repo domain.Repository, logger *zerolog.Logger) *AvailabilityService {
	return &AvailabilityService{
		repo:   repo,
		logger: logging.Component(logger, "availability"),
		now:    time.Now,
	}
}

func (s *AvailabilityService) SetWindow(ctx context.Context, providerID int64, dayOfWeek int, start, end models.ClockTime, enabled bool) (*models.AvailabilityWindow, error) {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return nil, invalidInput("day of week %d is out of range", dayOfWeek)
	}
	if !start.Valid() || !end.Valid() || start >= end {
		return nil, domain.ErrInvalidRange
	}

	w := &models.AvailabilityWindow{
		ProviderID: providerID,
		DayOfWeek:  dayOfWeek,
		StartTime:  start,
		EndTime:    end,
		Enabled:    enabled,
	}
	if err := s.repo.UpsertWindow(ctx, w); err != nil {
		logFailure(s.logger, err).Int64(logging.FieldProviderID, providerID).Msg("Set window failed")
		return nil, err
	}

	s.logger.Info().
		Int64(logging.FieldProviderID, providerID).
		Int64(logging.FieldWindowID, w.ID).
		Int("day_of_week", dayOfWeek).
		Str("start", start.String()).
		Str("end", end.String()).
		Bool("enabled", enabled).
		Msg("Availability window saved")
	return w, nil
}

// RemoveWindow deletes a window. Appointments booked against it stay as they are.
func (s *AvailabilityService) RemoveWindow(ctx context.Context, windowID int64) error {
	if err := s.repo.DeleteWindow(ctx, windowID); err != nil {
		logFailure(s.logger, err).Int64(logging.FieldWindowID, windowID).Msg("Remove window failed")
		return err
	}
	s.logger.Info().Int64(logging.FieldWindowID, windowID).Msg("Availability window removed")
	return nil
}

func (s *AvailabilityService) GetWindow(ctx context.Context, windowID int64) (*models.AvailabilityWindow, error) {
	return s.repo.GetWindow(ctx, windowID)
}

// ListWindows yields the provider's windows ordered by day then start. Every
// iteration queries storage again, so the sequence can be ranged over twice.
func (s *AvailabilityService) ListWindows(ctx context.Context, providerID int64) iter.Seq2[models.AvailabilityWindow, error] {
	return func(yield func(models.AvailabilityWindow, error) bool) {
		windows, err := s.repo.ListWindows(ctx, providerID)
		if err != nil {
			yield(models.AvailabilityWindow{}, err)
			return
		}
		for _, w := range windows {
			if !yield(w, nil) {
				return
			}
		}
	}
}

func (s *AvailabilityService) ToggleEnabled(ctx context.Context, windowID int64) (*models.AvailabilityWindow, error) {
	w, err := s.repo.ToggleWindow(ctx, windowID)
	if err != nil {
		logFailure(s.logger, err).Int64(logging.FieldWindowID, windowID).Msg("Toggle window failed")
		return nil, err
	}
	s.logger.Info().Int64(logging.FieldWindowID, windowID).Bool("enabled", w.Enabled).Msg("Availability window toggled")
	return w, nil
}

// FreeSlots lists bookable starts of slotMinutes length on the calendar day
// of date, read in the provider's timezone. Past starts are skipped.
func (s *AvailabilityService) FreeSlots(ctx context.Context, providerID int64, date time.Time, slotMinutes int) ([]models.Slot, error) {
	if slotMinutes <= 0 || slotMinutes > models.MinutesPerDay {
		return nil, domain.ErrInvalidRange
	}

	provider, err := s.repo.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	loc := provider.Location()
	y, m, d := date.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	windows, err := s.repo.ListEnabledWindows(ctx, providerID, int(dayStart.Weekday()))
	if err != nil {
		return nil, err
	}
	booked, err := s.repo.ListProviderAppointments(ctx, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	step := models.ClockTime(slotMinutes)
	seen := make(map[models.ClockTime]bool)
	var starts []models.ClockTime
	for _, w := range windows {
		for c := w.StartTime; c+step <= w.EndTime; c += step {
			if !seen[c] {
				seen[c] = true
				starts = append(starts, c)
			}
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	now := s.now()
	slots := make([]models.Slot, 0, len(starts))
	for _, c := range starts {
		start := time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
		// wall clock skipped by a DST jump
		if models.ClockOf(start) != c {
			continue
		}
		end := start.Add(time.Duration(slotMinutes) * time.Minute)
		if start.Before(now) || taken(booked, start, end) {
			continue
		}
		slots = append(slots, models.Slot{Start: start, End: end})
	}
	return slots, nil
}

func taken(appointments []*models.Appointment, start, end time.Time) bool {
	for _, a := range appointments {
		if a.Status == models.StatusCancelled {
			continue
		}
		if a.Overlaps(start, end) {
			return true
		}
	}
	return false
}
