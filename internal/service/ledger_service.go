package service

import (
	"context"
	"fmt"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/events"
	"therapycore/internal/logging"
	"therapycore/internal/metrics"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type LedgerService struct {
	repo     domain.Repository
	locker   domain.Locker
	eventBus domain.EventPublisher
	exporter domain.StatementExporter
	lockTTL  time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewLedgerService(repo domain.Repository, locker domain.Locker, eventBus domain.EventPublisher, exporter domain.StatementExporter, lockTTL time.Duration, logger *zerolog.Logger) *LedgerService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &LedgerService{
		repo:     repo,
		locker:   locker,
		eventBus: eventBus,
		exporter: exporter,
		lockTTL:  lockTTL,
		logger:   logging.Component(logger, "ledger"),
		now:      time.Now,
	}
}

// RecordEarning appends a pending earning for a completed appointment.
// Completing an appointment already does this, so a second call reports
// ErrDuplicateEntry.
func (s *LedgerService) RecordEarning(ctx context.Context, providerID, appointmentID int64, amount decimal.Decimal) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, invalidInput("earning amount must be positive")
	}

	entry, err := s.repo.RecordEarning(ctx, providerID, appointmentID, amount)
	metrics.IncLedger(models.TxEarning, resultOf(err))
	if err != nil {
		logFailure(s.logger, err).
			Int64(logging.FieldProviderID, providerID).
			Int64(logging.FieldAppointmentID, appointmentID).
			Msg("Record earning failed")
		return nil, err
	}

	s.logger.Info().
		Int64(logging.FieldEntryID, entry.ID).
		Int64(logging.FieldProviderID, providerID).
		Int64(logging.FieldAppointmentID, appointmentID).
		Str("amount", amount.String()).
		Msg("Earning recorded")
	publish(s.eventBus, s.logger, events.EventEarningRecorded, ledgerPayload(entry))
	return entry, nil
}

func (s *LedgerService) SettleEarning(ctx context.Context, entryID int64) (*models.LedgerEntry, error) {
	return s.transition(ctx, entryID, models.EntryCompleted, "settle", events.EventEarningSettled)
}

func (s *LedgerService) VoidEarning(ctx context.Context, entryID int64) (*models.LedgerEntry, error) {
	return s.transition(ctx, entryID, models.EntryCancelled, "void", events.EventEarningVoided)
}

func (s *LedgerService) transition(ctx context.Context, entryID int64, status, op, eventType string) (*models.LedgerEntry, error) {
	entry, err := s.repo.TransitionEntry(ctx, entryID, status, s.now())
	metrics.IncLedger(op, resultOf(err))
	if err != nil {
		logFailure(s.logger, err).Int64(logging.FieldEntryID, entryID).Str("status", status).Msg("Ledger transition failed")
		return nil, err
	}

	s.logger.Info().
		Int64(logging.FieldEntryID, entry.ID).
		Int64(logging.FieldProviderID, entry.ProviderID).
		Str("status", entry.Status).
		Msg("Ledger entry updated")
	publish(s.eventBus, s.logger, eventType, ledgerPayload(entry))
	return entry, nil
}

// RequestWithdrawal pays out amount if the available balance covers it.
func (s *LedgerService) RequestWithdrawal(ctx context.Context, providerID int64, amount decimal.Decimal) (entry *models.LedgerEntry, err error) {
	defer func() {
		metrics.IncLedger(models.TxWithdrawal, resultOf(err))
		if err != nil {
			logFailure(s.logger, err).
				Int64(logging.FieldProviderID, providerID).
				Str("amount", amount.String()).
				Msg("Withdrawal rejected")
		}
	}()

	if !amount.IsPositive() {
		return nil, invalidInput("withdrawal amount must be positive")
	}

	if s.locker != nil {
		release, lockErr := s.locker.Acquire(ctx, fmt.Sprintf("ledger:%d", providerID), s.lockTTL)
		if lockErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: ledger lock: %v", domain.ErrUnavailable, lockErr)
		}
		defer release()
	}

	entry, err = s.repo.CreateWithdrawal(ctx, providerID, amount, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64(logging.FieldEntryID, entry.ID).
		Int64(logging.FieldProviderID, providerID).
		Str("amount", amount.String()).
		Msg("Withdrawal completed")
	publish(s.eventBus, s.logger, events.EventWithdrawalCompleted, ledgerPayload(entry))
	return entry, nil
}

// periodStart is the first instant of the current calendar month in loc.
func periodStart(now time.Time, loc *time.Location) time.Time {
	y, m, _ := now.In(loc).Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, loc)
}

// Balance is recomputed from the full ledger on every call.
func (s *LedgerService) Balance(ctx context.Context, providerID int64) (*models.Balance, error) {
	provider, err := s.repo.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, providerID, 0, 0)
	if err != nil {
		return nil, err
	}
	balance := models.SumBalance(providerID, entries, periodStart(s.now(), provider.Location()))
	return &balance, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, providerID int64, page, size int) ([]models.LedgerEntry, error) {
	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}
	limit, offset := pageBounds(page, size)
	return s.repo.ListLedgerEntries(ctx, providerID, limit, offset)
}

// ExportStatement writes an XLSX statement of entries created in [from, to).
func (s *LedgerService) ExportStatement(ctx context.Context, providerID int64, from, to time.Time) (string, error) {
	if s.exporter == nil {
		return "", fmt.Errorf("%w: statement export is not configured", domain.ErrUnavailable)
	}
	if !from.Before(to) {
		return "", domain.ErrInvalidRange
	}

	provider, err := s.repo.GetProvider(ctx, providerID)
	if err != nil {
		return "", err
	}
	entries, err := s.repo.ListLedgerEntriesBetween(ctx, providerID, from, to)
	if err != nil {
		return "", err
	}
	all, err := s.repo.ListLedgerEntries(ctx, providerID, 0, 0)
	if err != nil {
		return "", err
	}
	balance := models.SumBalance(providerID, all, periodStart(s.now(), provider.Location()))

	path, err := s.exporter.Export(provider, entries, balance, from, to)
	if err != nil {
		s.logger.Error().Err(err).Int64(logging.FieldProviderID, providerID).Msg("Statement export failed")
		return "", err
	}
	s.logger.Info().Int64(logging.FieldProviderID, providerID).Str("file_path", path).Int("entries", len(entries)).Msg("Statement exported")
	return path, nil
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.Code(err)
}
