package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is append-only: only Status and ProcessedAt change after insert.
type LedgerEntry struct {
	ID            int64           `json:"id"`
	ProviderID    int64           `json:"provider_id"`
	AppointmentID *int64          `json:"appointment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"transaction_type"` // earning, withdrawal
	Status        string          `json:"status"`           // pending, completed, cancelled
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// Balance is derived from the ledger on every read.
type Balance struct {
	ProviderID         int64           `json:"provider_id"`
	TotalEarnings      decimal.Decimal `json:"total_earnings"`
	ThisPeriodEarnings decimal.Decimal `json:"this_period_earnings"`
	PendingEarnings    decimal.Decimal `json:"pending_earnings"`
	CompletedEarnings  decimal.Decimal `json:"completed_earnings"`
	TotalWithdrawals   decimal.Decimal `json:"total_withdrawals"`
	Available          decimal.Decimal `json:"available"`
	PeriodStart        time.Time       `json:"period_start"`
}

// SumBalance folds entries into a Balance. Entries created at or after
// periodStart count toward ThisPeriodEarnings.
func SumBalance(providerID int64, entries []LedgerEntry, periodStart time.Time) Balance {
	b := Balance{
		ProviderID:         providerID,
		TotalEarnings:      decimal.Zero,
		ThisPeriodEarnings: decimal.Zero,
		PendingEarnings:    decimal.Zero,
		CompletedEarnings:  decimal.Zero,
		TotalWithdrawals:   decimal.Zero,
		PeriodStart:        periodStart,
	}
	for _, e := range entries {
		switch e.Type {
		case TxEarning:
			switch e.Status {
			case EntryPending:
				b.PendingEarnings = b.PendingEarnings.Add(e.Amount)
			case EntryCompleted:
				b.CompletedEarnings = b.CompletedEarnings.Add(e.Amount)
			default:
				continue
			}
			b.TotalEarnings = b.TotalEarnings.Add(e.Amount)
			if !e.CreatedAt.Before(periodStart) {
				b.ThisPeriodEarnings = b.ThisPeriodEarnings.Add(e.Amount)
			}
		case TxWithdrawal:
			if e.Status == EntryCompleted {
				b.TotalWithdrawals = b.TotalWithdrawals.Add(e.Amount)
			}
		}
	}
	b.Available = b.CompletedEarnings.Sub(b.TotalWithdrawals)
	return b
}
