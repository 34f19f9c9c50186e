package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Appointment struct {
	ID              int64           `json:"id"`
	ProviderID      int64           `json:"provider_id"`
	ClientID        string          `json:"client_id"`
	Start           time.Time       `json:"start"`
	DurationMinutes int             `json:"duration_minutes"`
	Status          string          `json:"status"` // scheduled, completed, cancelled
	Price           decimal.Decimal `json:"price"`
	Notes           string          `json:"notes,omitempty"`
	CancelledBy     string          `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// End is the exclusive end of the appointment interval.
func (a *Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps uses half-open comparison: touching intervals do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End())
}

// BookingRequest is the input to the scheduler.
type BookingRequest struct {
	ProviderID      int64           `json:"provider_id"`
	ClientID        string          `json:"client_id"`
	Start           time.Time       `json:"start"`
	DurationMinutes int             `json:"duration_minutes"`
	Price           decimal.Decimal `json:"price"`
	Notes           string          `json:"notes,omitempty"`
}
