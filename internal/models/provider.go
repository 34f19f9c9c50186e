package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Provider struct {
	ID             int64           `json:"id"`
	ApplicantID    string          `json:"applicant_id"`
	ApplicationID  *int64          `json:"application_id,omitempty"`
	DisplayName    string          `json:"display_name"`
	Specialization string          `json:"specialization"`
	Bio            string          `json:"bio"`
	Languages      []string        `json:"languages"`
	SessionPrice   decimal.Decimal `json:"session_price"`
	Timezone       string          `json:"timezone"`
	Verified       bool            `json:"verified"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Filled from the ratings collaborator on read, never persisted.
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

// Location resolves the provider's timezone, falling back to UTC.
func (p *Provider) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProviderPatch carries profile fields a provider or admin may change.
type ProviderPatch struct {
	DisplayName  *string          `json:"display_name,omitempty"`
	Bio          *string          `json:"bio,omitempty"`
	Languages    []string         `json:"languages,omitempty"`
	SessionPrice *decimal.Decimal `json:"session_price,omitempty"`
	Timezone     *string          `json:"timezone,omitempty"`
}

// ProviderFilter is used by directory listings.
type ProviderFilter struct {
	Specialization string
	Language       string
	VerifiedOnly   bool
	Page           int
	Size           int
}
