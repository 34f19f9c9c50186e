package models

import "time"

// ApplicationForm is what an applicant submits.
type ApplicationForm struct {
	DisplayName       string   `json:"display_name"`
	Email             string   `json:"email"`
	Phone             string   `json:"phone"`
	Specialization    string   `json:"specialization"`
	LicenseNumber     string   `json:"license_number"`
	YearsOfExperience int      `json:"years_of_experience"`
	Education         string   `json:"education"`
	Bio               string   `json:"bio,omitempty"`
	Certifications    []string `json:"certifications"`
	Languages         []string `json:"languages"`
}

type Application struct {
	ID          int64  `json:"id"`
	ApplicantID string `json:"applicant_id"`
	ApplicationForm
	Status     string     `json:"status"` // pending, approved, rejected
	AdminNote  string     `json:"admin_note,omitempty"`
	ProviderID *int64     `json:"provider_id,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsTerminal reports whether no further review is possible.
func (a *Application) IsTerminal() bool {
	return a.Status == ApplicationApproved || a.Status == ApplicationRejected
}

// ApplicationFilter narrows admin listings.
type ApplicationFilter struct {
	Status string
	Page   int
	Size   int
}
