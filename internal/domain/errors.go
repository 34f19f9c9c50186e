package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrInvalidRange         = errors.New("invalid time range")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateApplication = errors.New("applicant already has an open application")
	ErrDuplicateEntry       = errors.New("ledger entry already exists for appointment")
	ErrAlreadyProvisioned   = errors.New("applicant already has a provider profile")
	ErrOutsideAvailability  = errors.New("requested time is outside provider availability")
	ErrSlotConflict         = errors.New("requested time overlaps an existing appointment")
	ErrNotDue               = errors.New("appointment has not started yet")
	ErrInsufficientBalance  = errors.New("insufficient available balance")
	ErrForbidden            = errors.New("actor is not allowed to perform this action")
	ErrUnavailable          = errors.New("storage temporarily unavailable")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrInvalidRange, "invalid_range"},
	{ErrInvalidInput, "invalid_input"},
	{ErrDuplicateApplication, "duplicate_application"},
	{ErrDuplicateEntry, "duplicate_entry"},
	{ErrAlreadyProvisioned, "already_provisioned"},
	{ErrOutsideAvailability, "outside_availability"},
	{ErrSlotConflict, "slot_conflict"},
	{ErrNotDue, "not_due"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrForbidden, "forbidden"},
	{ErrUnavailable, "unavailable"},
}

// Code returns a stable snake_case identifier for err, or "internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
