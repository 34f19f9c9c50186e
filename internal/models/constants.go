package models

// Application statuses.
const (
	ApplicationPending  = "pending"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

// Review decisions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Appointment statuses.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Ledger transaction types.
const (
	TxEarning    = "earning"
	TxWithdrawal = "withdrawal"
)

// Ledger entry statuses.
const (
	EntryPending   = "pending"
	EntryCompleted = "completed"
	EntryCancelled = "cancelled"
)

// Sync task statuses.
const (
	SyncPending   = "pending"
	SyncRetry     = "retry"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

const (
	// SystemReviewerID is recorded as reviewer on fast-track approvals.
	SystemReviewerID = "system"

	// DefaultPageSize размер страницы по умолчанию
	DefaultPageSize = 20

	// MaxPageSize верхняя граница размера страницы
	MaxPageSize = 100

	// MinutesPerDay is the upper bound for a wall-clock value (24:00).
	MinutesPerDay = 24 * 60
)

// Sync task types for the accounting mirror.
const (
	SyncTaskAppendEntry = "append_entry"
	SyncTaskUpdateEntry = "update_entry"
)
