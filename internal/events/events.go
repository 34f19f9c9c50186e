package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	EventApplicationSubmitted = "application_submitted"
	EventApplicationApproved  = "application_approved"
	EventApplicationRejected  = "application_rejected"
	EventAppointmentBooked    = "appointment_booked"
	EventAppointmentCancelled = "appointment_cancelled"
	EventAppointmentCompleted = "appointment_completed"
	EventEarningRecorded      = "earning_recorded"
	EventEarningSettled       = "earning_settled"
	EventEarningVoided        = "earning_voided"
	EventWithdrawalCompleted  = "withdrawal_completed"
)

type ApplicationEventPayload struct {
	ApplicationID  int64  `json:"application_id"`
	ApplicantID    string `json:"applicant_id"`
	DisplayName    string `json:"display_name"`
	Specialization string `json:"specialization"`
	Status         string `json:"status"`
	ReviewerID     string `json:"reviewer_id,omitempty"`
	Note           string `json:"note,omitempty"`
	ProviderID     int64  `json:"provider_id,omitempty"`
}

type AppointmentEventPayload struct {
	AppointmentID   int64           `json:"appointment_id"`
	ProviderID      int64           `json:"provider_id"`
	ClientID        string          `json:"client_id"`
	Start           time.Time       `json:"start"`
	DurationMinutes int             `json:"duration_minutes"`
	Status          string          `json:"status"`
	Price           decimal.Decimal `json:"price"`
	ChangedBy       string          `json:"changed_by,omitempty"`
}

type LedgerEventPayload struct {
	EntryID       int64           `json:"entry_id"`
	ProviderID    int64           `json:"provider_id"`
	AppointmentID int64           `json:"appointment_id,omitempty"`
	Type          string          `json:"transaction_type"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for change notifications.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged when a
// logger is given.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type synchronously.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Int64("event_id", event.ID).Msg("Event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
