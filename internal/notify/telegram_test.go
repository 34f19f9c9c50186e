package notify

import (
	"errors"
	"strings"
	"testing"

	"therapycore/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestNotifier_ApplicationSubmitted(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42 && strings.Contains(msg.Text, "Dr. Test") && strings.Contains(msg.Text, "ID заявки: 7")
	})).Return(tgbotapi.Message{}, nil).Once()

	bus := events.NewEventBus(nil)
	NewTelegramNotifier(sender, 42, nil).Subscribe(bus)

	require.NoError(t, bus.PublishJSON(events.EventApplicationSubmitted, events.ApplicationEventPayload{
		ApplicationID:  7,
		DisplayName:    "Dr. Test",
		Specialization: "cbt",
		Status:         "pending",
	}))
	sender.AssertExpectations(t)
}

func TestNotifier_WithdrawalCompleted(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && strings.Contains(msg.Text, "100.00")
	})).Return(tgbotapi.Message{}, nil).Once()

	n := NewTelegramNotifier(sender, 42, nil)
	ev := &events.Event{Type: events.EventWithdrawalCompleted}
	ev.Payload = []byte(`{"entry_id":3,"provider_id":5,"amount":"100"}`)

	require.NoError(t, n.onWithdrawalCompleted(ev))
	sender.AssertExpectations(t)
}

func TestNotifier_SendError(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("telegram down"))

	n := NewTelegramNotifier(sender, 42, nil)
	assert.Error(t, n.send("hello"))
}

func TestNotifier_NoChatSkipsSend(t *testing.T) {
	sender := new(mockSender)
	n := NewTelegramNotifier(sender, 0, nil)
	assert.NoError(t, n.send("hello"))
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifier_BadPayload(t *testing.T) {
	n := NewTelegramNotifier(new(mockSender), 42, nil)
	err := n.onApplicationSubmitted(&events.Event{Payload: []byte("{")})
	assert.Error(t, err)
}
