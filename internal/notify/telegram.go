package notify

import (
	"fmt"

	"therapycore/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender is the subset of the bot API used for notifications.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier pushes admin-facing events to a single chat.
type TelegramNotifier struct {
	sender TelegramSender
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(sender TelegramSender, adminChatID int64, logger *zerolog.Logger) *TelegramNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{sender: sender, chatID: adminChatID, logger: logger}
}

// Subscribe registers the notifier on the bus.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventApplicationSubmitted, n.onApplicationSubmitted)
	bus.Subscribe(events.EventWithdrawalCompleted, n.onWithdrawalCompleted)
}

func (n *TelegramNotifier) onApplicationSubmitted(ev *events.Event) error {
	var p events.ApplicationEventPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}

	text := fmt.Sprintf(`🆕 Новая заявка специалиста:

👤 Имя: %s
🩺 Специализация: %s
📋 Статус: %s
🆔 ID заявки: %d`,
		p.DisplayName,
		p.Specialization,
		p.Status,
		p.ApplicationID)

	return n.send(text)
}

func (n *TelegramNotifier) onWithdrawalCompleted(ev *events.Event) error {
	var p events.LedgerEventPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}

	text := fmt.Sprintf(`💸 Вывод средств:

🩺 Специалист: %d
💰 Сумма: %s
🆔 Операция: %d`,
		p.ProviderID,
		p.Amount.StringFixed(2),
		p.EntryID)

	return n.send(text)
}

func (n *TelegramNotifier) send(text string) error {
	if n.chatID == 0 {
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("Failed to send notification")
		return err
	}
	return nil
}
