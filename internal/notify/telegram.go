package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/replydesk/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI used to deliver messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts outcomes to the staff group chat so everyone sees
// who picked up which conversation.
type TelegramNotifier struct {
	api    Sender
	chatID int64
}

func NewTelegramNotifier(api Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{api: api, chatID: chatID}
}

func (t *TelegramNotifier) Notify(ctx context.Context, n models.Notification) error {
	if t.chatID == 0 {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, severityIcon(n.Severity)+" "+n.Text)
	msg.DisableNotification = n.Severity != models.SeverityWarning
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func severityIcon(s models.Severity) string {
	switch s {
	case models.SeveritySuccess:
		return "✅"
	case models.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
