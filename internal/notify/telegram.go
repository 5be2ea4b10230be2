package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// TelegramNotifier pushes events to a Telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    logger.LoggerInterface
}

// NewTelegramNotifier authenticates the bot token. A zero chatID is an
// error: without it there is nowhere to deliver.
func NewTelegramNotifier(token string, chatID int64, log logger.LoggerInterface) (*TelegramNotifier, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("notify: telegram chat id is required")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram auth: %w", err)
	}

	log.Info(context.Background(), "telegram notifier ready", "bot", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, e Event) {
	text := fmt.Sprintf("%s *%s*\n%s", severityIcon(e.Severity), e.Title, e.Body)

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"

	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn(ctx, "telegram send failed", "title", e.Title, "error", err.Error())
	}
}

func severityIcon(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🛑"
	case SeverityWarn:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
