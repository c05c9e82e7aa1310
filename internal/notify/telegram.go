package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hearthctl/hearth/internal/config"
)

// TelegramNotifier sends messages through a Telegram bot.
type TelegramNotifier struct {
	cfg    *config.TelegramConfig
	logger *slog.Logger
	bot    *tgbotapi.BotAPI
}

// NewTelegramNotifier validates the bot token against the Telegram API.
func NewTelegramNotifier(cfg *config.TelegramConfig, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	logger.Info("telegram notifier connected", "username", bot.Self.UserName)
	return &TelegramNotifier{
		cfg:    cfg,
		logger: logger.With("channel", "telegram"),
		bot:    bot,
	}, nil
}

// Name returns the channel identifier.
func (n *TelegramNotifier) Name() string {
	return "telegram"
}

// Send delivers one text message to the configured chat.
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.cfg.ChatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
