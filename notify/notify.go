// Package notify delivers operator alerts: kill-switch trips, permanent
// runner failures, broker rejections.
package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Notifier sends one operator-facing message.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// LogNotifier writes alerts to the log only. Used when Telegram is not
// configured.
type LogNotifier struct{}

// Send logs the alert.
func (LogNotifier) Send(_ context.Context, message string) error {
	log.Warn().Str("alert", message).Msg("📢 Operator alert")
	return nil
}

// Telegram sends alerts to a Telegram chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects the bot and validates the token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifier ready")
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Send posts the message to the configured chat.
func (t *Telegram) Send(_ context.Context, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, message)
	_, err := t.bot.Send(msg)
	return err
}
