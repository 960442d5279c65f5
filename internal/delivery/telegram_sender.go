package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/stablehq/farrier/internal/db"
)

// TelegramSender delivers notifications as telegram messages. The target is
// the chat id as a decimal string.
type TelegramSender struct {
	bot    *tele.Bot
	logger *zap.Logger
}

type TelegramConfig struct {
	Token string
}

// NewTelegramSender creates a telegram sender. The bot token is verified
// against the telegram API during construction.
func NewTelegramSender(cfg TelegramConfig, logger *zap.Logger) (*TelegramSender, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramSender{bot: bot, logger: logger}, nil
}

// Send delivers one telegram message. Blocked, deactivated and missing
// chats surface as ErrInvalidTarget so the chat binding gets pruned.
func (s *TelegramSender) Send(_ context.Context, target string, p Payload) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed chat id %q", ErrInvalidTarget, target)
	}

	text := p.Title
	if p.Body != "" {
		text += "\n\n" + p.Body
	}

	if _, err := s.bot.Send(tele.ChatID(chatID), text); err != nil {
		if errors.Is(err, tele.ErrBlockedByUser) ||
			errors.Is(err, tele.ErrUserIsDeactivated) ||
			errors.Is(err, tele.ErrChatNotFound) {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		return fmt.Errorf("telegram send failed: %w", err)
	}

	s.logger.Info("message sent via telegram",
		zap.String("notification_id", p.NotificationID),
		zap.Int64("chat_id", chatID),
	)

	return nil
}

// SupportsChannel checks if this sender supports the telegram channel
func (s *TelegramSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelTelegram
}
