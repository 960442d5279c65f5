package delivery

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrInvalidTarget marks a failure caused by a permanently dead target: a
// bounced address, a revoked device token, a chat the bot was removed from.
// Senders wrap it so the dispatcher can prune the target.
var ErrInvalidTarget = errors.New("invalid delivery target")

// Payload is the channel-independent content of one delivery.
type Payload struct {
	NotificationID string
	Title          string
	Body           string
	Priority       int
}

// Sender delivers a payload to a single target over one channel.
type Sender interface {
	Send(ctx context.Context, target string, p Payload) error
	SupportsChannel(channel string) bool
}

// LogSender logs deliveries instead of sending them. Used in development
// and as the stand-in when a channel has no provider configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the delivery and reports success.
func (s *LogSender) Send(_ context.Context, target string, p Payload) error {
	s.logger.Info("delivery (log only)",
		zap.String("target", target),
		zap.String("title", p.Title),
		zap.String("notification_id", p.NotificationID))
	return nil
}

// SupportsChannel reports true for every channel.
func (s *LogSender) SupportsChannel(channel string) bool {
	return true
}
