package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/db"
	"github.com/stablehq/farrier/internal/metrics"
)

// PreferenceStore resolves and prunes user delivery targets.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*db.UserPreferences, error)
	RemovePushToken(ctx context.Context, userID, token string) error
	ClearTelegramChat(ctx context.Context, userID string, chatID int64) error
	ClearEmail(ctx context.Context, userID, email string) error
}

// Dispatcher routes one queue item to the sender for its channel.
type Dispatcher struct {
	prefs   PreferenceStore
	senders []Sender
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher over the given senders. The first
// sender supporting an item's channel wins.
func NewDispatcher(prefs PreferenceStore, senders []Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{prefs: prefs, senders: senders, logger: logger}
}

// Dispatch delivers the item over its channel. In-app items are already
// visible through the notifications collection, so they succeed without a
// provider call.
func (d *Dispatcher) Dispatch(ctx context.Context, item *db.QueueItem) error {
	if item.Channel == db.ChannelInApp {
		return nil
	}

	target := item.Target
	if target == "" {
		resolved, err := d.resolveTarget(ctx, item)
		if err != nil {
			return err
		}
		target = resolved
	}
	if target == "" {
		return fmt.Errorf("no delivery target for user %s on channel %s", item.UserID, item.Channel)
	}

	sender := d.senderFor(item.Channel)
	if sender == nil {
		return fmt.Errorf("no sender registered for channel %s", item.Channel)
	}

	err := sender.Send(ctx, target, Payload{
		NotificationID: item.NotificationID,
		Title:          item.Title,
		Body:           item.Body,
		Priority:       item.Priority,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTarget) {
			d.pruneTarget(ctx, item, target)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) senderFor(channel string) Sender {
	for _, s := range d.senders {
		if s.SupportsChannel(channel) {
			return s
		}
	}
	return nil
}

// resolveTarget falls back to the user's stored preferences when the item
// carries no denormalized target. One preferences read per dispatch.
func (d *Dispatcher) resolveTarget(ctx context.Context, item *db.QueueItem) (string, error) {
	prefs, err := d.prefs.GetPreferences(ctx, item.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve delivery target: %w", err)
	}

	switch item.Channel {
	case db.ChannelEmail:
		return prefs.Email, nil
	case db.ChannelPush:
		if len(prefs.PushTokens) == 0 {
			return "", nil
		}
		return prefs.PushTokens[0], nil
	case db.ChannelTelegram:
		if prefs.TelegramChatID == 0 {
			return "", nil
		}
		return strconv.FormatInt(prefs.TelegramChatID, 10), nil
	}
	return "", nil
}

// pruneTarget removes a target a channel reported permanently dead, so
// retries and future notifications stop hitting it. Only the target that
// failed is touched.
func (d *Dispatcher) pruneTarget(ctx context.Context, item *db.QueueItem, target string) {
	var err error
	switch item.Channel {
	case db.ChannelEmail:
		err = d.prefs.ClearEmail(ctx, item.UserID, target)
	case db.ChannelPush:
		err = d.prefs.RemovePushToken(ctx, item.UserID, target)
	case db.ChannelTelegram:
		chatID, convErr := strconv.ParseInt(target, 10, 64)
		if convErr != nil {
			return
		}
		err = d.prefs.ClearTelegramChat(ctx, item.UserID, chatID)
	default:
		return
	}
	if err != nil {
		d.logger.Warn("failed to prune invalid target",
			zap.String("user_id", item.UserID),
			zap.String("channel", item.Channel),
			zap.Error(err))
		return
	}

	metrics.RecordInvalidTargetPruned(item.Channel)
	d.logger.Info("pruned invalid delivery target",
		zap.String("user_id", item.UserID),
		zap.String("channel", item.Channel))
}
