package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/db"
)

// PushSender delivers mobile push notifications via AWS SNS platform
// endpoints. The target is the device's endpoint ARN.
type PushSender struct {
	client *sns.Client
	logger *zap.Logger
}

type PushConfig struct {
	Region string
}

// NewPushSender creates a push sender backed by AWS SNS.
func NewPushSender(ctx context.Context, cfg PushConfig, logger *zap.Logger) (*PushSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &PushSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send publishes one push notification to a device endpoint. Disabled and
// deleted endpoints surface as ErrInvalidTarget so the token gets pruned.
func (s *PushSender) Send(ctx context.Context, target string, p Payload) error {
	if target == "" {
		return fmt.Errorf("push target is empty")
	}

	input := &sns.PublishInput{
		TargetArn: aws.String(target),
		Subject:   aws.String(p.Title),
		Message:   aws.String(p.Body),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		var disabled *types.EndpointDisabledException
		var notFound *types.NotFoundException
		if errors.As(err, &disabled) || errors.As(err, &notFound) {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("push sent via SNS",
		zap.String("notification_id", p.NotificationID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel checks if this sender supports the push channel
func (s *PushSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelPush
}
