// Package sqs carries delivery nudges between processes: small messages
// naming a queue item that just became due, so a worker picks it up without
// waiting out its poll interval.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Message is the nudge payload sent through SQS.
type Message struct {
	QueueItemID string `json:"queue_item_id"`
	EnqueuedAt  int64  `json:"enqueued_at"`
}

// Producer sends nudges to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// NudgeQueueItem announces that a queue item is due for processing now.
func (p *Producer) NudgeQueueItem(ctx context.Context, id string) error {
	body, err := json.Marshal(Message{
		QueueItemID: id,
		EnqueuedAt:  time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		p.logger.Error("failed to send nudge to sqs",
			zap.Error(err),
			zap.String("queue_item_id", id),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	return nil
}

// Consumer reads nudges from SQS.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// ReceiveMessage retrieves one nudge from SQS with long polling. Returns a
// nil message when the poll times out empty.
func (c *Consumer) ReceiveMessage(ctx context.Context) (*Message, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	msgData := result.Messages[0]

	var msg Message
	if err := json.Unmarshal([]byte(*msgData.Body), &msg); err != nil {
		c.logger.Error("failed to unmarshal nudge", zap.Error(err))
		return nil, "", fmt.Errorf("invalid message format: %w", err)
	}

	return &msg, *msgData.ReceiptHandle, nil
}

// DeleteMessage removes a nudge from SQS.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}

// Run consumes nudges until the context is cancelled, passing each to
// handle. Nudges are deleted even when handling fails: the worker's polling
// loop backstops anything a nudge misses.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, msg *Message) error) {
	c.logger.Info("sqs consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs consumer stopped")
			return
		}

		msg, receipt, err := c.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("sqs consumer stopped")
				return
			}
			c.logger.Error("failed to receive nudge", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		if err := handle(ctx, msg); err != nil {
			c.logger.Error("failed to handle nudge",
				zap.String("queue_item_id", msg.QueueItemID),
				zap.Error(err))
		}

		if err := c.DeleteMessage(ctx, receipt); err != nil {
			c.logger.Warn("failed to delete nudge", zap.Error(err))
		}
	}
}
