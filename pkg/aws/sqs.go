package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// sqsAPI is the subset of the SQS client the consumer needs.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// MessageHandler processes one message body. A non-nil error leaves the
// message on the queue for redelivery after the visibility timeout.
type MessageHandler func(ctx context.Context, body string) error

// SQSConsumer long-polls a queue and deletes messages its handler accepts.
type SQSConsumer struct {
	client            sqsAPI
	queueURL          string
	visibilityTimeout int32
	logger            *zap.Logger
}

func NewSQSConsumer(cfg sdkaws.Config, queueURL string, visibilityTimeout int32, logger *zap.Logger) *SQSConsumer {
	return newSQSConsumer(sqs.NewFromConfig(cfg), queueURL, visibilityTimeout, logger)
}

func newSQSConsumer(client sqsAPI, queueURL string, visibilityTimeout int32, logger *zap.Logger) *SQSConsumer {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30
	}
	return &SQSConsumer{client: client, queueURL: queueURL, visibilityTimeout: visibilityTimeout, logger: logger}
}

// StartPolling runs until ctx is cancelled.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS polling stopped", zap.String("queue", c.queueURL))
			return ctx.Err()
		default:
			if err := c.pollOnce(ctx, handler); err != nil && ctx.Err() == nil {
				c.logger.Error("Error polling SQS", zap.Error(err))
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   c.visibilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}
		if err := handler(ctx, *msg.Body); err != nil {
			c.logger.Warn("Message left for redelivery", zap.Error(err))
			continue
		}
		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      sdkaws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Error("Failed to delete message", zap.Error(err))
		}
	}
	return nil
}
