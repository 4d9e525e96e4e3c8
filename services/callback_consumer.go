package services

import (
	"context"
	"encoding/json"
	"fmt"

	"order-service/models"

	aws_pkg "order-service/pkg/aws"

	"go.uber.org/zap"
)

// MessagePoller is satisfied by the SQS consumer.
type MessagePoller interface {
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// CallbackHandler applies one raw provider callback.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, gateway string, raw []byte) bool
}

// CallbackConsumer drains provider callbacks that an edge function parked on
// a queue. A rejected callback stays on the queue and is redelivered.
type CallbackConsumer struct {
	poller  MessagePoller
	handler CallbackHandler
	metrics MetricsRecorder
	logger  *zap.Logger
}

func NewCallbackConsumer(poller MessagePoller, handler CallbackHandler, metrics MetricsRecorder, logger *zap.Logger) *CallbackConsumer {
	return &CallbackConsumer{poller: poller, handler: handler, metrics: metrics, logger: logger}
}

// Start blocks until ctx is cancelled.
func (c *CallbackConsumer) Start(ctx context.Context) error {
	return c.poller.StartPolling(ctx, c.handle)
}

func (c *CallbackConsumer) handle(ctx context.Context, body string) error {
	var msg models.CallbackMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		// Redelivering an unparseable envelope never helps.
		c.logger.Error("Dropping malformed callback message", zap.Error(err))
		return nil
	}
	if !c.handler.HandleCallback(ctx, msg.Gateway, []byte(msg.Payload)) {
		return fmt.Errorf("callback for gateway %s not applied", msg.Gateway)
	}
	recordCount(c.metrics, c.logger, aws_pkg.MetricSQSMessages, map[string]string{"Gateway": msg.Gateway})
	return nil
}
