package notify

import (
	"context"
	"fmt"
	"time"

	aws_pkg "order-service/pkg/aws"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SNSPublisher publishes events to one SNS topic.
type SNSPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSPublisher {
	return &SNSPublisher{client: client, topicArn: topicArn}
}

func (p *SNSPublisher) Publish(ctx context.Context, _ string, payload []byte) error {
	return p.client.Publish(ctx, p.topicArn, payload)
}

// KafkaPublisher writes events to a Kafka topic keyed by order ID, so all
// events of one order land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		// One event per write; the default one-second batch window would
		// delay every send.
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
	}
	logger.Info("Kafka notification writer initialized",
		zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		return fmt.Errorf("kafka write to %s failed: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka notification writer", zap.String("topic", p.topic))
	return p.writer.Close()
}

// RabbitPublisher publishes events to a durable RabbitMQ queue through the
// default exchange.
type RabbitPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Body:         payload,
	})
}

func (p *RabbitPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
