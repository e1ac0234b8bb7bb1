package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// maxRedeliveries is how many times a retryable failure is retried before
// the message goes to the dead letter queue.
const maxRedeliveries = 3

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger
}

// NewConsumer creates a new consumer for the given queue
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log,
	}, nil
}

// Subscribe binds the queue to exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start consumes messages until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Msg("message channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	return nil
}

// Disposition is what happens to a delivery after its handler ran.
type Disposition int

const (
	Ack Disposition = iota
	Requeue
	DeadLetter
)

// Dispatch runs the handler registered for the event and decides the
// delivery outcome. Only retryable failures are requeued, up to
// maxRedeliveries times.
func (c *Consumer) Dispatch(ctx context.Context, event *Event, redeliveries int) Disposition {
	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		return Ack
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)
	if id, err := uuid.Parse(event.TenantID); err == nil {
		ctx = tenant.WithTenantID(ctx, id)
	}

	err := handler(ctx, event)
	if err == nil {
		return Ack
	}

	log := c.logger.Error().
		Err(err).
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Int("redeliveries", redeliveries)

	if !errors.IsRetryable(err) {
		log.Msg("event failed permanently, sending to DLQ")
		return DeadLetter
	}
	if redeliveries >= maxRedeliveries {
		log.Msg("max retries exceeded, sending to DLQ")
		return DeadLetter
	}

	log.Msg("event failed, requeueing")
	return Requeue
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		_ = msg.Reject(false)
		return
	}

	attempts := retryCount(msg)
	switch c.Dispatch(ctx, &event, attempts) {
	case Ack:
		_ = msg.Ack(false)
	case Requeue:
		// Republish with a bumped counter; a plain Nack would not record the attempt.
		if err := c.retry(ctx, msg, attempts+1); err != nil {
			c.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to requeue event")
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
	default:
		_ = msg.Reject(false)
	}
}

func (c *Consumer) retry(ctx context.Context, msg amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)

	return c.rmq.Channel().PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		Headers:       headers,
		Body:          msg.Body,
	})
}

const retryHeader = "x-retry-count"

func retryCount(msg amqp.Delivery) int {
	switch v := msg.Headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
