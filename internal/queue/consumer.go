package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/tripsphere/backend/pkg/logger"
)

const (
	// PrefetchCount caps the deliveries buffered per poll.
	PrefetchCount = 16
	// HandlerTimeout bounds one message handler.
	HandlerTimeout = 10 * time.Second
	// DrainTimeout bounds processing of already-buffered deliveries during
	// shutdown; the rest stays unacked and is redelivered.
	DrainTimeout = 15 * time.Second
)

// Handler processes review events. Implementations must be safe to call
// repeatedly with the same event: redelivery after a crash is expected.
type Handler interface {
	CreateReview(ctx context.Context, event ReviewEvent) error
	UpdateReview(ctx context.Context, event ReviewEvent) error
	DeleteReview(ctx context.Context, event ReviewEvent) error
}

// Consumer drives the review queue. Deliveries are processed sequentially
// in arrival order; failures go through the retry queue and the DLQ after
// MaxRetries passes, and the original delivery is always acked.
type Consumer struct {
	ch      *amqp091.Channel
	handler Handler
}

type NewConsumerParams struct {
	Channel *amqp091.Channel
	Handler Handler
}

func NewConsumer(params NewConsumerParams) (*Consumer, error) {
	if params.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	if params.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	return &Consumer{ch: params.Channel, handler: params.Handler}, nil
}

// Run consumes until ctx is cancelled, then drains buffered deliveries for
// up to DrainTimeout.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.ch.Consume(
		QueueReviewTopic,
		ConsumerTag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	logger.Info("[Queue] Listening for review events", "queue", QueueReviewTopic)

	for {
		select {
		case <-ctx.Done():
			return c.drain(deliveries)
		case msg, ok := <-deliveries:
			if !ok {
				logger.Info("[Queue] Delivery channel closed")
				return nil
			}
			c.handle(msg)
		}
	}
}

func (c *Consumer) drain(deliveries <-chan amqp091.Delivery) error {
	if err := c.ch.Cancel(ConsumerTag, false); err != nil {
		logger.Warn("[Queue] Failed to cancel consumer", "err", err)
	}

	deadline := time.NewTimer(DrainTimeout)
	defer deadline.Stop()

	logger.Info("[Queue] Draining in-flight deliveries")
	for {
		select {
		case <-deadline.C:
			logger.Warn("[Queue] Drain timeout reached, remaining deliveries will be redelivered")
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(msg)
		}
	}
}

// handle runs one delivery under the handler timeout. The timeout context
// is detached from the run context so shutdown does not abort the handler
// mid-write.
func (c *Consumer) handle(msg amqp091.Delivery) {
	tag, _ := msg.Headers[HeaderTag].(string)

	var event ReviewEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logger.Warn("[Queue] Dropping malformed message", "tag", tag, "err", err)
		c.ack(msg)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch tag {
	case TagCreateReview:
		err = c.handler.CreateReview(ctx, event)
	case TagUpdateReview:
		err = c.handler.UpdateReview(ctx, event)
	case TagDeleteReview:
		err = c.handler.DeleteReview(ctx, event)
	default:
		logger.Warn("[Queue] Dropping message with unknown tag", "tag", tag)
		c.ack(msg)
		return
	}

	if err != nil {
		logger.Error("[Queue] Handler failed", "tag", tag, "document", event.ID, "err", err)
		c.handleProcessingError(msg)
		return
	}

	logger.Info("[Queue] Handled review event",
		"tag", tag, "document", event.ID, "target", event.TargetID, "duration", time.Since(start))
	c.ack(msg)
}

// handleProcessingError republishes the delivery to the retry queue with an
// incremented retry counter, or to the DLQ once MaxRetries is reached. The
// original delivery is acked either way.
func (c *Consumer) handleProcessingError(msg amqp091.Delivery) {
	retries := 0
	if val, ok := msg.Headers[HeaderRetries]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	if retries >= MaxRetries {
		dlqName := QueueReviewTopic + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
		pubErr := c.ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		c.ack(msg)
		return
	}

	headers := msg.Headers
	if headers == nil {
		headers = amqp091.Table{}
	}
	headers[HeaderRetries] = int32(retries + 1)

	retryName := QueueReviewTopic + "_retry"
	pubErr := c.ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	c.ack(msg)
}

func (c *Consumer) ack(msg amqp091.Delivery) {
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
