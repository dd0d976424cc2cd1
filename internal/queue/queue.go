package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/logger"
)

const (
	// QueueReviewTopic carries review lifecycle events.
	QueueReviewTopic = "review_topic"
	// ConsumerTag identifies the review consumer on the broker.
	ConsumerTag = "review_summary_consumer"

	// HeaderTag discriminates the event type of a delivery.
	HeaderTag = "Tag"
	// HeaderRetries counts how often a delivery went through the retry queue.
	HeaderRetries = "x-retries"

	// RetryDelayMs is how long a failed message parks in the retry queue
	// before being dead-lettered back to the work queue.
	RetryDelayMs = 10000
	// MaxRetries is the number of retry passes before a message goes to
	// the DLQ.
	MaxRetries = 10
)

// Event tags.
const (
	TagCreateReview = "CreateReview"
	TagUpdateReview = "UpdateReview"
	TagDeleteReview = "DeleteReview"
)

// ReviewEvent is the broker wire format. Field names are PascalCase on the
// wire by contract with the publishers.
type ReviewEvent struct {
	ID       string `json:"ID"`
	Text     string `json:"Text"`
	TargetID string `json:"TargetID"`
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares the work queue plus its retry and dead-letter
// siblings. The retry queue has no consumer; expired messages dead-letter
// back to the work queue.
func SetupQueues(ch *amqp091.Channel) error {
	_, err := ch.QueueDeclare(
		QueueReviewTopic,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", QueueReviewTopic, err)
	}

	dlqName := QueueReviewTopic + "_dlq"
	_, err = ch.QueueDeclare(dlqName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", dlqName, err)
	}

	retryName := QueueReviewTopic + "_retry"
	_, err = ch.QueueDeclare(
		retryName,
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-message-ttl":             int32(RetryDelayMs),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": QueueReviewTopic,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", retryName, err)
	}

	return nil
}

// PublishReviewEvent puts an event on the review queue with its tag header.
func PublishReviewEvent(ch *amqp091.Channel, tag string, event ReviewEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ch.Publish(
		"",
		QueueReviewTopic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Headers:      amqp091.Table{HeaderTag: tag},
		},
	)
}
