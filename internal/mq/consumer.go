package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const (
	headerRetryCount = "x-retry-count"

	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	maxRetries     = 3
)

// RabbitMQConsumer implements Consumer
type RabbitMQConsumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	consumerID string
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	URL        string
	Prefetch   int    // Number of messages to prefetch (default: 10)
	ConsumerID string // Unique consumer identifier
}

// NewConsumer creates a new RabbitMQ consumer of the notify queue
func NewConsumer(cfg ConsumerConfig) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel failed: %w", err)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos failed: %w", err)
	}

	if err := declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = fmt.Sprintf("relay-%d", time.Now().UnixNano())
	}

	return &RabbitMQConsumer{
		conn:       conn,
		channel:    ch,
		queue:      QueueNotify,
		consumerID: consumerID,
	}, nil
}

// Consume delivers events to handler until ctx is done. A failing handler
// gets the event again after an exponential backoff, up to maxRetries times.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler func(context.Context, *domain.Event) error) error {
	deliveries, err := c.channel.Consume(
		c.queue,
		c.consumerID,
		false, // auto-ack (we manually ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume from %s failed: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var e domain.Event
			if err := json.Unmarshal(d.Body, &e); err != nil {
				log.WithError(err).Warn("dropping malformed event")
				_ = d.Reject(false)
				continue
			}

			retries := retryCount(d.Headers)
			logger := log.WithFields(log.Fields{"event": e.Type, "retry": retries})

			if err := handler(ctx, &e); err != nil {
				logger.WithError(err).Warn("event handler failed")

				if retries >= maxRetries {
					logger.Error("event dropped after max retries")
					_ = d.Reject(false)
					continue
				}

				select {
				case <-ctx.Done():
					_ = d.Reject(false)
					return ctx.Err()
				case <-time.After(backoff(retries)):
				}

				// native requeue drops headers, so republish with the new count
				err := c.channel.PublishWithContext(ctx,
					"",      // default exchange
					c.queue, // routing key = queue name
					false,   // mandatory
					false,   // immediate
					amqp.Publishing{
						ContentType:  "application/json",
						DeliveryMode: amqp.Persistent,
						Headers:      amqp.Table{headerRetryCount: int64(retries + 1)},
						Body:         d.Body,
					},
				)
				if err != nil {
					logger.WithError(err).Error("failed to republish event")
					_ = d.Reject(false)
				} else {
					_ = d.Ack(false)
				}
				continue
			}

			if err := d.Ack(false); err != nil {
				logger.WithError(err).Warn("ack failed")
			}
		}
	}
}

// Close closes the consumer connection
func (c *RabbitMQConsumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[headerRetryCount].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	return 0
}

func backoff(retries int) time.Duration {
	d := initialBackoff * time.Duration(1<<uint(retries))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
