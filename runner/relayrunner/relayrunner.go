// Package relayrunner forwards semantic events published on RabbitMQ to the
// Telegram chat, so producers never wait on the Bot API.
package relayrunner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/mq"
	"github.com/sadewadee/mystic-shorts/internal/notify"
	"github.com/sadewadee/mystic-shorts/runner"
)

const deliveryTimeout = 15 * time.Second

type relay struct {
	consumer *mq.RabbitMQConsumer
	sinks    []notify.Sink
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeRelay {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	consumerID := cfg.RelayConsumer
	if consumerID == "" {
		hostname, _ := os.Hostname()
		consumerID = fmt.Sprintf("relay-%s-%s", hostname, uuid.New().String()[:8])
	}

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		URL:        cfg.RabbitMQURL,
		ConsumerID: consumerID,
	})
	if err != nil {
		return nil, err
	}

	return &relay{
		consumer: consumer,
		sinks:    []notify.Sink{notify.Log{}, runner.TelegramSink(cfg)},
	}, nil
}

func (r *relay) Run(ctx context.Context) error {
	log.Info("relay started")

	return r.consumer.Consume(ctx, r.handle)
}

// handle returns the delivery error so the consumer retries the event
func (r *relay) handle(ctx context.Context, e *domain.Event) error {
	return notify.Deliver(ctx, deliveryTimeout, *e, r.sinks...)
}

func (r *relay) Close(context.Context) error {
	return r.consumer.Close()
}
