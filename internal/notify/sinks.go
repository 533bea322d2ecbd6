package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/mq"
	"github.com/sadewadee/mystic-shorts/tlmt"
)

// Bus publishes events to RabbitMQ for out-of-process consumers
type Bus struct {
	publisher mq.Publisher
}

// NewBus creates a RabbitMQ sink
func NewBus(p mq.Publisher) *Bus {
	return &Bus{publisher: p}
}

func (b *Bus) Name() string { return "amqp" }

func (b *Bus) Send(ctx context.Context, e domain.Event) error {
	return b.publisher.Publish(ctx, e)
}

// Analytics forwards events to product analytics
type Analytics struct {
	telemetry tlmt.Telemetry
}

// NewAnalytics creates an analytics sink
func NewAnalytics(t tlmt.Telemetry) *Analytics {
	return &Analytics{telemetry: t}
}

func (a *Analytics) Name() string { return "analytics" }

func (a *Analytics) Send(ctx context.Context, e domain.Event) error {
	props := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		props[k] = v
	}
	if e.VideoID != nil {
		props["video_id"] = e.VideoID.String()
	}

	distinct := ""
	if e.AccountID != nil {
		distinct = e.AccountID.String()
		props["account_id"] = distinct
	}

	return a.telemetry.Send(ctx, tlmt.NewEvent(string(e.Type), distinct, props))
}

// Log writes events to the structured log
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Send(_ context.Context, e domain.Event) error {
	entry := logger(e)
	switch e.Type {
	case domain.EventAccountWarmingFailed, domain.EventVideoUploadFailed, domain.EventCaptchaFailed:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
	return nil
}

func logger(e domain.Event) *log.Entry {
	fields := log.Fields{"event": e.Type}
	if e.AccountID != nil {
		fields["account_id"] = e.AccountID.String()
	}
	if e.VideoID != nil {
		fields["video_id"] = e.VideoID.String()
	}
	for k, v := range e.Fields {
		fields[k] = v
	}
	return log.WithFields(fields)
}
