package goposthog

import (
	"context"
	"fmt"

	"github.com/posthog/posthog-go"

	"github.com/sadewadee/mystic-shorts/tlmt"
)

type service struct {
	client posthog.Client
}

// New creates a PostHog backed Telemetry. Events are batched by the client
// and flushed on Close.
func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("posthog api key is empty")
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}

	return &service{client: client}, nil
}

func (s *service) Send(_ context.Context, event tlmt.Event) error {
	props := posthog.NewProperties()
	for k, v := range event.Properties {
		props.Set(k, v)
	}

	distinctID := event.DistinctID
	if distinctID == "" {
		distinctID = "mystic-shorts"
	}

	return s.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event.Name,
		Properties: props,
	})
}

func (s *service) Close() error {
	return s.client.Close()
}
