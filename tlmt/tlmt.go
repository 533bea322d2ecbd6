// Package tlmt sends product analytics events.
package tlmt

import "context"

// Event is one analytics event
type Event struct {
	Name       string
	DistinctID string
	Properties map[string]any
}

// NewEvent creates an event
func NewEvent(name, distinctID string, props map[string]any) Event {
	return Event{Name: name, DistinctID: distinctID, Properties: props}
}

// Telemetry is an analytics client
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}
