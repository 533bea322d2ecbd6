// Package queue dispatches long-running work off the request path. Tasks
// carry only the entity id; the handler re-reads state from the store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// Task types
	TypeAccountWarmup    = "account:warmup"
	TypeVideoUpload      = "video:upload"
	TypeCaptchaSolve     = "captcha:solve"
	TypeProxyHealthCheck = "proxy:healthcheck"

	// Queue names
	QueueDefault  = "default"
	QueueHigh     = "high"
	QueueLow      = "low"
	QueueCritical = "critical"
)

var (
	// ErrClosed is returned by Dispatch after shutdown has begun
	ErrClosed = errors.New("dispatcher closed")

	// ErrAlreadyRunning is returned when the same entity already has a task
	// of that type in flight
	ErrAlreadyRunning = errors.New("task already running for entity")

	// ErrUnknownTask is returned for a task type without a handler
	ErrUnknownTask = errors.New("unknown task type")
)

// Payload is the payload of every task
type Payload struct {
	EntityID string `json:"entity_id"`
	// Attempt ties the task to one run of the entity. Handlers drop work
	// whose attempt is no longer current.
	Attempt   string    `json:"attempt,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Handler processes one task
type Handler func(ctx context.Context, payload *Payload) error

// Registrar binds handlers to task types
type Registrar interface {
	Handle(taskType string, h Handler)
}

// Dispatcher schedules detached background work
type Dispatcher interface {
	// Dispatch schedules taskType for payload.EntityID and returns without
	// waiting
	Dispatch(ctx context.Context, taskType string, payload *Payload) error

	// Cancel stops the in-flight task of taskType for entityID. Returns false
	// if none was known.
	Cancel(ctx context.Context, taskType, entityID string) bool

	Close() error
}

// taskSpec holds per-type scheduling options
type taskSpec struct {
	queue   string
	timeout time.Duration
}

var taskSpecs = map[string]taskSpec{
	TypeAccountWarmup:    {queue: QueueDefault, timeout: 30 * time.Minute},
	TypeVideoUpload:      {queue: QueueHigh, timeout: 2 * time.Hour},
	TypeCaptchaSolve:     {queue: QueueCritical, timeout: 10 * time.Minute},
	TypeProxyHealthCheck: {queue: QueueLow, timeout: 10 * time.Minute},
}

func specFor(taskType string) taskSpec {
	if s, ok := taskSpecs[taskType]; ok {
		return s
	}
	return taskSpec{queue: QueueDefault, timeout: 30 * time.Minute}
}

func taskKey(taskType, entityID string) string {
	return taskType + ":" + entityID
}

// NewPayload creates a payload for entityID
func NewPayload(entityID string) *Payload {
	return &Payload{EntityID: entityID, CreatedAt: time.Now().UTC()}
}

// WithAttempt sets the attempt the task belongs to
func (p *Payload) WithAttempt(attempt string) *Payload {
	p.Attempt = attempt
	return p
}

// ParsePayload parses a task payload from task data
func ParsePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.EntityID == "" {
		return nil, fmt.Errorf("payload has no entity id")
	}
	return &payload, nil
}
