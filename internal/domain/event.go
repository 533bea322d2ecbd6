package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType is a semantic event relayed to the notification boundary
type EventType string

const (
	EventAccountCreated          EventType = "account.created"
	EventAccountVerified         EventType = "account.verified"
	EventAccountWarmingStarted   EventType = "account.warming_started"
	EventAccountWarmingCompleted EventType = "account.warming_completed"
	EventAccountWarmingFailed    EventType = "account.warming_failed"
	EventAccountPasswordChanged  EventType = "account.password_changed"
	EventAccountDeleted          EventType = "account.deleted"
	EventAccountStatusChanged    EventType = "account.status_changed"
	EventVideoUploadStarted      EventType = "video.upload_started"
	EventVideoUploadCompleted    EventType = "video.upload_completed"
	EventVideoUploadFailed       EventType = "video.upload_failed"
	EventVideoPublished          EventType = "video.published"
	EventCaptchaSolved           EventType = "captcha.solved"
	EventCaptchaFailed           EventType = "captcha.failed"
	EventProxyHealthChecked      EventType = "proxy.health_checked"
)

// Notifier receives semantic events. Implementations must not block the
// caller on delivery and never report delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// Event is one notification handed to the emitter
type Event struct {
	Type       EventType      `json:"type"`
	AccountID  *uuid.UUID     `json:"account_id,omitempty"`
	VideoID    *uuid.UUID     `json:"video_id,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Message    string         `json:"message,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(t EventType, subject, message string) Event {
	return Event{Type: t, Subject: subject, Message: message, OccurredAt: time.Now().UTC()}
}

// WithAccount sets the account reference
func (e Event) WithAccount(id uuid.UUID) Event {
	e.AccountID = &id
	return e
}

// WithVideo sets the video reference
func (e Event) WithVideo(id uuid.UUID) Event {
	e.VideoID = &id
	return e
}

// WithField adds a structured field
func (e Event) WithField(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}
