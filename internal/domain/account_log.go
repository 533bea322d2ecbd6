package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogAction tags one account lifecycle transition
type LogAction string

const (
	ActionAccountCreated   LogAction = "ACCOUNT_CREATED"
	ActionAccountUpdated   LogAction = "ACCOUNT_UPDATED"
	ActionAccountDeleted   LogAction = "ACCOUNT_DELETED"
	ActionAccountVerified  LogAction = "ACCOUNT_VERIFIED"
	ActionWarmingStarted   LogAction = "WARMING_STARTED"
	ActionWarmingCompleted LogAction = "WARMING_COMPLETED"
	ActionWarmingFailed    LogAction = "WARMING_FAILED"
	ActionPasswordChanged  LogAction = "PASSWORD_CHANGED"
	ActionStatusChanged    LogAction = "STATUS_CHANGED"
	ActionVideoUploaded    LogAction = "VIDEO_UPLOADED"
)

// LogLevel is the severity of an account log entry
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// AccountLog is one append-only audit entry. It references the account and
// outlives it.
type AccountLog struct {
	ID        int64     `json:"id" db:"id"`
	AccountID uuid.UUID `json:"account_id" db:"account_id"`
	Action    LogAction `json:"action" db:"action"`
	Message   string    `json:"message" db:"message"`
	Level     LogLevel  `json:"level" db:"level"`
	Metadata  Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
