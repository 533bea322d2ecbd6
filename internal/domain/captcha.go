package domain

import (
	"time"

	"github.com/google/uuid"
)

// CaptchaKind identifies the challenge type
type CaptchaKind string

const (
	CaptchaImage       CaptchaKind = "image"
	CaptchaRecaptchaV2 CaptchaKind = "recaptcha_v2"
	CaptchaRecaptchaV3 CaptchaKind = "recaptcha_v3"
	CaptchaHCaptcha    CaptchaKind = "hcaptcha"
)

// IsValid returns true if k is a supported captcha kind
func (k CaptchaKind) IsValid() bool {
	switch k {
	case CaptchaImage, CaptchaRecaptchaV2, CaptchaRecaptchaV3, CaptchaHCaptcha:
		return true
	}
	return false
}

// CaptchaStatus is the state of a captcha task
type CaptchaStatus string

const (
	CaptchaStatusPending CaptchaStatus = "pending"
	CaptchaStatusSolved  CaptchaStatus = "solved"
	CaptchaStatusFailed  CaptchaStatus = "failed"
)

// IsTerminal returns true once the task has resolved
func (s CaptchaStatus) IsTerminal() bool {
	return s == CaptchaStatusSolved || s == CaptchaStatusFailed
}

// CaptchaPayload is the challenge handed to a backend
type CaptchaPayload struct {
	Kind     CaptchaKind `json:"kind"`
	Image    string      `json:"image,omitempty"` // base64 encoded
	SiteKey  string      `json:"site_key,omitempty"`
	PageURL  string      `json:"page_url,omitempty"`
	Action   string      `json:"action,omitempty"`
	MinScore float64     `json:"min_score,omitempty"`
}

// CaptchaTask is one outstanding request to a captcha backend
type CaptchaTask struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Backend      string        `json:"backend" db:"backend"`
	RemoteTaskID *string       `json:"remote_task_id,omitempty" db:"remote_task_id"`
	Kind         CaptchaKind   `json:"kind" db:"kind"`
	Payload      *string       `json:"-" db:"payload"`
	Solution     *string       `json:"solution,omitempty" db:"solution"`
	Status       CaptchaStatus `json:"status" db:"status"`
	Cost         *float64      `json:"cost,omitempty" db:"cost"`
	ErrorMessage *string       `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	SolvedAt     *time.Time    `json:"solved_at,omitempty" db:"solved_at"`
}
