package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus represents the lifecycle state of a managed account
type AccountStatus string

const (
	AccountStatusPendingVerification AccountStatus = "pending_verification"
	AccountStatusActive              AccountStatus = "active"
	AccountStatusWarmingUp           AccountStatus = "warming_up"
	AccountStatusSuspended           AccountStatus = "suspended"
	AccountStatusBanned              AccountStatus = "banned"
)

// IsValid returns true if s is a known status
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusPendingVerification, AccountStatusActive, AccountStatusWarmingUp,
		AccountStatusSuspended, AccountStatusBanned:
		return true
	}
	return false
}

// IsTerminal returns true for the externally imposed states. Only a new
// external signal moves an account out of them.
func (s AccountStatus) IsTerminal() bool {
	return s == AccountStatusSuspended || s == AccountStatusBanned
}

// CanVerify returns true if the account can be (re)verified
func (s AccountStatus) CanVerify() bool {
	return s == AccountStatusPendingVerification || s == AccountStatusActive
}

// CanStartWarming returns true if a warm-up run may begin
func (s AccountStatus) CanStartWarming() bool {
	return s == AccountStatusPendingVerification || s == AccountStatusActive
}

// CanUpload returns true if the account may be used as an upload identity
func (s AccountStatus) CanUpload() bool {
	return s == AccountStatusActive || s == AccountStatusWarmingUp
}

// Warm-up progress bounds
const (
	WarmingProgressMin  = 0
	WarmingProgressMax  = 100
	WarmingProgressStep = 10
)

// Account represents one managed email/video-platform identity
type Account struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Email         string        `json:"email" db:"email"`
	Password      string        `json:"-" db:"password"`
	RecoveryEmail *string       `json:"recovery_email,omitempty" db:"recovery_email"`
	PhoneNumber   *string       `json:"phone_number,omitempty" db:"phone_number"`
	Status        AccountStatus `json:"status" db:"status"`

	IsVerified      bool `json:"is_verified" db:"is_verified"`
	IsWarmedUp      bool `json:"is_warmed_up" db:"is_warmed_up"`
	WarmingProgress int  `json:"warming_progress" db:"warming_progress"`

	// AttemptID identifies the current warm-up run
	AttemptID string `json:"-" db:"attempt_id"`

	Country *string `json:"country,omitempty" db:"country"`
	ProxyID *int64  `json:"proxy_id,omitempty" db:"proxy_id"`

	// UploadToken is the sealed OAuth refresh token for the upload target
	UploadToken *string `json:"-" db:"upload_token"`

	TotalUploads int        `json:"total_uploads" db:"total_uploads"`
	TotalViews   int64      `json:"total_views" db:"total_views"`
	LastActivity *time.Time `json:"last_activity,omitempty" db:"last_activity"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasUploadCredentials returns true if an upload token is stored
func (a *Account) HasUploadCredentials() bool {
	return a.UploadToken != nil && *a.UploadToken != ""
}

// CreateAccountRequest holds the input of account creation
type CreateAccountRequest struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	RecoveryEmail *string `json:"recovery_email,omitempty"`
	Country       *string `json:"country,omitempty"`
	ProxyID       *int64  `json:"proxy_id,omitempty"`
	UploadToken   *string `json:"upload_token,omitempty"`
}

// UpdateAccountRequest carries a partial update. Nil fields are left unchanged.
// Status is not part of it: it moves only through the lifecycle operations.
type UpdateAccountRequest struct {
	RecoveryEmail *string        `json:"recovery_email,omitempty"`
	PhoneNumber   *string        `json:"phone_number,omitempty"`
	Country       *string        `json:"country,omitempty"`
	ProxyID       *int64         `json:"proxy_id,omitempty"`
	UploadToken   *string        `json:"upload_token,omitempty"`
	TotalViews    *int64         `json:"total_views,omitempty"`
}

// IsEmpty returns true when no field is supplied
func (r *UpdateAccountRequest) IsEmpty() bool {
	return r.RecoveryEmail == nil && r.PhoneNumber == nil && r.Country == nil &&
		r.ProxyID == nil && r.UploadToken == nil && r.TotalViews == nil
}

// AccountListParams contains parameters for listing accounts
type AccountListParams struct {
	Status  *AccountStatus
	Country *string
	Limit   int
	Offset  int
}

// AccountStats aggregates account counters
type AccountStats struct {
	Total        int                   `json:"total"`
	ByStatus     map[AccountStatus]int `json:"by_status"`
	WarmedUp     int                   `json:"warmed_up"`
	TotalUploads int                   `json:"total_uploads"`
	TotalViews   int64                 `json:"total_views"`
}

// BulkResultStatus is the per-item outcome of a batch operation
type BulkResultStatus string

const (
	BulkResultSuccess BulkResultStatus = "success"
	BulkResultError   BulkResultStatus = "error"
)

// BulkResult reports one item of a bulk import or bulk upload
type BulkResult struct {
	Index  int              `json:"index"`
	ID     *uuid.UUID       `json:"id,omitempty"`
	Email  string           `json:"email,omitempty"`
	File   string           `json:"file,omitempty"`
	Status BulkResultStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
	Kind   ErrorKind        `json:"kind,omitempty"`
}
