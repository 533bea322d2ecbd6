package domain

import (
	"time"

	"github.com/google/uuid"
)

// VideoStatus represents the state of an upload job
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// IsTerminal returns true if the upload has resolved
func (s VideoStatus) IsTerminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusFailed
}

// IsInFlight returns true while a transfer owns the video
func (s VideoStatus) IsInFlight() bool {
	return s == VideoStatusUploading || s == VideoStatusProcessing
}

// CanRetry returns true if a fresh upload may be started
func (s VideoStatus) CanRetry() bool {
	return s == VideoStatusFailed || s == VideoStatusPending
}

// CanPublish returns true if visibility may be changed on the platform
func (s VideoStatus) CanPublish() bool {
	return s == VideoStatusCompleted
}

// VideoType distinguishes shorts from long-form uploads
type VideoType string

const (
	VideoTypeShort VideoType = "short"
	VideoTypeLong  VideoType = "long"
)

// IsValid returns true if t is a known video type
func (t VideoType) IsValid() bool {
	return t == VideoTypeShort || t == VideoTypeLong
}

// Privacy statuses understood by the upload target
const (
	PrivacyPrivate  = "private"
	PrivacyUnlisted = "unlisted"
	PrivacyPublic   = "public"
)

// IsValidPrivacy returns true for a supported privacy status
func IsValidPrivacy(p string) bool {
	return p == PrivacyPrivate || p == PrivacyUnlisted || p == PrivacyPublic
}

// Video is one upload job plus its platform-side identity once uploaded
type Video struct {
	ID          uuid.UUID `json:"id" db:"id"`
	AccountID   uuid.UUID `json:"account_id" db:"account_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	FilePath    string    `json:"file_path" db:"file_path"`
	Type        VideoType `json:"video_type" db:"video_type"`
	Duration    *int      `json:"duration,omitempty" db:"duration"`

	Status         VideoStatus `json:"status" db:"status"`
	UploadProgress int         `json:"upload_progress" db:"upload_progress"`
	RemoteID       *string     `json:"remote_id,omitempty" db:"remote_id"`
	RemoteURL      *string     `json:"remote_url,omitempty" db:"remote_url"`
	ErrorMessage   *string     `json:"error_message,omitempty" db:"error_message"`

	// AttemptID identifies the current transfer
	AttemptID string `json:"-" db:"attempt_id"`

	Tags     Tags   `json:"tags" db:"tags"`
	Category string `json:"category" db:"category"`
	Privacy  string `json:"privacy_status" db:"privacy_status"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty" db:"uploaded_at"`
}

// VideoMetadata is the platform-facing description of a video
type VideoMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Category    string   `json:"category"`
	Privacy     string   `json:"privacy_status"`
}

// Metadata returns the stored platform metadata of v
func (v *Video) Metadata() VideoMetadata {
	return VideoMetadata{
		Title:       v.Title,
		Description: v.Description,
		Tags:        append([]string(nil), v.Tags...),
		Category:    v.Category,
		Privacy:     v.Privacy,
	}
}

// CreateVideoRequest holds the input of video record creation
type CreateVideoRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FilePath    string    `json:"file_path"`
	Type        VideoType `json:"video_type"`
	Duration    *int      `json:"duration,omitempty"`
	Tags        []string  `json:"tags"`
	Category    string    `json:"category"`
	Privacy     string    `json:"privacy_status"`
}

// UpdateVideoRequest carries a partial metadata update
type UpdateVideoRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Privacy     *string   `json:"privacy_status,omitempty"`
}

// VideoListParams contains parameters for listing videos
type VideoListParams struct {
	AccountID *uuid.UUID
	Status    *VideoStatus
	Limit     int
	Offset    int
}

// UploadStatus is the externally visible progress of a video
type UploadStatus struct {
	ID             uuid.UUID   `json:"id"`
	Status         VideoStatus `json:"status"`
	UploadProgress int         `json:"upload_progress"`
	RemoteID       *string     `json:"remote_id,omitempty"`
	RemoteURL      *string     `json:"remote_url,omitempty"`
	ErrorMessage   *string     `json:"error_message,omitempty"`
}

// UploadFile is one file of a bulk upload
type UploadFile struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}
