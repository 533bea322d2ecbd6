package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for account persistence
type AccountRepository interface {
	// Create persists a new account. Returns ErrDuplicateAccount when the
	// email is already present.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID, nil when missing
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByEmail retrieves an account by email, nil when missing
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// List retrieves accounts with optional filtering
	List(ctx context.Context, params AccountListParams) ([]*Account, int, error)

	// Update writes every mutable column of the account
	Update(ctx context.Context, account *Account) error

	// Delete hard-deletes an account. Returns false if nothing was deleted.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// IncrementUploads bumps the upload counter and last activity
	IncrementUploads(ctx context.Context, id uuid.UUID, at time.Time) error

	// GetStats retrieves account statistics
	GetStats(ctx context.Context) (*AccountStats, error)
}

// AccountLogRepository is the append-only audit trail
type AccountLogRepository interface {
	// Append adds one entry
	Append(ctx context.Context, entry *AccountLog) error

	// ListByAccount returns entries newest first
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*AccountLog, int, error)
}

// VideoRepository defines the interface for video persistence
type VideoRepository interface {
	Create(ctx context.Context, video *Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*Video, error)
	List(ctx context.Context, params VideoListParams) ([]*Video, int, error)
	Update(ctx context.Context, video *Video) error

	// UpdateProgress stores progress for the given attempt only if it does
	// not go backwards. Returns the stored value.
	UpdateProgress(ctx context.Context, id uuid.UUID, attempt string, progress int) (int, error)

	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// ListStale returns in-flight videos not updated since before
	ListStale(ctx context.Context, before time.Time) ([]*Video, error)
}

// ProxyRepository defines the interface for proxy persistence
type ProxyRepository interface {
	// Upsert inserts a proxy or refreshes the row with the same host and port
	Upsert(ctx context.Context, proxy *Proxy) error
	GetByID(ctx context.Context, id int64) (*Proxy, error)
	List(ctx context.Context, params ProxyListParams) ([]*Proxy, error)
	Delete(ctx context.Context, id int64) (bool, error)

	// UpdateHealth records the outcome of a health check
	UpdateHealth(ctx context.Context, id int64, health ProxyHealth) error

	GetStats(ctx context.Context) (*ProxyStats, error)
}

// ProxySourceRepository stores proxy list URLs
type ProxySourceRepository interface {
	Create(ctx context.Context, source *ProxySource) error
	List(ctx context.Context) ([]*ProxySource, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// CaptchaTaskRepository defines the interface for captcha task persistence
type CaptchaTaskRepository interface {
	Create(ctx context.Context, task *CaptchaTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*CaptchaTask, error)
	Update(ctx context.Context, task *CaptchaTask) error
	List(ctx context.Context, limit, offset int) ([]*CaptchaTask, int, error)
}
