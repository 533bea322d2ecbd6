package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const videoColumns = `id, account_id, title, description, file_path, video_type, duration,
	status, upload_progress, attempt_id, remote_id, remote_url, error_message,
	tags, category, privacy_status, created_at, updated_at, uploaded_at`

// VideoRepository implements domain.VideoRepository
type VideoRepository struct {
	db *sqlx.DB
}

// NewVideoRepository creates a new VideoRepository
func NewVideoRepository(db *sqlx.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Create inserts a new video
func (r *VideoRepository) Create(ctx context.Context, v *domain.Video) error {
	query := `INSERT INTO videos (` + videoColumns + `) VALUES (
		:id, :account_id, :title, :description, :file_path, :video_type, :duration,
		:status, :upload_progress, :attempt_id, :remote_id, :remote_url, :error_message,
		:tags, :category, :privacy_status, :created_at, :updated_at, :uploaded_at)`

	if _, err := r.db.NamedExecContext(ctx, query, v); err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID
func (r *VideoRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	var v domain.Video
	err := r.db.GetContext(ctx, &v, r.db.Rebind(`SELECT `+videoColumns+` FROM videos WHERE id = ?`), id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &v, nil
}

// List retrieves videos filtered by account and status
func (r *VideoRepository) List(ctx context.Context, params domain.VideoListParams) ([]*domain.Video, int, error) {
	var conds []string
	var args []any

	if params.AccountID != nil {
		conds = append(conds, "account_id = ?")
		args = append(args, *params.AccountID)
	}
	if params.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *params.Status)
	}
	where := whereClause(conds)

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM videos`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count videos: %w", err)
	}

	limit, offset := page(params.Limit, params.Offset)
	query := `SELECT ` + videoColumns + ` FROM videos` + where +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	videos := []*domain.Video{}
	if err := r.db.SelectContext(ctx, &videos, r.db.Rebind(query), append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list videos: %w", err)
	}
	return videos, total, nil
}

// Update writes every mutable column of the video
func (r *VideoRepository) Update(ctx context.Context, v *domain.Video) error {
	query := `UPDATE videos SET
		title = :title,
		description = :description,
		file_path = :file_path,
		video_type = :video_type,
		duration = :duration,
		status = :status,
		upload_progress = :upload_progress,
		attempt_id = :attempt_id,
		remote_id = :remote_id,
		remote_url = :remote_url,
		error_message = :error_message,
		tags = :tags,
		category = :category,
		privacy_status = :privacy_status,
		updated_at = :updated_at,
		uploaded_at = :uploaded_at
		WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, v)
	if err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("video %s not found", v.ID)
	}
	return nil
}

// UpdateProgress raises upload_progress to progress while attempt is the
// current transfer. Lower values and other attempts are ignored.
func (r *VideoRepository) UpdateProgress(ctx context.Context, id uuid.UUID, attempt string, progress int) (int, error) {
	query := `UPDATE videos SET upload_progress = ?, updated_at = ?
		WHERE id = ? AND attempt_id = ? AND upload_progress < ?`
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), progress, time.Now().UTC(), id, attempt, progress); err != nil {
		return 0, fmt.Errorf("failed to update progress: %w", err)
	}

	var stored int
	if err := r.db.GetContext(ctx, &stored, r.db.Rebind(`SELECT upload_progress FROM videos WHERE id = ?`), id); err != nil {
		if isNoRows(err) {
			return 0, domain.NotFoundf("video %s not found", id)
		}
		return 0, fmt.Errorf("failed to read progress: %w", err)
	}
	return stored, nil
}

// Delete removes a video
func (r *VideoRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM videos WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// ListStale returns uploading or processing videos untouched since before
func (r *VideoRepository) ListStale(ctx context.Context, before time.Time) ([]*domain.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos
		WHERE status IN (?, ?) AND updated_at < ? ORDER BY updated_at`

	videos := []*domain.Video{}
	err := r.db.SelectContext(ctx, &videos, r.db.Rebind(query),
		domain.VideoStatusUploading, domain.VideoStatusProcessing, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale videos: %w", err)
	}
	return videos, nil
}
