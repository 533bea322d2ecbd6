package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const captchaColumns = `id, backend, remote_task_id, kind, payload, solution, status,
	cost, error_message, created_at, solved_at`

// CaptchaTaskRepository implements domain.CaptchaTaskRepository
type CaptchaTaskRepository struct {
	db *sqlx.DB
}

// NewCaptchaTaskRepository creates a new CaptchaTaskRepository
func NewCaptchaTaskRepository(db *sqlx.DB) *CaptchaTaskRepository {
	return &CaptchaTaskRepository{db: db}
}

func (r *CaptchaTaskRepository) Create(ctx context.Context, t *domain.CaptchaTask) error {
	query := `INSERT INTO captcha_tasks (` + captchaColumns + `) VALUES (
		:id, :backend, :remote_task_id, :kind, :payload, :solution, :status,
		:cost, :error_message, :created_at, :solved_at)`
	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("failed to create captcha task: %w", err)
	}
	return nil
}

func (r *CaptchaTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.CaptchaTask, error) {
	var t domain.CaptchaTask
	err := r.db.GetContext(ctx, &t, r.db.Rebind(`SELECT `+captchaColumns+` FROM captcha_tasks WHERE id = ?`), id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get captcha task: %w", err)
	}
	return &t, nil
}

func (r *CaptchaTaskRepository) Update(ctx context.Context, t *domain.CaptchaTask) error {
	query := `UPDATE captcha_tasks SET
		remote_task_id = :remote_task_id,
		solution = :solution,
		status = :status,
		cost = :cost,
		error_message = :error_message,
		solved_at = :solved_at
		WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("failed to update captcha task: %w", err)
	}
	return nil
}

func (r *CaptchaTaskRepository) List(ctx context.Context, limit, offset int) ([]*domain.CaptchaTask, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM captcha_tasks`); err != nil {
		return nil, 0, fmt.Errorf("failed to count captcha tasks: %w", err)
	}

	limit, offset = page(limit, offset)
	tasks := []*domain.CaptchaTask{}
	query := `SELECT ` + captchaColumns + ` FROM captcha_tasks ORDER BY created_at DESC LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &tasks, r.db.Rebind(query), limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list captcha tasks: %w", err)
	}
	return tasks, total, nil
}
