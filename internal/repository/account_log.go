package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// AccountLogRepository implements domain.AccountLogRepository
type AccountLogRepository struct {
	db *sqlx.DB
}

// NewAccountLogRepository creates a new AccountLogRepository
func NewAccountLogRepository(db *sqlx.DB) *AccountLogRepository {
	return &AccountLogRepository{db: db}
}

// Append adds an audit entry and sets its ID
func (r *AccountLogRepository) Append(ctx context.Context, e *domain.AccountLog) error {
	query := `INSERT INTO account_logs (account_id, action, message, level, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`

	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query),
		e.AccountID, e.Action, e.Message, e.Level, e.Metadata, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to append account log: %w", err)
	}
	return nil
}

// ListByAccount returns the entries of one account, newest first
func (r *AccountLogRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.AccountLog, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM account_logs WHERE account_id = ?`), accountID); err != nil {
		return nil, 0, fmt.Errorf("failed to count account logs: %w", err)
	}

	limit, offset = page(limit, offset)
	query := `SELECT id, account_id, action, message, level, metadata, created_at
		FROM account_logs WHERE account_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	entries := []*domain.AccountLog{}
	if err := r.db.SelectContext(ctx, &entries, r.db.Rebind(query), accountID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list account logs: %w", err)
	}
	return entries, total, nil
}
