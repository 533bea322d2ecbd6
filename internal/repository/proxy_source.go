package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// ProxySourceRepository implements domain.ProxySourceRepository
type ProxySourceRepository struct {
	db *sqlx.DB
}

// NewProxySourceRepository creates a new ProxySourceRepository
func NewProxySourceRepository(db *sqlx.DB) *ProxySourceRepository {
	return &ProxySourceRepository{db: db}
}

func (r *ProxySourceRepository) Create(ctx context.Context, s *domain.ProxySource) error {
	query := `INSERT INTO proxy_sources (url, proxy_type, country, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query), s.URL, s.Type, s.Country, s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create proxy source: %w", err)
	}
	return nil
}

func (r *ProxySourceRepository) List(ctx context.Context) ([]*domain.ProxySource, error) {
	sources := []*domain.ProxySource{}
	query := `SELECT id, url, proxy_type, country, created_at, updated_at FROM proxy_sources ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list proxy sources: %w", err)
	}
	return sources, nil
}

func (r *ProxySourceRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM proxy_sources WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete proxy source: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
