package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const proxyColumns = `id, host, port, username, password, proxy_type, country,
	is_active, is_working, last_checked, response_time, created_at`

// ProxyRepository implements domain.ProxyRepository
type ProxyRepository struct {
	db *sqlx.DB
}

// NewProxyRepository creates a new ProxyRepository
func NewProxyRepository(db *sqlx.DB) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// Upsert inserts the proxy or refreshes the existing (host, port) row, then
// reloads p from the stored row.
func (r *ProxyRepository) Upsert(ctx context.Context, p *domain.Proxy) error {
	query := `INSERT INTO proxies (host, port, username, password, proxy_type, country, is_active, is_working, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (host, port) DO UPDATE SET
			username = excluded.username,
			password = excluded.password,
			proxy_type = excluded.proxy_type,
			country = COALESCE(excluded.country, proxies.country),
			is_active = excluded.is_active
		RETURNING id`

	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query),
		p.Host, p.Port, p.Username, p.Password, p.Type, p.Country, p.IsActive, p.IsWorking, p.CreatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert proxy: %w", err)
	}

	if err := r.db.GetContext(ctx, p, r.db.Rebind(`SELECT `+proxyColumns+` FROM proxies WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to reload proxy: %w", err)
	}
	return nil
}

// GetByID retrieves a proxy by ID
func (r *ProxyRepository) GetByID(ctx context.Context, id int64) (*domain.Proxy, error) {
	var p domain.Proxy
	if err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT `+proxyColumns+` FROM proxies WHERE id = ?`), id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get proxy: %w", err)
	}
	return &p, nil
}

// List retrieves proxies ordered by id
func (r *ProxyRepository) List(ctx context.Context, params domain.ProxyListParams) ([]*domain.Proxy, error) {
	var conds []string
	var args []any

	if params.Country != nil {
		conds = append(conds, "country = ?")
		args = append(args, *params.Country)
	}
	if params.ActiveOnly {
		conds = append(conds, "is_active = ?")
		args = append(args, true)
	}
	if params.WorkingOnly {
		conds = append(conds, "is_working = ?")
		args = append(args, true)
	}

	query := `SELECT ` + proxyColumns + ` FROM proxies` + whereClause(conds) + ` ORDER BY id`
	if params.Limit > 0 {
		limit, offset := page(params.Limit, params.Offset)
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	proxies := []*domain.Proxy{}
	if err := r.db.SelectContext(ctx, &proxies, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}
	return proxies, nil
}

// Delete removes a proxy
func (r *ProxyRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM proxies WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete proxy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// UpdateHealth records the outcome of a health check
func (r *ProxyRepository) UpdateHealth(ctx context.Context, id int64, h domain.ProxyHealth) error {
	query := `UPDATE proxies SET is_working = ?, response_time = ?, last_checked = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), h.Working, h.ResponseTime, h.CheckedAt, id); err != nil {
		return fmt.Errorf("failed to update proxy health: %w", err)
	}
	return nil
}

// GetStats retrieves proxy statistics
func (r *ProxyRepository) GetStats(ctx context.Context) (*domain.ProxyStats, error) {
	query := `SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS active,
		COALESCE(SUM(CASE WHEN is_working THEN 1 ELSE 0 END), 0) AS working,
		AVG(CASE WHEN is_working THEN response_time END) AS avg_response_time
		FROM proxies`

	stats := &domain.ProxyStats{}
	row := r.db.QueryRowxContext(ctx, query)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.Working, &stats.AvgResponseTime); err != nil {
		return nil, fmt.Errorf("failed to get proxy stats: %w", err)
	}
	return stats, nil
}
