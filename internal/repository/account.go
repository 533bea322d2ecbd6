package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const accountColumns = `id, email, password, recovery_email, phone_number, status,
	is_verified, is_warmed_up, warming_progress, attempt_id, country, proxy_id, upload_token,
	total_uploads, total_views, last_activity, created_at, updated_at`

// AccountRepository implements domain.AccountRepository
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `) VALUES (
		:id, :email, :password, :recovery_email, :phone_number, :status,
		:is_verified, :is_warmed_up, :warming_progress, :attempt_id, :country, :proxy_id, :upload_token,
		:total_uploads, :total_views, :last_activity, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.KindDuplicateAccount,
				fmt.Sprintf("account with email %s already exists", a.Email), err)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// GetByEmail retrieves an account by email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
}

func (r *AccountRepository) getOne(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.GetContext(ctx, &a, r.db.Rebind(query), arg); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// List retrieves accounts filtered by status and country
func (r *AccountRepository) List(ctx context.Context, params domain.AccountListParams) ([]*domain.Account, int, error) {
	var conds []string
	var args []any

	if params.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *params.Status)
	}
	if params.Country != nil {
		conds = append(conds, "country = ?")
		args = append(args, *params.Country)
	}
	where := whereClause(conds)

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM accounts`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	limit, offset := page(params.Limit, params.Offset)
	query := `SELECT ` + accountColumns + ` FROM accounts` + where +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	accounts := []*domain.Account{}
	if err := r.db.SelectContext(ctx, &accounts, r.db.Rebind(query), append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	return accounts, total, nil
}

// Update writes every mutable column of the account
func (r *AccountRepository) Update(ctx context.Context, a *domain.Account) error {
	query := `UPDATE accounts SET
		password = :password,
		recovery_email = :recovery_email,
		phone_number = :phone_number,
		status = :status,
		is_verified = :is_verified,
		is_warmed_up = :is_warmed_up,
		warming_progress = :warming_progress,
		attempt_id = :attempt_id,
		country = :country,
		proxy_id = :proxy_id,
		upload_token = :upload_token,
		total_uploads = :total_uploads,
		total_views = :total_views,
		last_activity = :last_activity,
		updated_at = :updated_at
		WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, a)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("account %s not found", a.ID)
	}
	return nil
}

// Delete hard-deletes an account
func (r *AccountRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM accounts WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// IncrementUploads bumps the upload counter
func (r *AccountRepository) IncrementUploads(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE accounts SET total_uploads = total_uploads + 1, last_activity = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), at, at, id); err != nil {
		return fmt.Errorf("failed to increment uploads: %w", err)
	}
	return nil
}

// GetStats retrieves account statistics
func (r *AccountRepository) GetStats(ctx context.Context) (*domain.AccountStats, error) {
	stats := &domain.AccountStats{ByStatus: map[domain.AccountStatus]int{}}

	var byStatus []struct {
		Status domain.AccountStatus `db:"status"`
		Count  int                  `db:"cnt"`
	}
	if err := r.db.SelectContext(ctx, &byStatus, `SELECT status, COUNT(*) AS cnt FROM accounts GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count accounts by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	query := `SELECT
		COALESCE(SUM(CASE WHEN is_warmed_up THEN 1 ELSE 0 END), 0) AS warmed_up,
		COALESCE(SUM(total_uploads), 0) AS total_uploads,
		COALESCE(SUM(total_views), 0) AS total_views
		FROM accounts`
	row := r.db.QueryRowxContext(ctx, query)
	if err := row.Scan(&stats.WarmedUp, &stats.TotalUploads, &stats.TotalViews); err != nil {
		return nil, fmt.Errorf("failed to aggregate accounts: %w", err)
	}

	return stats, nil
}
