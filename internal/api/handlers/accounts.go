package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// maxBulkImport caps the accounts accepted by one bulk import
const maxBulkImport = 500

// AccountServiceInterface defines the account service methods
type AccountServiceInterface interface {
	Create(ctx context.Context, req *domain.CreateAccountRequest) (*domain.Account, error)
	BulkImport(ctx context.Context, reqs []*domain.CreateAccountRequest) []domain.BulkResult
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	List(ctx context.Context, params domain.AccountListParams) ([]*domain.Account, int, error)
	Logs(ctx context.Context, id uuid.UUID, limit, offset int) ([]*domain.AccountLog, int, error)
	Stats(ctx context.Context) (*domain.AccountStats, error)
	Verify(ctx context.Context, id uuid.UUID, phone string) (*domain.Account, error)
	StartWarming(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	CancelWarming(ctx context.Context, id uuid.UUID) error
	ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error
	Update(ctx context.Context, id uuid.UUID, req *domain.UpdateAccountRequest) (*domain.Account, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, reason string) (*domain.Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AccountHandler handles account-related HTTP requests
type AccountHandler struct {
	accounts AccountServiceInterface
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts AccountServiceInterface) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Create handles POST /api/v1/accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.Create(r.Context(), &req)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusCreated, account)
}

// BulkImport handles POST /api/v1/accounts/bulk
func (h *AccountHandler) BulkImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body struct {
		Accounts []*domain.CreateAccountRequest `json:"accounts"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.Accounts) == 0 {
		RenderError(w, http.StatusBadRequest, "accounts is required")
		return
	}
	if len(body.Accounts) > maxBulkImport {
		RenderError(w, http.StatusBadRequest, "too many accounts in one import")
		return
	}

	results := h.accounts.BulkImport(r.Context(), body.Accounts)
	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"data":    results,
		"summary": summarize(results),
	})
}

// List handles GET /api/v1/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePagination(r)

	params := domain.AccountListParams{
		Country: queryString(r, "country"),
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.AccountStatus(strings.ToLower(status))
		params.Status = &s
	}

	accounts, total, err := h.accounts.List(r.Context(), params)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, NewPaginatedResponse(accounts, total, page, perPage))
}

// Get handles GET /api/v1/accounts/{id}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, account)
}

// Update handles PATCH /api/v1/accounts/{id}
func (h *AccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req domain.UpdateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.accounts.Update(r.Context(), id, &req)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, account)
}

// Delete handles DELETE /api/v1/accounts/{id}
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.Delete(r.Context(), id); err != nil {
		RenderServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Verify handles POST /api/v1/accounts/{id}/verify
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var body struct {
		PhoneNumber string `json:"phone_number"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	account, err := h.accounts.Verify(r.Context(), id, body.PhoneNumber)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, account)
}

// Warmup handles POST (start) and DELETE (cancel) on
// /api/v1/accounts/{id}/warmup
func (h *AccountHandler) Warmup(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		account, err := h.accounts.StartWarming(r.Context(), id)
		if err != nil {
			RenderServiceError(w, err)
			return
		}
		RenderJSON(w, http.StatusAccepted, account)
	case http.MethodDelete:
		if err := h.accounts.CancelWarming(r.Context(), id); err != nil {
			RenderServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// ChangePassword handles POST /api/v1/accounts/{id}/password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), id, body.Password); err != nil {
		RenderServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetStatus handles POST /api/v1/accounts/{id}/status
func (h *AccountHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var body struct {
		Status domain.AccountStatus `json:"status"`
		Reason string               `json:"reason"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	status := domain.AccountStatus(strings.ToLower(string(body.Status)))
	account, err := h.accounts.SetStatus(r.Context(), id, status, body.Reason)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, account)
}

// Logs handles GET /api/v1/accounts/{id}/logs
func (h *AccountHandler) Logs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := accountID(w, r)
	if !ok {
		return
	}

	page, perPage := parsePagination(r)
	logs, total, err := h.accounts.Logs(r.Context(), id, perPage, (page-1)*perPage)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, NewPaginatedResponse(logs, total, page, perPage))
}

// Stats handles GET /api/v1/accounts/stats
func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := h.accounts.Stats(r.Context())
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, stats)
}

func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid account ID")
		return uuid.Nil, false
	}
	return id, true
}

// summarize counts the outcomes of a bulk operation
func summarize(results []domain.BulkResult) map[string]int {
	summary := map[string]int{"total": len(results), "success": 0, "error": 0}
	for _, res := range results {
		if res.Status == domain.BulkResultSuccess {
			summary["success"]++
		} else {
			summary["error"]++
		}
	}
	return summary
}
