package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// CaptchaServiceInterface defines the captcha service methods
type CaptchaServiceInterface interface {
	Solve(ctx context.Context, payload domain.CaptchaPayload) (*domain.CaptchaTask, error)
	Submit(ctx context.Context, payload domain.CaptchaPayload) (*domain.CaptchaTask, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.CaptchaTask, error)
	List(ctx context.Context, limit, offset int) ([]*domain.CaptchaTask, int, error)
	Balance(ctx context.Context) (string, float64, error)
}

// CaptchaHandler handles captcha-related HTTP requests
type CaptchaHandler struct {
	captcha CaptchaServiceInterface
}

// NewCaptchaHandler creates a new CaptchaHandler
func NewCaptchaHandler(captcha CaptchaServiceInterface) *CaptchaHandler {
	return &CaptchaHandler{captcha: captcha}
}

// Solve handles POST /api/v1/captcha/solve. The request blocks until the
// task resolves.
func (h *CaptchaHandler) Solve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var payload domain.CaptchaPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	task, err := h.captcha.Solve(r.Context(), payload)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, task)
}

// Submit handles POST /api/v1/captcha/tasks
func (h *CaptchaHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var payload domain.CaptchaPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	task, err := h.captcha.Submit(r.Context(), payload)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusAccepted, task)
}

// List handles GET /api/v1/captcha/tasks
func (h *CaptchaHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePagination(r)

	tasks, total, err := h.captcha.List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, NewPaginatedResponse(tasks, total, page, perPage))
}

// Get handles GET /api/v1/captcha/tasks/{id}
func (h *CaptchaHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.captcha.Get(r.Context(), id)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, task)
}

// Balance handles GET /api/v1/captcha/balance
func (h *CaptchaHandler) Balance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	backend, balance, err := h.captcha.Balance(r.Context())
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"backend": backend,
		"balance": balance,
	})
}
