package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/export"
)

// downloadTimeout is the timeout for report generation (5 minutes)
const downloadTimeout = 5 * time.Minute

// exportPageSize is the page size used to walk the stores
const exportPageSize = 500

// ExportHandler renders account and video reports
type ExportHandler struct {
	accounts AccountServiceInterface
	videos   VideoServiceInterface
	now      func() time.Time
}

// NewExportHandler creates a new ExportHandler
func NewExportHandler(accounts AccountServiceInterface, videos VideoServiceInterface) *ExportHandler {
	return &ExportHandler{accounts: accounts, videos: videos, now: time.Now}
}

// Accounts handles GET /api/v1/exports/accounts
func (h *ExportHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), downloadTimeout)
	defer cancel()

	params := domain.AccountListParams{Country: queryString(r, "country")}
	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.AccountStatus(strings.ToLower(status))
		params.Status = &s
	}

	var all []*domain.Account
	for {
		params.Limit = exportPageSize
		page, total, err := h.accounts.List(ctx, params)
		if err != nil {
			RenderServiceError(w, err)
			return
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
		params.Offset += len(page)
	}

	h.send(w, "accounts", func(buf *bytes.Buffer) error {
		return export.Accounts(buf, all)
	})
}

// Videos handles GET /api/v1/exports/videos
func (h *ExportHandler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), downloadTimeout)
	defer cancel()

	var params domain.VideoListParams
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		accountID, err := uuid.Parse(raw)
		if err != nil {
			RenderError(w, http.StatusBadRequest, "Invalid account ID")
			return
		}
		params.AccountID = &accountID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.VideoStatus(strings.ToLower(status))
		params.Status = &s
	}

	var all []*domain.Video
	for {
		params.Limit = exportPageSize
		page, total, err := h.videos.List(ctx, params)
		if err != nil {
			RenderServiceError(w, err)
			return
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
		params.Offset += len(page)
	}

	h.send(w, "videos", func(buf *bytes.Buffer) error {
		return export.Videos(buf, all)
	})
}

// send renders the workbook into memory first so a rendering failure can
// still be reported as JSON
func (h *ExportHandler) send(w http.ResponseWriter, name string, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		log.WithError(err).WithField("report", name).Error("failed to render report")
		RenderError(w, http.StatusInternalServerError, "Failed to render report")
		return
	}

	filename := fmt.Sprintf("%s-%s.xlsx", name, h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
