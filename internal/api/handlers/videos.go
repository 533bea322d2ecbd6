package handlers

import (
	"context"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/service"
)

// MaxUploadSize is the maximum size of a multipart bulk upload (2GB)
const MaxUploadSize = 2 << 30

// multipartMemory is the part of a multipart form kept in memory
const multipartMemory = 32 << 20

// VideoServiceInterface defines the video service methods
type VideoServiceInterface interface {
	CreateVideoRecord(ctx context.Context, req *domain.CreateVideoRequest) (*domain.Video, error)
	Upload(ctx context.Context, id uuid.UUID) (*domain.Video, error)
	RetryUpload(ctx context.Context, id uuid.UUID) (*domain.Video, error)
	CancelUpload(ctx context.Context, id uuid.UUID) error
	Publish(ctx context.Context, id uuid.UUID) (*domain.Video, error)
	Update(ctx context.Context, id uuid.UUID, req *domain.UpdateVideoRequest) (*domain.Video, error)
	BulkUpload(ctx context.Context, req *service.BulkUploadRequest, items []service.UploadItem) []domain.BulkResult
	Get(ctx context.Context, id uuid.UUID) (*domain.Video, error)
	Status(ctx context.Context, id uuid.UUID) (*domain.UploadStatus, error)
	List(ctx context.Context, params domain.VideoListParams) ([]*domain.Video, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Categories() map[string]string
}

// VideoHandler handles video-related HTTP requests
type VideoHandler struct {
	videos VideoServiceInterface
}

// NewVideoHandler creates a new VideoHandler
func NewVideoHandler(videos VideoServiceInterface) *VideoHandler {
	return &VideoHandler{videos: videos}
}

// Create handles POST /api/v1/videos
func (h *VideoHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateVideoRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	video, err := h.videos.CreateVideoRecord(r.Context(), &req)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusCreated, video)
}

// List handles GET /api/v1/videos
func (h *VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePagination(r)

	params := domain.VideoListParams{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
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

	videos, total, err := h.videos.List(r.Context(), params)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, NewPaginatedResponse(videos, total, page, perPage))
}

// Get handles GET /api/v1/videos/{id}
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := videoID(w, r)
	if !ok {
		return
	}

	video, err := h.videos.Get(r.Context(), id)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, video)
}

// Update handles PATCH /api/v1/videos/{id}
func (h *VideoHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := videoID(w, r)
	if !ok {
		return
	}

	var req domain.UpdateVideoRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	video, err := h.videos.Update(r.Context(), id, &req)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, video)
}

// Delete handles DELETE /api/v1/videos/{id}
func (h *VideoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := videoID(w, r)
	if !ok {
		return
	}

	if err := h.videos.Delete(r.Context(), id); err != nil {
		RenderServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Upload handles POST (start) and DELETE (cancel) on
// /api/v1/videos/{id}/upload
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := videoID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		video, err := h.videos.Upload(r.Context(), id)
		if err != nil {
			RenderServiceError(w, err)
			return
		}
		RenderJSON(w, http.StatusAccepted, video)
	case http.MethodDelete:
		if err := h.videos.CancelUpload(r.Context(), id); err != nil {
			RenderServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Retry handles POST /api/v1/videos/{id}/retry
func (h *VideoHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, http.StatusAccepted, h.videos.RetryUpload)
}

// Publish handles POST /api/v1/videos/{id}/publish
func (h *VideoHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, http.StatusOK, h.videos.Publish)
}

func (h *VideoHandler) action(w http.ResponseWriter, r *http.Request, code int, fn func(context.Context, uuid.UUID) (*domain.Video, error)) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := videoID(w, r)
	if !ok {
		return
	}

	video, err := fn(r.Context(), id)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, code, video)
}

// Status handles GET /api/v1/videos/{id}/status
func (h *VideoHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := videoID(w, r)
	if !ok {
		return
	}

	status, err := h.videos.Status(r.Context(), id)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, status)
}

// Categories handles GET /api/v1/videos/categories
func (h *VideoHandler) Categories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"data": h.videos.Categories(),
	})
}

// BulkUpload handles POST /api/v1/videos/bulk. A multipart form carries the
// files in "files" plus the shared settings as form values; a JSON body
// references files already in the file store.
func (h *VideoHandler) BulkUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var (
		req   service.BulkUploadRequest
		items []service.UploadItem
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			RenderError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
			return
		}
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				log.WithError(err).Warn("failed to remove multipart temp files")
			}
		}()

		accountID, err := uuid.Parse(r.FormValue("account_id"))
		if err != nil {
			RenderError(w, http.StatusBadRequest, "Invalid account ID")
			return
		}
		req = service.BulkUploadRequest{
			AccountID: accountID,
			Type:      domain.VideoType(r.FormValue("video_type")),
			Category:  r.FormValue("category"),
			Privacy:   r.FormValue("privacy_status"),
		}

		var closers []multipart.File
		defer func() {
			for _, f := range closers {
				f.Close()
			}
		}()

		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				RenderError(w, http.StatusBadRequest, "Failed to read "+fh.Filename)
				return
			}
			closers = append(closers, f)
			items = append(items, service.UploadItem{
				UploadFile: domain.UploadFile{Name: fh.Filename},
				Content:    f,
			})
		}
	} else {
		var body struct {
			service.BulkUploadRequest
			Files []domain.UploadFile `json:"files"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		req = body.BulkUploadRequest
		for _, f := range body.Files {
			items = append(items, service.UploadItem{UploadFile: f})
		}
	}

	if len(items) == 0 {
		RenderError(w, http.StatusBadRequest, "files is required")
		return
	}

	results := h.videos.BulkUpload(r.Context(), &req, items)
	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"data":    results,
		"summary": summarize(results),
	})
}

func videoID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid video ID")
		return uuid.Nil, false
	}
	return id, true
}
