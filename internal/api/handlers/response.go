package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// maxBodySize bounds JSON request bodies (1MB)
const maxBodySize = 1 << 20

// APIError represents an error response
type APIError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// PaginatedResponse wraps paginated results
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalPages int         `json:"total_pages"`
}

// RenderJSON renders a JSON response
func RenderJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// RenderError renders an error response
func RenderError(w http.ResponseWriter, code int, message string) {
	RenderJSON(w, code, APIError{
		Code:    code,
		Message: message,
	})
}

// RenderServiceError renders err with the status code of its kind.
// Unclassified errors are logged and hidden behind a generic message.
func RenderServiceError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	code := StatusFor(kind)

	message := err.Error()
	if kind == domain.KindInternal {
		log.WithError(err).Error("request failed")
		message = "Internal server error"
	}

	RenderJSON(w, code, APIError{
		Code:    code,
		Kind:    string(kind),
		Message: message,
	})
}

// StatusFor maps an error kind to its HTTP status code
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindDuplicateAccount, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindExternalService:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// NewPaginatedResponse creates a paginated response
func NewPaginatedResponse(data interface{}, total, page, perPage int) PaginatedResponse {
	totalPages := total / perPage
	if total%perPage > 0 {
		totalPages++
	}

	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
}

// parsePagination reads page and per_page, defaulting to 1 and 20
func parsePagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

// decodeJSON reads a bounded JSON body into dst. It renders the failure
// itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			RenderError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		RenderError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseID(r *http.Request) (uuid.UUID, error) {
	idStr := r.PathValue("id")
	if idStr == "" {
		idStr = r.URL.Query().Get("id")
	}
	return uuid.Parse(idStr)
}

func parseIntID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func queryString(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}
