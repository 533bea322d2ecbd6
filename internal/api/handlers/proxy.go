package handlers

import (
	"context"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/service"
)

// ProxyServiceInterface defines the proxy service methods
type ProxyServiceInterface interface {
	Add(ctx context.Context, req *service.AddProxyRequest) (*domain.Proxy, error)
	Get(ctx context.Context, id int64) (*domain.Proxy, error)
	List(ctx context.Context, params domain.ProxyListParams) ([]*domain.Proxy, error)
	Delete(ctx context.Context, id int64) error
	Check(ctx context.Context, id int64) (*domain.Proxy, error)
	HealthCheck(ctx context.Context) error
	Select(ctx context.Context, country *string) (*domain.Proxy, error)
	Stats(ctx context.Context) (*domain.ProxyStats, error)
	AddSource(ctx context.Context, req *service.AddSourceRequest) (*domain.ProxySource, error)
	Sources(ctx context.Context) ([]*domain.ProxySource, error)
	DeleteSource(ctx context.Context, id int64) error
	Import(ctx context.Context) (int, error)
}

type ProxyHandler struct {
	proxies ProxyServiceInterface
}

func NewProxyHandler(proxies ProxyServiceInterface) *ProxyHandler {
	return &ProxyHandler{proxies: proxies}
}

// ListProxies handles GET /api/v1/proxies
func (h *ProxyHandler) ListProxies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := parsePagination(r)

	proxies, err := h.proxies.List(r.Context(), domain.ProxyListParams{
		Country:     queryString(r, "country"),
		ActiveOnly:  q.Get("active") == "true",
		WorkingOnly: q.Get("working") == "true",
		Limit:       perPage,
		Offset:      (page - 1) * perPage,
	})
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"data":     proxies,
		"page":     page,
		"per_page": perPage,
	})
}

// AddProxy handles POST /api/v1/proxies
func (h *ProxyHandler) AddProxy(w http.ResponseWriter, r *http.Request) {
	var req service.AddProxyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.proxies.Add(r.Context(), &req)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusCreated, p)
}

// AddProxiesBulk handles POST /api/v1/proxies/bulk. Invalid entries are
// reported and skipped.
func (h *ProxyHandler) AddProxiesBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Proxies []string         `json:"proxies"`
		Type    domain.ProxyType `json:"proxy_type,omitempty"`
		Country *string          `json:"country,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Proxies) == 0 {
		RenderError(w, http.StatusBadRequest, "Proxies array is required")
		return
	}

	added := 0
	var rejected []string
	for _, raw := range req.Proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		_, err := h.proxies.Add(r.Context(), &service.AddProxyRequest{Address: raw, Type: req.Type, Country: req.Country})
		if err != nil {
			log.WithError(err).WithField("proxy", raw).Debug("bulk proxy rejected")
			rejected = append(rejected, raw)
			continue
		}
		added++
	}

	RenderJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Proxies added",
		"count":    added,
		"rejected": rejected,
	})
}

// GetProxy handles GET /api/v1/proxies/{id}
func (h *ProxyHandler) GetProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyID(w, r)
	if !ok {
		return
	}

	p, err := h.proxies.Get(r.Context(), id)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, p)
}

// DeleteProxy handles DELETE /api/v1/proxies/{id}
func (h *ProxyHandler) DeleteProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := proxyID(w, r)
	if !ok {
		return
	}

	if err := h.proxies.Delete(r.Context(), id); err != nil {
		RenderServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckProxy handles POST /api/v1/proxies/{id}/check
func (h *ProxyHandler) CheckProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := proxyID(w, r)
	if !ok {
		return
	}

	p, err := h.proxies.Check(r.Context(), id)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, p)
}

// HealthCheck handles POST /api/v1/proxies/health-check
func (h *ProxyHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := h.proxies.HealthCheck(r.Context()); err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusAccepted, map[string]string{"message": "Health check scheduled"})
}

// Select handles GET /api/v1/proxies/select
func (h *ProxyHandler) Select(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	p, err := h.proxies.Select(r.Context(), queryString(r, "country"))
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, p)
}

// GetStats handles GET /api/v1/proxies/stats
func (h *ProxyHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := h.proxies.Stats(r.Context())
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"data": stats,
	})
}

// GetSources handles GET /api/v1/proxy-sources
func (h *ProxyHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.proxies.Sources(r.Context())
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"data": sources,
	})
}

// AddSource handles POST /api/v1/proxy-sources
func (h *ProxyHandler) AddSource(w http.ResponseWriter, r *http.Request) {
	var req service.AddSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	src, err := h.proxies.AddSource(r.Context(), &req)
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusCreated, src)
}

// DeleteSource handles DELETE /api/v1/proxy-sources/{id}
func (h *ProxyHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := proxyID(w, r)
	if !ok {
		return
	}

	if err := h.proxies.DeleteSource(r.Context(), id); err != nil {
		RenderServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/v1/proxies/refresh. Every source is imported
// on the request path.
func (h *ProxyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	n, err := h.proxies.Import(r.Context())
	if err != nil {
		RenderServiceError(w, err)
		return
	}

	RenderJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Sources imported",
		"imported": n,
	})
}

func proxyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIntID(r)
	if err != nil || id <= 0 {
		RenderError(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}
