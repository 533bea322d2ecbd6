package api

import (
	"net/http"

	"github.com/sadewadee/mystic-shorts/internal/api/handlers"
)

// Router sets up all API routes
type Router struct {
	mux      *http.ServeMux
	accounts *handlers.AccountHandler
	videos   *handlers.VideoHandler
	captcha  *handlers.CaptchaHandler
	proxies  *handlers.ProxyHandler
	exports  *handlers.ExportHandler
	health   *handlers.HealthHandler
}

// NewRouter creates a new Router
func NewRouter(
	accounts *handlers.AccountHandler,
	videos *handlers.VideoHandler,
	captcha *handlers.CaptchaHandler,
	proxies *handlers.ProxyHandler,
	exports *handlers.ExportHandler,
	health *handlers.HealthHandler,
) *Router {
	return &Router{
		mux:      http.NewServeMux(),
		accounts: accounts,
		videos:   videos,
		captcha:  captcha,
		proxies:  proxies,
		exports:  exports,
		health:   health,
	}
}

// Setup configures all routes. /health stays reachable without a token.
func (r *Router) Setup(token string) http.Handler {
	api := http.NewServeMux()

	// Account endpoints
	api.HandleFunc("/api/v1/accounts", r.handleAccounts)
	api.HandleFunc("/api/v1/accounts/bulk", r.accounts.BulkImport)
	api.HandleFunc("/api/v1/accounts/stats", r.accounts.Stats)
	api.HandleFunc("/api/v1/accounts/{id}", r.handleAccount)
	api.HandleFunc("/api/v1/accounts/{id}/verify", r.accounts.Verify)
	api.HandleFunc("/api/v1/accounts/{id}/warmup", r.accounts.Warmup)
	api.HandleFunc("/api/v1/accounts/{id}/password", r.accounts.ChangePassword)
	api.HandleFunc("/api/v1/accounts/{id}/status", r.accounts.SetStatus)
	api.HandleFunc("/api/v1/accounts/{id}/logs", r.accounts.Logs)

	// Video endpoints
	api.HandleFunc("/api/v1/videos", r.handleVideos)
	api.HandleFunc("/api/v1/videos/bulk", r.videos.BulkUpload)
	api.HandleFunc("/api/v1/videos/categories", r.videos.Categories)
	api.HandleFunc("/api/v1/videos/{id}", r.handleVideo)
	api.HandleFunc("/api/v1/videos/{id}/upload", r.videos.Upload)
	api.HandleFunc("/api/v1/videos/{id}/retry", r.videos.Retry)
	api.HandleFunc("/api/v1/videos/{id}/publish", r.videos.Publish)
	api.HandleFunc("/api/v1/videos/{id}/status", r.videos.Status)

	// Captcha endpoints
	api.HandleFunc("/api/v1/captcha/solve", r.captcha.Solve)
	api.HandleFunc("/api/v1/captcha/balance", r.captcha.Balance)
	api.HandleFunc("/api/v1/captcha/tasks", r.handleCaptchaTasks)
	api.HandleFunc("/api/v1/captcha/tasks/{id}", r.captcha.Get)

	// Proxy endpoints
	api.HandleFunc("/api/v1/proxies", r.handleProxies)
	api.HandleFunc("/api/v1/proxies/bulk", r.proxies.AddProxiesBulk)
	api.HandleFunc("/api/v1/proxies/stats", r.proxies.GetStats)
	api.HandleFunc("/api/v1/proxies/select", r.proxies.Select)
	api.HandleFunc("/api/v1/proxies/health-check", r.proxies.HealthCheck)
	api.HandleFunc("/api/v1/proxies/refresh", r.proxies.Refresh)
	api.HandleFunc("/api/v1/proxy-sources", r.handleProxySources)
	api.HandleFunc("/api/v1/proxy-sources/{id}", r.proxies.DeleteSource)
	api.HandleFunc("/api/v1/proxies/{id}", r.handleProxy)
	api.HandleFunc("/api/v1/proxies/{id}/check", r.proxies.CheckProxy)

	// Reports
	api.HandleFunc("/api/v1/exports/accounts", r.exports.Accounts)
	api.HandleFunc("/api/v1/exports/videos", r.exports.Videos)

	r.mux.HandleFunc("/health", r.health.Health)
	r.mux.Handle("/api/", Auth(token)(api))

	// Apply middleware
	return Chain(r.mux,
		RequestID,
		Recovery,
		Logger,
		CORS,
		SecurityHeaders,
	)
}

// handleAccounts routes requests for /api/v1/accounts
func (r *Router) handleAccounts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.accounts.List(w, req)
	case http.MethodPost:
		r.accounts.Create(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAccount routes requests for /api/v1/accounts/{id}
func (r *Router) handleAccount(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.accounts.Get(w, req)
	case http.MethodPatch, http.MethodPut:
		r.accounts.Update(w, req)
	case http.MethodDelete:
		r.accounts.Delete(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleVideos routes requests for /api/v1/videos
func (r *Router) handleVideos(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.videos.List(w, req)
	case http.MethodPost:
		r.videos.Create(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleVideo routes requests for /api/v1/videos/{id}
func (r *Router) handleVideo(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.videos.Get(w, req)
	case http.MethodPatch, http.MethodPut:
		r.videos.Update(w, req)
	case http.MethodDelete:
		r.videos.Delete(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCaptchaTasks routes requests for /api/v1/captcha/tasks
func (r *Router) handleCaptchaTasks(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.captcha.List(w, req)
	case http.MethodPost:
		r.captcha.Submit(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleProxies routes requests for /api/v1/proxies
func (r *Router) handleProxies(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.proxies.ListProxies(w, req)
	case http.MethodPost:
		r.proxies.AddProxy(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleProxy routes requests for /api/v1/proxies/{id}
func (r *Router) handleProxy(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.proxies.GetProxy(w, req)
	case http.MethodDelete:
		r.proxies.DeleteProxy(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleProxySources routes requests for /api/v1/proxy-sources
func (r *Router) handleProxySources(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.proxies.GetSources(w, req)
	case http.MethodPost:
		r.proxies.AddSource(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
