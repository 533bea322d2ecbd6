package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/api/handlers"
)

// HeaderRequestID carries the request id in and out
const HeaderRequestID = "X-Request-ID"

type ctxKey struct{}

// RequestIDFrom returns the id assigned by RequestID, or ""
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// RequestID tags each request with the caller's X-Request-ID or a fresh one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}

		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// Logger logs HTTP requests. Server errors log at WARN, everything else at
// DEBUG.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		entry := log.WithFields(log.Fields{
			"request_id": RequestIDFrom(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rw.status,
			"bytes":      rw.written,
			"duration":   time.Since(start).Round(time.Microsecond).String(),
		})
		if rw.status >= http.StatusInternalServerError {
			entry.Warn("request served")
			return
		}
		entry.Debug("request served")
	})
}

// Recovery turns a handler panic into a 500
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"request_id": RequestIDFrom(r.Context()),
					"panic":      err,
					"path":       r.URL.Path,
				}).Error("panic recovered")
				handlers.RenderError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// CORS allows browser dashboards on other origins
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, "+HeaderRequestID)
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, "+HeaderRequestID)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// Auth accepts the token as a Bearer credential, an X-API-Key header or an
// api_key query parameter. An empty token disables the check.
func Auth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || presentedToken(r, token) {
				next.ServeHTTP(w, r)
				return
			}

			handlers.RenderError(w, http.StatusUnauthorized, "Unauthorized")
		})
	}
}

func presentedToken(r *http.Request, token string) bool {
	matches := func(candidate string) bool {
		return candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
	}

	if scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if matches(strings.TrimSpace(cred)) {
			return true
		}
	}

	return matches(r.Header.Get("X-API-Key")) || matches(r.URL.Query().Get("api_key"))
}

// Chain applies middlewares so the first one listed runs outermost
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// responseWriter records the status code and body size
type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
