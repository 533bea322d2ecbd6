package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthentication(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name           string
		apiKey         string
		setupRequest   func(req *http.Request)
		expectedStatus int
	}{
		{
			name:           "No API Key configured - allow access",
			apiKey:         "",
			setupRequest:   func(req *http.Request) {},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "API Key set - no auth provided",
			apiKey:         "secret123",
			setupRequest:   func(req *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:   "API Key set - wrong auth provided",
			apiKey: "secret123",
			setupRequest: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer wrongsecret")
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:   "API Key set - malformed Authorization header",
			apiKey: "secret123",
			setupRequest: func(req *http.Request) {
				req.Header.Set("Authorization", "Basic secret123")
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:   "API Key set - lowercase bearer scheme",
			apiKey: "secret123",
			setupRequest: func(req *http.Request) {
				req.Header.Set("Authorization", "bearer secret123")
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "API Key set - correct Bearer token",
			apiKey: "secret123",
			setupRequest: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer secret123")
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "API Key set - correct X-API-Key header",
			apiKey: "secret123",
			setupRequest: func(req *http.Request) {
				req.Header.Set("X-API-Key", "secret123")
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "API Key set - correct query param",
			apiKey: "secret123",
			setupRequest: func(req *http.Request) {
				q := req.URL.Query()
				q.Add("api_key", "secret123")
				req.URL.RawQuery = q.Encode()
			},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setupRequest(req)
			w := httptest.NewRecorder()

			Auth(tt.apiKey)(nextHandler).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/accounts", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upload-batch-7")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "upload-batch-7", seen)
	assert.Equal(t, "upload-batch-7", w.Header().Get(HeaderRequestID))
}

func TestLoggerCountsBytes(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	})

	h.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusAccepted, rw.status)
	assert.EqualValues(t, 6, rw.written)
}
