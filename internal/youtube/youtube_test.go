package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

type fakeAPI struct {
	mu      sync.Mutex
	inserts []map[string]any
	updates []map[string]any
	status  int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("refresh_token") != "good-refresh" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		if !strings.HasSuffix(r.URL.Path, "/videos") {
			http.NotFound(w, r)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"forbidden"}}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			f.inserts = append(f.inserts, readVideoPart(t, r))
			_, _ = io.WriteString(w, `{"id":"yt-abc123"}`)
		case http.MethodPut:
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.updates = append(f.updates, body)
			_ = json.NewEncoder(w).Encode(body)
		}
	})

	return mux
}

// readVideoPart returns the JSON metadata part of a multipart upload
func readVideoPart(t *testing.T, r *http.Request) map[string]any {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !assert.NoError(t, err) {
		return nil
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	part, err := mr.NextPart()
	if !assert.NoError(t, err) {
		return nil
	}

	var meta map[string]any
	assert.NoError(t, json.NewDecoder(part).Decode(&meta))
	return meta
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()

	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	return NewClient(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
		Endpoint:     srv.URL + "/",
	}), api
}

func TestCategoryID(t *testing.T) {
	assert.Equal(t, "20", CategoryID("Gaming"))
	assert.Equal(t, "20", CategoryID("gaming"))
	assert.Equal(t, "28", CategoryID("Technology"))
	assert.Equal(t, "24", CategoryID(""))
	assert.Equal(t, "24", CategoryID("Cooking"))
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", WatchURL("abc"))
}

func TestOpen_RejectsBadCredentials(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Open(context.Background(), "", nil)
	assert.ErrorIs(t, err, domain.ErrAuth)

	_, err = c.Open(context.Background(), "revoked", nil)
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestUpload(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	s, err := c.Open(ctx, "good-refresh", nil)
	require.NoError(t, err)

	content := bytes.Repeat([]byte("v"), 1024)
	res, err := s.Upload(ctx, bytes.NewReader(content), int64(len(content)), domain.VideoMetadata{
		Title:    "First short",
		Tags:     []string{"a", "b"},
		Category: "Music",
		Privacy:  "bogus",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "yt-abc123", res.ID)
	assert.Equal(t, "https://www.youtube.com/watch?v=yt-abc123", res.URL)

	require.Len(t, api.inserts, 1)
	snippet := api.inserts[0]["snippet"].(map[string]any)
	assert.Equal(t, "First short", snippet["title"])
	assert.Equal(t, "10", snippet["categoryId"])
	status := api.inserts[0]["status"].(map[string]any)
	assert.Equal(t, "private", status["privacyStatus"], "invalid privacy falls back to private")
}

func TestSetPrivacyAndUpdate(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	s, err := c.Open(ctx, "good-refresh", nil)
	require.NoError(t, err)

	require.NoError(t, s.SetPrivacy(ctx, "yt-abc123", domain.PrivacyPublic))
	require.NoError(t, s.UpdateMetadata(ctx, "yt-abc123", domain.VideoMetadata{Title: "Renamed", Category: "Unknown"}))

	require.Len(t, api.updates, 2)
	assert.Equal(t, "yt-abc123", api.updates[0]["id"])
	assert.Equal(t, "public", api.updates[0]["status"].(map[string]any)["privacyStatus"])
	assert.Equal(t, "24", api.updates[1]["snippet"].(map[string]any)["categoryId"])
}

func TestForbiddenIsAuthError(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()

	s, err := c.Open(ctx, "good-refresh", nil)
	require.NoError(t, err)

	api.status = http.StatusForbidden
	err = s.SetPrivacy(ctx, "yt-abc123", domain.PrivacyPublic)
	assert.ErrorIs(t, err, domain.ErrAuth)
}
