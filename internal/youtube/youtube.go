// Package youtube is the upload target: chunked video insert with progress,
// metadata updates and visibility changes over the YouTube Data API.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/proxypool"
)

const (
	// DefaultCategory is used for unknown category names
	DefaultCategory   = "Entertainment"
	defaultCategoryID = "24"

	DefaultChunkSize = 8 << 20

	watchURL = "https://www.youtube.com/watch?v="
)

var categories = map[string]string{
	"Entertainment": "24",
	"Gaming":        "20",
	"Music":         "10",
	"Sports":        "17",
	"News":          "25",
	"Education":     "27",
	"Science":       "28",
	"Technology":    "28",
	"Travel":        "19",
	"Comedy":        "23",
}

// CategoryID maps a category name to its platform code, falling back to
// Entertainment for unknown names
func CategoryID(name string) string {
	for k, id := range categories {
		if strings.EqualFold(k, strings.TrimSpace(name)) {
			return id
		}
	}
	return defaultCategoryID
}

// Categories returns the known category names and codes
func Categories() map[string]string {
	out := make(map[string]string, len(categories))
	for k, v := range categories {
		out[k] = v
	}
	return out
}

// WatchURL returns the public URL of a video id
func WatchURL(id string) string {
	return watchURL + id
}

// UploadResult is the platform identity of an uploaded video
type UploadResult struct {
	ID  string
	URL string
}

// Session is an authenticated connection for one account
type Session interface {
	// Upload streams r in chunks, calling progress with a 0-100 value after
	// each chunk
	Upload(ctx context.Context, r io.Reader, size int64, meta domain.VideoMetadata, progress func(int)) (*UploadResult, error)
	UpdateMetadata(ctx context.Context, remoteID string, meta domain.VideoMetadata) error
	SetPrivacy(ctx context.Context, remoteID, privacy string) error
}

// Platform opens sessions for accounts
type Platform interface {
	// Open authenticates with refreshToken, egressing through proxy when
	// set. Authentication failures are returned as domain auth errors.
	Open(ctx context.Context, refreshToken string, proxy *domain.Proxy) (Session, error)
}

// Config holds OAuth client settings
type Config struct {
	ClientID     string
	ClientSecret string
	ChunkSize    int

	// TokenURL and Endpoint override the Google endpoints
	TokenURL string
	Endpoint string
}

// Client implements Platform against the YouTube Data API v3
type Client struct {
	oauth     *oauth2.Config
	chunkSize int
	endpoint  string
}

// NewClient creates a Client
func NewClient(cfg Config) *Client {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{yt.YoutubeUploadScope, yt.YoutubeScope},
		},
		chunkSize: cfg.ChunkSize,
		endpoint:  cfg.Endpoint,
	}
}

func (c *Client) Open(ctx context.Context, refreshToken string, proxy *domain.Proxy) (Session, error) {
	if refreshToken == "" {
		return nil, domain.NewError(domain.KindAuth, "account has no upload credentials", nil)
	}

	transport, err := proxypool.Transport(proxy)
	if err != nil {
		return nil, domain.NewError(domain.KindExternalService, "failed to build proxy transport", err)
	}
	base := &http.Client{Transport: transport}

	// the token exchange goes through the same egress as the upload
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
	ts := c.oauth.TokenSource(authCtx, &oauth2.Token{RefreshToken: refreshToken})

	if _, err := ts.Token(); err != nil {
		return nil, domain.NewError(domain.KindAuth, "upload credentials rejected", err)
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(authCtx, ts))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	return &session{svc: svc, chunkSize: c.chunkSize}, nil
}

type session struct {
	svc       *yt.Service
	chunkSize int
}

func (s *session) Upload(ctx context.Context, r io.Reader, size int64, meta domain.VideoMetadata, progress func(int)) (*UploadResult, error) {
	call := s.svc.Videos.Insert([]string{"snippet", "status"}, toVideo("", meta)).
		Media(r, googleapi.ChunkSize(s.chunkSize), googleapi.ContentType("video/*")).
		Context(ctx)

	if progress != nil && size > 0 {
		call = call.ProgressUpdater(func(current, _ int64) {
			pct := int(current * 100 / size)
			if pct > 99 {
				// 100 is reserved for the confirmed insert
				pct = 99
			}
			progress(pct)
		})
	}

	res, err := call.Do()
	if err != nil {
		return nil, classify("upload", err)
	}
	if res.Id == "" {
		return nil, domain.NewError(domain.KindExternalService, "upload returned no video id", nil)
	}

	log.WithFields(log.Fields{"remote_id": res.Id, "title": meta.Title}).Info("video inserted")
	return &UploadResult{ID: res.Id, URL: WatchURL(res.Id)}, nil
}

func (s *session) UpdateMetadata(ctx context.Context, remoteID string, meta domain.VideoMetadata) error {
	_, err := s.svc.Videos.Update([]string{"snippet", "status"}, toVideo(remoteID, meta)).Context(ctx).Do()
	if err != nil {
		return classify("update metadata", err)
	}
	return nil
}

func (s *session) SetPrivacy(ctx context.Context, remoteID, privacy string) error {
	v := &yt.Video{Id: remoteID, Status: &yt.VideoStatus{PrivacyStatus: privacy}}
	_, err := s.svc.Videos.Update([]string{"status"}, v).Context(ctx).Do()
	if err != nil {
		return classify("set privacy", err)
	}
	return nil
}

func toVideo(id string, meta domain.VideoMetadata) *yt.Video {
	title := meta.Title
	if title == "" {
		title = "Untitled"
	}
	privacy := meta.Privacy
	if !domain.IsValidPrivacy(privacy) {
		privacy = domain.PrivacyPrivate
	}

	return &yt.Video{
		Id: id,
		Snippet: &yt.VideoSnippet{
			Title:       title,
			Description: meta.Description,
			Tags:        meta.Tags,
			CategoryId:  CategoryID(meta.Category),
		},
		Status: &yt.VideoStatus{PrivacyStatus: privacy},
	}
}

// classify maps API failures onto domain error kinds
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.NewError(domain.KindAuth, op+" not authorized", err)
		case http.StatusNotFound:
			return domain.NewError(domain.KindNotFound, op+": remote video not found", err)
		}
		return domain.NewError(domain.KindExternalService, op+" failed", err)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return domain.NewError(domain.KindAuth, op+": token refresh failed", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewError(domain.KindExternalService, op+" failed", err)
}
