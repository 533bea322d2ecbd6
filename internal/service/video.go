package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/lock"
	"github.com/sadewadee/mystic-shorts/internal/proxypool"
	"github.com/sadewadee/mystic-shorts/internal/queue"
	"github.com/sadewadee/mystic-shorts/internal/secret"
	"github.com/sadewadee/mystic-shorts/internal/storage"
	"github.com/sadewadee/mystic-shorts/internal/youtube"
)

var errUploadCancelled = errors.New("upload cancelled")

// UploadItem is one file of a bulk upload. Content is nil when Path already
// references a stored file.
type UploadItem struct {
	domain.UploadFile
	Content io.Reader
}

// BulkUploadRequest holds the settings shared by every file of a batch
type BulkUploadRequest struct {
	AccountID uuid.UUID        `json:"account_id"`
	Type      domain.VideoType `json:"video_type"`
	Category  string           `json:"category"`
	Privacy   string           `json:"privacy_status"`
}

// VideoService owns the upload pipeline. Video status is only written here.
type VideoService struct {
	videos     domain.VideoRepository
	accounts   domain.AccountRepository
	dispatcher queue.Dispatcher
	locker     lock.Locker
	sealer     secret.Sealer
	notifier   domain.Notifier
	audit      audit

	platform youtube.Platform
	proxies  *proxypool.Manager
	files    storage.Store

	now func() time.Time
}

// NewVideoService creates a VideoService. proxies may be nil to always
// upload direct.
func NewVideoService(d Deps, platform youtube.Platform, proxies *proxypool.Manager, files storage.Store) *VideoService {
	d = d.withDefaults()

	return &VideoService{
		videos:     d.Stores.Videos,
		accounts:   d.Stores.Accounts,
		dispatcher: d.Dispatcher,
		locker:     d.Locker,
		sealer:     d.Sealer,
		notifier:   d.Notifier,
		audit:      audit{logs: d.Stores.AccountLogs, now: time.Now},
		platform:   platform,
		proxies:    proxies,
		files:      files,
		now:        time.Now,
	}
}

// CreateVideoRecord persists a PENDING video. It does not upload.
func (s *VideoService) CreateVideoRecord(ctx context.Context, req *domain.CreateVideoRequest) (*domain.Video, error) {
	if req.AccountID == uuid.Nil {
		return nil, domain.Validationf("account_id is required")
	}
	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, domain.Validationf("account %s not found", req.AccountID)
	}

	if strings.TrimSpace(req.FilePath) == "" {
		return nil, domain.Validationf("file_path is required")
	}
	if req.Duration != nil && *req.Duration < 0 {
		return nil, domain.Validationf("duration cannot be negative")
	}

	typ := req.Type
	if typ == "" {
		typ = domain.VideoTypeShort
	}
	if !typ.IsValid() {
		return nil, domain.Validationf("unknown video type %q", req.Type)
	}

	privacy := req.Privacy
	if privacy == "" {
		privacy = domain.PrivacyPrivate
	}
	if !domain.IsValidPrivacy(privacy) {
		return nil, domain.Validationf("unknown privacy status %q", req.Privacy)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = titleFromFile(req.FilePath)
	}

	now := s.now().UTC()
	video := &domain.Video{
		ID:          uuid.New(),
		AccountID:   req.AccountID,
		Title:       title,
		Description: req.Description,
		FilePath:    req.FilePath,
		Type:        typ,
		Duration:    req.Duration,
		Status:      domain.VideoStatusPending,
		Tags:        append(domain.Tags{}, req.Tags...),
		Category:    req.Category,
		Privacy:     privacy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.videos.Create(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to create video: %w", err)
	}

	log.WithFields(log.Fields{"video_id": video.ID, "account_id": video.AccountID}).Info("video created")
	return video, nil
}

// Upload schedules the transfer of a pending or failed video. The account
// must be usable and hold upload credentials.
func (s *VideoService) Upload(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	attempt := uuid.NewString()

	var video *domain.Video
	err := s.mutate(ctx, id, func(v *domain.Video) error {
		if !v.Status.CanRetry() {
			return domain.InvalidStatef("video in status %s cannot be uploaded", v.Status)
		}

		account, err := s.accounts.GetByID(ctx, v.AccountID)
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}
		if err := checkUploader(account, v.AccountID); err != nil {
			return err
		}

		v.Status = domain.VideoStatusUploading
		v.UploadProgress = 0
		v.AttemptID = attempt
		v.RemoteID = nil
		v.RemoteURL = nil
		v.ErrorMessage = nil
		v.UploadedAt = nil
		video = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := queue.NewPayload(id.String()).WithAttempt(attempt)
	if err := s.dispatcher.Dispatch(ctx, queue.TypeVideoUpload, payload); err != nil {
		s.fail(ctx, id, attempt, fmt.Errorf("failed to schedule upload: %w", err))
		return nil, domain.NewError(domain.KindExternalService, "failed to schedule upload", err)
	}

	s.notifier.Notify(ctx, domain.NewEvent(domain.EventVideoUploadStarted, video.Title, "Upload started").
		WithAccount(video.AccountID).
		WithVideo(id))
	return video, nil
}

// RetryUpload restarts the transfer of a failed or pending video from
// scratch with its stored metadata
func (s *VideoService) RetryUpload(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	video, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"video_id": id, "previous_status": video.Status}).Info("retrying upload")
	return s.Upload(ctx, id)
}

// CancelUpload stops an in-flight transfer. The video ends FAILED.
func (s *VideoService) CancelUpload(ctx context.Context, id uuid.UUID) error {
	video, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !video.Status.IsInFlight() {
		return domain.InvalidStatef("video in status %s is not uploading", video.Status)
	}

	s.dispatcher.Cancel(ctx, queue.TypeVideoUpload, id.String())
	s.fail(ctx, id, video.AttemptID, errUploadCancelled)
	return nil
}

// runUpload performs the transfer of one video
func (s *VideoService) runUpload(ctx context.Context, p *queue.Payload) error {
	id, err := parseEntityID(p)
	if err != nil {
		return err
	}

	entry := log.WithFields(log.Fields{"video_id": id, "attempt": p.Attempt})

	video, err := s.videos.GetByID(ctx, id)
	if err != nil {
		s.fail(ctx, id, p.Attempt, err)
		return err
	}
	if video == nil || video.Status != domain.VideoStatusUploading || video.AttemptID != p.Attempt {
		entry.Info("upload skipped, attempt is no longer current")
		return nil
	}

	result, err := s.transfer(ctx, video)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", errUploadCancelled, context.Cause(ctx))
		}
		s.fail(ctx, id, p.Attempt, err)
		return err
	}

	// the platform holds the video now; record it even if ctx just ended
	ctx = context.WithoutCancel(ctx)
	err = s.mutate(ctx, id, func(v *domain.Video) error {
		if !v.Status.IsInFlight() || v.AttemptID != p.Attempt {
			return domain.InvalidStatef("video left upload state")
		}
		now := s.now().UTC()
		v.Status = domain.VideoStatusCompleted
		v.UploadProgress = 100
		v.RemoteID = &result.ID
		v.RemoteURL = &result.URL
		v.ErrorMessage = nil
		v.UploadedAt = &now
		video = v
		return nil
	})
	if err != nil {
		entry.WithError(err).Error("failed to record completed upload")
		return err
	}

	if err := s.accounts.IncrementUploads(ctx, video.AccountID, s.now().UTC()); err != nil {
		entry.WithError(err).Warn("failed to bump upload counter")
	}
	s.audit.record(ctx, video.AccountID, domain.ActionVideoUploaded, domain.LogLevelInfo,
		fmt.Sprintf("Video %q uploaded", video.Title),
		domain.Metadata{"video_id": video.ID.String(), "remote_id": result.ID})
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventVideoUploadCompleted, video.Title, result.URL).
		WithAccount(video.AccountID).
		WithVideo(id))

	entry.WithField("remote_id", result.ID).Info("upload completed")
	return nil
}

// transfer authenticates the account, then streams the file. Credentials
// are checked before any byte is sent.
func (s *VideoService) transfer(ctx context.Context, video *domain.Video) (*youtube.UploadResult, error) {
	account, err := s.accounts.GetByID(ctx, video.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if err := checkUploader(account, video.AccountID); err != nil {
		return nil, err
	}

	session, err := s.open(ctx, account)
	if err != nil {
		return nil, err
	}

	r, size, err := s.files.Open(ctx, video.FilePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	processing := false
	progress := func(pct int) {
		stored, err := s.videos.UpdateProgress(ctx, video.ID, video.AttemptID, pct)
		if err != nil {
			log.WithError(err).WithField("video_id", video.ID).Warn("failed to store upload progress")
			return
		}
		// all bytes sent; the platform is processing the insert
		if stored >= 99 && !processing {
			processing = true
			s.markProcessing(ctx, video.ID, video.AttemptID)
		}
	}

	return session.Upload(ctx, r, size, video.Metadata(), progress)
}

func (s *VideoService) markProcessing(ctx context.Context, id uuid.UUID, attempt string) {
	err := s.mutate(ctx, id, func(v *domain.Video) error {
		if v.Status != domain.VideoStatusUploading || v.AttemptID != attempt {
			return domain.InvalidStatef("video is not uploading")
		}
		v.Status = domain.VideoStatusProcessing
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrInvalidState) {
		log.WithError(err).WithField("video_id", id).Warn("failed to mark video processing")
	}
}

// open resolves the account's egress proxy and opens a platform session
func (s *VideoService) open(ctx context.Context, account *domain.Account) (youtube.Session, error) {
	token, err := s.sealer.Open(*account.UploadToken)
	if err != nil {
		return nil, domain.NewError(domain.KindAuth, "stored upload token cannot be read", err)
	}

	var egress *domain.Proxy
	if s.proxies != nil {
		egress, err = s.proxies.ForAccount(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("failed to select proxy: %w", err)
		}
		if egress == nil && account.ProxyID != nil {
			return nil, domain.NewError(domain.KindExternalService, "no working proxy for account", nil)
		}
	}

	return s.platform.Open(ctx, token, egress)
}

// fail records cause on an in-flight video while attempt is its current
// transfer. Resolved videos and newer attempts are left untouched.
func (s *VideoService) fail(ctx context.Context, id uuid.UUID, attempt string, cause error) {
	ctx = context.WithoutCancel(ctx)

	var video *domain.Video
	err := s.mutate(ctx, id, func(v *domain.Video) error {
		if !v.Status.IsInFlight() {
			return domain.InvalidStatef("video is not uploading")
		}
		if v.AttemptID != attempt {
			return domain.InvalidStatef("upload attempt superseded")
		}
		v.Status = domain.VideoStatusFailed
		v.RemoteID = nil
		v.RemoteURL = nil
		v.ErrorMessage = errorMessage(cause)
		video = v
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidState) && !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).WithField("video_id", id).Error("failed to record upload failure")
		}
		return
	}

	log.WithError(cause).WithField("video_id", id).Warn("upload failed")
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventVideoUploadFailed, video.Title, cause.Error()).
		WithAccount(video.AccountID).
		WithVideo(id).
		WithField("kind", string(domain.KindOf(cause))))
}

// Publish makes a completed video public
func (s *VideoService) Publish(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	var video *domain.Video
	err := s.mutate(ctx, id, func(v *domain.Video) error {
		if !v.Status.CanPublish() || v.RemoteID == nil {
			return domain.InvalidStatef("video in status %s cannot be published", v.Status)
		}
		if v.Privacy == domain.PrivacyPublic {
			video = v
			return nil
		}

		session, err := s.session(ctx, v.AccountID)
		if err != nil {
			return err
		}
		if err := session.SetPrivacy(ctx, *v.RemoteID, domain.PrivacyPublic); err != nil {
			return err
		}
		v.Privacy = domain.PrivacyPublic
		video = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, domain.NewEvent(domain.EventVideoPublished, video.Title, deref(video.RemoteURL)).
		WithAccount(video.AccountID).
		WithVideo(id))
	return video, nil
}

// Update applies a partial metadata update. Completed videos get the change
// pushed to the platform first.
func (s *VideoService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateVideoRequest) (*domain.Video, error) {
	if req.Privacy != nil && !domain.IsValidPrivacy(*req.Privacy) {
		return nil, domain.Validationf("unknown privacy status %q", *req.Privacy)
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, domain.Validationf("title cannot be empty")
	}

	var video *domain.Video
	err := s.mutate(ctx, id, func(v *domain.Video) error {
		if v.Status.IsInFlight() {
			return domain.InvalidStatef("video is uploading")
		}

		if req.Title != nil {
			v.Title = strings.TrimSpace(*req.Title)
		}
		if req.Description != nil {
			v.Description = *req.Description
		}
		if req.Tags != nil {
			v.Tags = append(domain.Tags{}, (*req.Tags)...)
		}
		if req.Category != nil {
			v.Category = *req.Category
		}
		if req.Privacy != nil {
			v.Privacy = *req.Privacy
		}

		if v.Status == domain.VideoStatusCompleted && v.RemoteID != nil {
			session, err := s.session(ctx, v.AccountID)
			if err != nil {
				return err
			}
			if err := session.UpdateMetadata(ctx, *v.RemoteID, v.Metadata()); err != nil {
				return err
			}
		}

		video = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return video, nil
}

// BulkUpload stores each file, creates its video and schedules its upload.
// Every item reports its own outcome.
func (s *VideoService) BulkUpload(ctx context.Context, req *BulkUploadRequest, items []UploadItem) []domain.BulkResult {
	results := make([]domain.BulkResult, len(items))

	for i, item := range items {
		res := domain.BulkResult{Index: i, File: item.Name}

		video, err := s.uploadOne(ctx, req, item)
		if err != nil {
			res.Status = domain.BulkResultError
			res.Error = err.Error()
			res.Kind = domain.KindOf(err)
			log.WithError(err).WithField("file", item.Name).Warn("bulk upload item failed")
		} else {
			res.Status = domain.BulkResultSuccess
			res.ID = &video.ID
		}
		results[i] = res
	}

	return results
}

func (s *VideoService) uploadOne(ctx context.Context, req *BulkUploadRequest, item UploadItem) (*domain.Video, error) {
	path := item.Path
	if item.Content != nil {
		ref, err := s.files.Save(ctx, item.Name, item.Content)
		if err != nil {
			return nil, err
		}
		path = ref
	}
	if path == "" {
		return nil, domain.Validationf("file %q has no content", item.Name)
	}

	title := item.Title
	if title == "" {
		title = titleFromFile(item.Name)
	}

	video, err := s.CreateVideoRecord(ctx, &domain.CreateVideoRequest{
		AccountID:   req.AccountID,
		Title:       title,
		Description: item.Description,
		FilePath:    path,
		Type:        req.Type,
		Tags:        item.Tags,
		Category:    req.Category,
		Privacy:     req.Privacy,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Upload(ctx, video.ID); err != nil {
		return nil, err
	}
	return video, nil
}

// Get returns one video
func (s *VideoService) Get(ctx context.Context, id uuid.UUID) (*domain.Video, error) {
	video, err := s.videos.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	if video == nil {
		return nil, domain.NotFoundf("video %s not found", id)
	}
	return video, nil
}

// Status returns the upload progress of a video
func (s *VideoService) Status(ctx context.Context, id uuid.UUID) (*domain.UploadStatus, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.UploadStatus{
		ID:             v.ID,
		Status:         v.Status,
		UploadProgress: v.UploadProgress,
		RemoteID:       v.RemoteID,
		RemoteURL:      v.RemoteURL,
		ErrorMessage:   v.ErrorMessage,
	}, nil
}

// List returns videos matching params and the total count
func (s *VideoService) List(ctx context.Context, params domain.VideoListParams) ([]*domain.Video, int, error) {
	return s.videos.List(ctx, params)
}

// Delete removes a video record, cancelling its upload first
func (s *VideoService) Delete(ctx context.Context, id uuid.UUID) error {
	return withLock(ctx, s.locker, lock.VideoKey(id), func() error {
		video, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if video.Status.IsInFlight() {
			s.dispatcher.Cancel(ctx, queue.TypeVideoUpload, id.String())
		}

		deleted, err := s.videos.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete video: %w", err)
		}
		if !deleted {
			return domain.NotFoundf("video %s not found", id)
		}
		return nil
	})
}

// Categories returns the supported category names and their platform ids
func (s *VideoService) Categories() map[string]string {
	return youtube.Categories()
}

func (s *VideoService) session(ctx context.Context, accountID uuid.UUID) (youtube.Session, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, domain.NotFoundf("account %s not found", accountID)
	}
	if !account.HasUploadCredentials() {
		return nil, domain.NewError(domain.KindAuth, "account has no upload credentials", nil)
	}
	return s.open(ctx, account)
}

// mutate runs a locked read-modify-write cycle on one video
func (s *VideoService) mutate(ctx context.Context, id uuid.UUID, fn func(v *domain.Video) error) error {
	return withLock(ctx, s.locker, lock.VideoKey(id), func() error {
		video, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(video); err != nil {
			return err
		}
		video.UpdatedAt = s.now().UTC()
		return s.videos.Update(ctx, video)
	})
}

// checkUploader verifies that account may upload and holds credentials
func checkUploader(account *domain.Account, id uuid.UUID) error {
	if account == nil {
		return domain.Validationf("account %s not found", id)
	}
	if !account.Status.CanUpload() {
		return domain.InvalidStatef("account in status %s cannot upload", account.Status)
	}
	if !account.HasUploadCredentials() {
		return domain.NewError(domain.KindAuth, "account has no upload credentials", nil)
	}
	return nil
}

func titleFromFile(name string) string {
	base := filepath.Base(name)
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" || title == "." {
		return "Untitled"
	}
	return title
}

// ReapStale fails in-flight videos whose progress has not moved since
// before. Their transfers are cancelled first when this process owns them.
func (s *VideoService) ReapStale(ctx context.Context, before time.Time) (int, error) {
	stale, err := s.videos.ListStale(ctx, before)
	if err != nil {
		return 0, err
	}

	for _, v := range stale {
		s.dispatcher.Cancel(ctx, queue.TypeVideoUpload, v.ID.String())
		s.fail(ctx, v.ID, v.AttemptID, fmt.Errorf("upload stalled since %s", v.UpdatedAt.UTC().Format(time.RFC3339)))
	}
	return len(stale), nil
}
