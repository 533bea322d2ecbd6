// Package service implements the account lifecycle, upload pipeline,
// captcha and proxy operations on top of the repositories. Long-running
// work is handed to a queue.Dispatcher; the task handlers live next to the
// operations that schedule them.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/cache"
	"github.com/sadewadee/mystic-shorts/internal/captcha"
	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/lock"
	"github.com/sadewadee/mystic-shorts/internal/proxypool"
	"github.com/sadewadee/mystic-shorts/internal/queue"
	"github.com/sadewadee/mystic-shorts/internal/repository"
	"github.com/sadewadee/mystic-shorts/internal/secret"
	"github.com/sadewadee/mystic-shorts/internal/storage"
	"github.com/sadewadee/mystic-shorts/internal/youtube"
)

// Stores groups the repositories used by the services
type Stores struct {
	Accounts     domain.AccountRepository
	AccountLogs  domain.AccountLogRepository
	Videos       domain.VideoRepository
	Proxies      domain.ProxyRepository
	ProxySources domain.ProxySourceRepository
	CaptchaTasks domain.CaptchaTaskRepository
}

// NewStores exposes the sqlx repositories as Stores
func NewStores(r *repository.Repositories) Stores {
	return Stores{
		Accounts:     r.Accounts,
		AccountLogs:  r.AccountLogs,
		Videos:       r.Videos,
		Proxies:      r.Proxies,
		ProxySources: r.ProxySources,
		CaptchaTasks: r.CaptchaTasks,
	}
}

// Deps are the collaborators shared by every service
type Deps struct {
	Stores     Stores
	Dispatcher queue.Dispatcher
	Locker     lock.Locker
	Sealer     secret.Sealer
	Notifier   domain.Notifier
	Cache      cache.Cache
}

func (d Deps) withDefaults() Deps {
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if d.Sealer == nil {
		d.Sealer = secret.Plain{}
	}
	if d.Notifier == nil {
		d.Notifier = domain.NopNotifier{}
	}
	if d.Cache == nil {
		d.Cache = cache.NewNoOpCache()
	}
	return d
}

// Services bundles the service layer
type Services struct {
	Accounts *AccountService
	Videos   *VideoService
	Captcha  *CaptchaService
	Proxies  *ProxyService
}

// Components are the external collaborators of the services
type Components struct {
	Account  AccountConfig
	Platform youtube.Platform
	Proxies  *proxypool.Manager
	Importer *proxypool.Importer
	Files    storage.Store
	Captcha  *captcha.Gateway
}

// New creates every service over the same dependencies
func New(d Deps, c Components) *Services {
	return &Services{
		Accounts: NewAccountService(d, c.Account),
		Videos:   NewVideoService(d, c.Platform, c.Proxies, c.Files),
		Captcha:  NewCaptchaService(d, c.Captcha),
		Proxies:  NewProxyService(d, c.Proxies, c.Importer),
	}
}

// RegisterTasks binds every background task handler to r
func (s *Services) RegisterTasks(r queue.Registrar) {
	r.Handle(queue.TypeAccountWarmup, s.Accounts.runWarmup)
	r.Handle(queue.TypeVideoUpload, s.Videos.runUpload)
	r.Handle(queue.TypeCaptchaSolve, s.Captcha.runSolve)
	r.Handle(queue.TypeProxyHealthCheck, s.Proxies.runHealthCheck)
}

// audit appends account log entries. Failures are logged and swallowed.
type audit struct {
	logs domain.AccountLogRepository
	now  func() time.Time
}

func (a audit) record(ctx context.Context, accountID uuid.UUID, action domain.LogAction, level domain.LogLevel, msg string, meta domain.Metadata) {
	entry := &domain.AccountLog{
		AccountID: accountID,
		Action:    action,
		Message:   msg,
		Level:     level,
		Metadata:  meta,
		CreatedAt: a.now().UTC(),
	}

	// entries outlive a cancelled request
	if err := a.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"account_id": accountID,
			"action":     action,
		}).Error("failed to append account log")
	}
}

// withLock runs fn while holding key
func withLock(ctx context.Context, l lock.Locker, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer unlock()
	return fn()
}

func parseEntityID(p *queue.Payload) (uuid.UUID, error) {
	id, err := uuid.Parse(p.EntityID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid entity id %q: %w", p.EntityID, err)
	}
	return id, nil
}

func ptr[T any](v T) *T { return &v }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	return ptr(err.Error())
}
