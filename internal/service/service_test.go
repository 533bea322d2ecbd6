package service_test

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/mystic-shorts/internal/cache"
	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/lock"
	"github.com/sadewadee/mystic-shorts/internal/proxypool"
	"github.com/sadewadee/mystic-shorts/internal/queue"
	"github.com/sadewadee/mystic-shorts/internal/repository"
	"github.com/sadewadee/mystic-shorts/internal/repository/sqlite"
	"github.com/sadewadee/mystic-shorts/internal/secret"
	"github.com/sadewadee/mystic-shorts/internal/service"
	"github.com/sadewadee/mystic-shorts/internal/storage"
	"github.com/sadewadee/mystic-shorts/internal/youtube"
)

// checkURL is only ever reached through the proxy under test
const checkURL = "http://check.invalid/ip"

type env struct {
	svc        *service.Services
	repos      *repository.Repositories
	dispatcher *queue.Local
	platform   *fakePlatform
	files      *storage.Local
	notifier   *recorder
	sealer     secret.Sealer
	locks      *countingLocker
}

type envOption func(*service.Components)

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()

	db, err := sqlite.OpenConnection(filepath.Join(t.TempDir(), "farm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.RunMigrations(db))

	repos := repository.NewRepositories(db)

	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	sealer, err := secret.NewAEAD("test-key")
	require.NoError(t, err)

	dispatcher := queue.NewLocal(4)
	t.Cleanup(func() { dispatcher.Close() })

	e := &env{
		repos:      repos,
		dispatcher: dispatcher,
		platform:   newFakePlatform(),
		files:      files,
		notifier:   &recorder{},
		sealer:     sealer,
		locks:      &countingLocker{Locker: lock.NewLocal(), released: make(map[string]int)},
	}

	deps := service.Deps{
		Stores:     service.NewStores(repos),
		Dispatcher: dispatcher,
		Locker:     e.locks,
		Sealer:     sealer,
		Notifier:   e.notifier,
		Cache:      cache.NewMemoryCache(),
	}

	components := service.Components{
		Account:  service.AccountConfig{Warmer: service.DelayWarmer{}},
		Platform: e.platform,
		Proxies:  proxypool.NewManager(repos.Proxies, proxypool.Config{CheckURL: checkURL, CheckTimeout: 5 * time.Second}, e.notifier),
		Files:    files,
	}
	for _, opt := range opts {
		opt(&components)
	}

	e.svc = service.New(deps, components)
	e.svc.RegisterTasks(dispatcher)
	return e
}

// activeAccount creates a verified account holding an upload token
func (e *env) activeAccount(t *testing.T, email, token string) *domain.Account {
	t.Helper()
	ctx := context.Background()

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{
		Email:       email,
		Password:    "hunter22",
		UploadToken: &token,
	})
	require.NoError(t, err)

	a, err = e.svc.Accounts.Verify(ctx, a.ID, "+15550100")
	require.NoError(t, err)
	return a
}

// storedFile saves content in the file store and returns its reference
func (e *env) storedFile(t *testing.T, name, content string) string {
	t.Helper()
	ref, err := e.files.Save(context.Background(), name, strings.NewReader(content))
	require.NoError(t, err)
	return ref
}

func (e *env) logActions(t *testing.T, accountID uuid.UUID) []domain.LogAction {
	t.Helper()
	entries, _, err := e.svc.Accounts.Logs(context.Background(), accountID, 100, 0)
	require.NoError(t, err)

	actions := make([]domain.LogAction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		actions = append(actions, entries[i].Action)
	}
	return actions
}

// countingLocker counts releases per key so tests can tell when a
// background write has finished
type countingLocker struct {
	lock.Locker

	mu       sync.Mutex
	released map[string]int
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := l.Locker.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	return func() {
		unlock()
		l.mu.Lock()
		l.released[key]++
		l.mu.Unlock()
	}, nil
}

func (l *countingLocker) releases(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released[key]
}

// recorder collects notified events
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Notify(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// fakePlatform is an in-memory upload target
type fakePlatform struct {
	mu        sync.Mutex
	opens     int
	uploads   int
	failNext  error
	block     bool
	privacy   map[string]string
	metadata  map[string]domain.VideoMetadata
	progress  []int
	uploaded  []string
	lastProxy *domain.Proxy
	// hooks run in order, one per Upload call, before the transfer
	hooks []func(ctx context.Context) error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		privacy:  make(map[string]string),
		metadata: make(map[string]domain.VideoMetadata),
	}
}

func (p *fakePlatform) Open(_ context.Context, token string, proxy *domain.Proxy) (youtube.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opens++
	p.lastProxy = proxy
	if token == "revoked" {
		return nil, domain.NewError(domain.KindAuth, "token revoked", nil)
	}
	return &fakeSession{p: p}, nil
}

func (p *fakePlatform) failOnce(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

func (p *fakePlatform) blockUploads() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block = true
}

func (p *fakePlatform) onUpload(hooks ...func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hooks...)
}

func (p *fakePlatform) snapshot() (uploads int, progress []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploads, append([]int(nil), p.progress...)
}

type fakeSession struct {
	p *fakePlatform
}

func (s *fakeSession) Upload(ctx context.Context, r io.Reader, _ int64, meta domain.VideoMetadata, progress func(int)) (*youtube.UploadResult, error) {
	s.p.mu.Lock()
	block := s.p.block
	fail := s.p.failNext
	s.p.failNext = nil
	var hook func(ctx context.Context) error
	if len(s.p.hooks) > 0 {
		hook, s.p.hooks = s.p.hooks[0], s.p.hooks[1:]
	}
	s.p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	for _, pct := range []int{25, 50, 75, 99} {
		progress(pct)
		s.p.mu.Lock()
		s.p.progress = append(s.p.progress, pct)
		s.p.mu.Unlock()
	}

	if fail != nil {
		return nil, fail
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.uploads++
	id := fmt.Sprintf("remote-%d", s.p.uploads)
	s.p.metadata[id] = meta
	s.p.privacy[id] = meta.Privacy
	s.p.uploaded = append(s.p.uploaded, string(data))
	return &youtube.UploadResult{ID: id, URL: youtube.WatchURL(id)}, nil
}

func (s *fakeSession) UpdateMetadata(_ context.Context, remoteID string, meta domain.VideoMetadata) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if _, ok := s.p.metadata[remoteID]; !ok {
		return domain.NotFoundf("video %s not found", remoteID)
	}
	s.p.metadata[remoteID] = meta
	return nil
}

func (s *fakeSession) SetPrivacy(_ context.Context, remoteID, privacy string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if _, ok := s.p.metadata[remoteID]; !ok {
		return domain.NotFoundf("video %s not found", remoteID)
	}
	s.p.privacy[remoteID] = privacy
	return nil
}
