package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/cache"
	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/proxypool"
	"github.com/sadewadee/mystic-shorts/internal/queue"
)

// healthCheckEntity keys the pool-wide sweep task so only one runs at a time
const healthCheckEntity = "all"

// AddProxyRequest holds a proxy given as host:port or a proxy URL
type AddProxyRequest struct {
	Address string           `json:"address"`
	Type    domain.ProxyType `json:"proxy_type,omitempty"`
	Country *string          `json:"country,omitempty"`
}

// AddSourceRequest holds a proxy list URL
type AddSourceRequest struct {
	URL     string           `json:"url"`
	Type    domain.ProxyType `json:"proxy_type,omitempty"`
	Country *string          `json:"country,omitempty"`
}

// ProxyService manages the stored proxy pool
type ProxyService struct {
	proxies    domain.ProxyRepository
	sources    domain.ProxySourceRepository
	dispatcher queue.Dispatcher
	cache      cache.Cache
	manager    *proxypool.Manager
	importer   *proxypool.Importer
	now        func() time.Time
}

// NewProxyService creates a ProxyService
func NewProxyService(d Deps, manager *proxypool.Manager, importer *proxypool.Importer) *ProxyService {
	d = d.withDefaults()
	if importer == nil {
		importer = proxypool.NewImporter(nil)
	}

	return &ProxyService{
		proxies:    d.Stores.Proxies,
		sources:    d.Stores.ProxySources,
		dispatcher: d.Dispatcher,
		cache:      d.Cache,
		manager:    manager,
		importer:   importer,
		now:        time.Now,
	}
}

// Add stores one proxy. A proxy with the same host and port is refreshed
// instead of duplicated.
func (s *ProxyService) Add(ctx context.Context, req *AddProxyRequest) (*domain.Proxy, error) {
	typ := req.Type
	if typ == "" {
		typ = domain.ProxyTypeHTTP
	}
	if !typ.IsValid() {
		return nil, domain.Validationf("unsupported proxy type %q", req.Type)
	}

	p, err := proxypool.ParseProxy(strings.TrimSpace(req.Address), typ)
	if err != nil {
		return nil, err
	}
	p.Country = normalizeCountry(req.Country)

	if err := s.proxies.Upsert(ctx, p); err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)

	log.WithField("proxy", p.String()).Info("proxy stored")
	return p, nil
}

// Get returns one proxy
func (s *ProxyService) Get(ctx context.Context, id int64) (*domain.Proxy, error) {
	p, err := s.proxies.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy: %w", err)
	}
	if p == nil {
		return nil, domain.NotFoundf("proxy %d not found", id)
	}
	return p, nil
}

// List returns proxies matching params
func (s *ProxyService) List(ctx context.Context, params domain.ProxyListParams) ([]*domain.Proxy, error) {
	params.Country = normalizeCountry(params.Country)
	return s.proxies.List(ctx, params)
}

// Delete removes a proxy. Accounts using it fall back to rotation.
func (s *ProxyService) Delete(ctx context.Context, id int64) error {
	deleted, err := s.proxies.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete proxy: %w", err)
	}
	if !deleted {
		return domain.NotFoundf("proxy %d not found", id)
	}
	s.invalidateStats(ctx)
	return nil
}

// Check probes one proxy now and returns it with fresh health fields
func (s *ProxyService) Check(ctx context.Context, id int64) (*domain.Proxy, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.manager.HealthCheck(ctx, p); err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	return p, nil
}

// HealthCheck schedules a sweep over every active proxy
func (s *ProxyService) HealthCheck(ctx context.Context) error {
	err := s.dispatcher.Dispatch(ctx, queue.TypeProxyHealthCheck, queue.NewPayload(healthCheckEntity))
	if errors.Is(err, queue.ErrAlreadyRunning) {
		return domain.InvalidStatef("a health check is already running")
	}
	if err != nil {
		return domain.NewError(domain.KindExternalService, "failed to schedule health check", err)
	}
	return nil
}

func (s *ProxyService) runHealthCheck(ctx context.Context, _ *queue.Payload) error {
	_, err := s.manager.CheckStored(ctx)
	s.invalidateStats(context.WithoutCancel(ctx))
	return err
}

// Select returns a working proxy, optionally for a country
func (s *ProxyService) Select(ctx context.Context, country *string) (*domain.Proxy, error) {
	p, err := s.manager.Select(ctx, normalizeCountry(country))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.NotFoundf("no working proxy available")
	}
	return p, nil
}

// Stats returns cached pool statistics
func (s *ProxyService) Stats(ctx context.Context) (*domain.ProxyStats, error) {
	return cache.Remember(ctx, s.cache, cache.Key(cache.KeyPrefixProxyStats, "all"), cache.TTLStats,
		func(ctx context.Context) (*domain.ProxyStats, error) {
			return s.proxies.GetStats(ctx)
		})
}

// AddSource stores a proxy list URL
func (s *ProxyService) AddSource(ctx context.Context, req *AddSourceRequest) (*domain.ProxySource, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, domain.Validationf("invalid source url %q", req.URL)
	}

	typ := req.Type
	if typ == "" {
		typ = domain.ProxyTypeHTTP
	}
	if !typ.IsValid() {
		return nil, domain.Validationf("unsupported proxy type %q", req.Type)
	}

	now := s.now().UTC()
	src := &domain.ProxySource{
		URL:       u.String(),
		Type:      typ,
		Country:   normalizeCountry(req.Country),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sources.Create(ctx, src); err != nil {
		return nil, err
	}
	return src, nil
}

// Sources returns every stored proxy list URL
func (s *ProxyService) Sources(ctx context.Context) ([]*domain.ProxySource, error) {
	return s.sources.List(ctx)
}

// DeleteSource removes a proxy list URL
func (s *ProxyService) DeleteSource(ctx context.Context, id int64) error {
	deleted, err := s.sources.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete proxy source: %w", err)
	}
	if !deleted {
		return domain.NotFoundf("proxy source %d not found", id)
	}
	return nil
}

// Import pulls every source and returns the number of proxies stored. A
// failing source is logged and skipped.
func (s *ProxyService) Import(ctx context.Context) (int, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, src := range sources {
		stored, err := s.manager.Import(ctx, s.importer, src)
		if err != nil {
			log.WithError(err).WithField("source", src.URL).Warn("proxy source import failed")
			continue
		}
		total += len(stored)
	}

	s.invalidateStats(ctx)
	return total, nil
}

func (s *ProxyService) invalidateStats(ctx context.Context) {
	_ = s.cache.Delete(ctx, cache.Key(cache.KeyPrefixProxyStats, "all"))
}
