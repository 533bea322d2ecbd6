// Package proxypool tracks proxy health and hands out working proxies.
package proxypool

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// Config holds pool settings
type Config struct {
	CheckURL     string
	CheckTimeout time.Duration
	Concurrency  int
	// Freshness is how long a health result is trusted before Select
	// re-probes the proxy
	Freshness time.Duration
}

// Manager implements health checking, selection and rotation on top of the
// proxy repository. Selection reads health fields without locking; stale
// values are tolerated and re-probed once they age past Freshness.
type Manager struct {
	repo        domain.ProxyRepository
	checker     *Checker
	notifier    domain.Notifier
	concurrency int
	freshness   time.Duration
	now         func() time.Time

	mu     sync.Mutex
	cursor map[string]int
}

// NewManager creates a Manager
func NewManager(repo domain.ProxyRepository, cfg Config, notifier domain.Notifier) *Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = 10 * time.Minute
	}
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}

	return &Manager{
		repo:        repo,
		checker:     NewChecker(cfg.CheckURL, cfg.CheckTimeout),
		notifier:    notifier,
		concurrency: cfg.Concurrency,
		freshness:   cfg.Freshness,
		now:         time.Now,
		cursor:      make(map[string]int),
	}
}

// HealthCheck probes p, stores the outcome and updates p in place. The
// returned error only reports a storage failure.
func (m *Manager) HealthCheck(ctx context.Context, p *domain.Proxy) (bool, error) {
	health := m.checker.Check(ctx, p)

	p.IsWorking = health.Working
	p.ResponseTime = health.ResponseTime
	checked := health.CheckedAt
	p.LastChecked = &checked

	if err := m.repo.UpdateHealth(ctx, p.ID, health); err != nil {
		return health.Working, fmt.Errorf("failed to record health of %s: %w", p, err)
	}

	log.WithFields(log.Fields{"proxy": p.String(), "working": health.Working}).Debug("proxy checked")
	return health.Working, nil
}

// HealthCheckAll checks proxies concurrently and returns the working ones in
// input order. One proxy's failure never affects another's result.
func (m *Manager) HealthCheckAll(ctx context.Context, proxies []*domain.Proxy) []*domain.Proxy {
	results := make([]bool, len(proxies))

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)

	for i, p := range proxies {
		g.Go(func() error {
			ok, err := m.HealthCheck(ctx, p)
			if err != nil {
				log.WithError(err).WithField("proxy", p.String()).Warn("proxy health not stored")
			}
			results[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	working := make([]*domain.Proxy, 0, len(proxies))
	for i, ok := range results {
		if ok {
			working = append(working, proxies[i])
		}
	}
	return working
}

// CheckStored runs HealthCheckAll over every active stored proxy
func (m *Manager) CheckStored(ctx context.Context) ([]*domain.Proxy, error) {
	proxies, err := m.repo.List(ctx, domain.ProxyListParams{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	started := m.now()
	working := m.HealthCheckAll(ctx, proxies)

	log.WithFields(log.Fields{
		"checked": len(proxies),
		"working": len(working),
		"took":    m.now().Sub(started).Round(time.Millisecond).String(),
	}).Info("proxy health sweep finished")

	m.notifier.Notify(ctx, domain.NewEvent(domain.EventProxyHealthChecked, "proxy pool",
		fmt.Sprintf("%d of %d proxies working", len(working), len(proxies))).
		WithField("checked", len(proxies)).
		WithField("working", len(working)))

	return working, nil
}

// Select returns a working, active proxy, round-robin per country. Entries
// whose health result is stale are re-probed before being returned. Returns
// nil when none qualifies.
func (m *Manager) Select(ctx context.Context, country *string) (*domain.Proxy, error) {
	return m.pick(ctx, country, nil)
}

// Rotate returns a working proxy other than current, preferring current's
// country. Returns nil when no alternative exists.
func (m *Manager) Rotate(ctx context.Context, current *domain.Proxy) (*domain.Proxy, error) {
	if current == nil {
		return m.Select(ctx, nil)
	}

	if current.Country != nil {
		p, err := m.pick(ctx, current.Country, current)
		if err != nil || p != nil {
			return p, err
		}
	}
	return m.pick(ctx, nil, current)
}

// ForAccount returns the proxy an account should egress through: its
// assigned proxy while that one works, otherwise a rotation within the
// account's country. Returns nil when the account runs direct.
func (m *Manager) ForAccount(ctx context.Context, a *domain.Account) (*domain.Proxy, error) {
	if a.ProxyID == nil {
		return nil, nil
	}

	assigned, err := m.repo.GetByID(ctx, *a.ProxyID)
	if err != nil {
		return nil, err
	}
	if assigned != nil && m.usable(ctx, assigned) {
		return assigned, nil
	}

	if assigned == nil {
		return m.Select(ctx, a.Country)
	}
	return m.Rotate(ctx, assigned)
}

func (m *Manager) pick(ctx context.Context, country *string, exclude *domain.Proxy) (*domain.Proxy, error) {
	candidates, err := m.repo.List(ctx, domain.ProxyListParams{
		Country:     country,
		ActiveOnly:  true,
		WorkingOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}

	if exclude != nil {
		filtered := candidates[:0]
		for _, p := range candidates {
			if p.ID != exclude.ID && p.Addr() != exclude.Addr() {
				filtered = append(filtered, p)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	key := "*"
	if country != nil {
		key = *country
	}
	start := m.next(key, len(candidates))

	for i := 0; i < len(candidates); i++ {
		p := candidates[(start+i)%len(candidates)]
		if m.usable(ctx, p) {
			return p, nil
		}
	}
	return nil, nil
}

// usable re-probes p when its last result is older than the freshness window
func (m *Manager) usable(ctx context.Context, p *domain.Proxy) bool {
	if !p.IsActive {
		return false
	}
	if p.IsFresh(m.freshness, m.now()) {
		return p.IsWorking
	}
	ok, err := m.HealthCheck(ctx, p)
	if err != nil {
		log.WithError(err).WithField("proxy", p.String()).Warn("proxy recheck not stored")
	}
	return ok
}

func (m *Manager) next(key string, n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.cursor[key] % n
	m.cursor[key] = i + 1
	return i
}
