package proxypool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const (
	// DefaultCheckURL echoes the caller's egress address
	DefaultCheckURL = "https://httpbin.org/ip"

	// DefaultCheckTimeout bounds one probe
	DefaultCheckTimeout = 30 * time.Second
)

// Checker probes a proxy with one outbound request
type Checker struct {
	checkURL string
	timeout  time.Duration
	now      func() time.Time
}

// NewChecker creates a Checker. Zero values select the defaults.
func NewChecker(checkURL string, timeout time.Duration) *Checker {
	if checkURL == "" {
		checkURL = DefaultCheckURL
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{checkURL: checkURL, timeout: timeout, now: time.Now}
}

// Check performs the probe. It never fails: any error yields a not-working
// result, and CheckedAt is always set.
func (c *Checker) Check(ctx context.Context, p *domain.Proxy) (health domain.ProxyHealth) {
	defer func() { health.CheckedAt = c.now().UTC() }()

	transport, err := Transport(p)
	if err != nil {
		return health
	}
	transport.DisableKeepAlives = true
	defer transport.CloseIdleConnections()
	client := &http.Client{Timeout: c.timeout, Transport: transport}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := c.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.checkURL, nil)
	if err != nil {
		return health
	}

	resp, err := client.Do(req)
	if err != nil {
		return health
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return health
	}

	elapsed := c.now().Sub(started).Seconds()
	health.Working = true
	health.ResponseTime = &elapsed
	return health
}

// HTTPClient returns a client whose traffic egresses through p. A nil proxy
// yields a direct client.
func HTTPClient(p *domain.Proxy, timeout time.Duration) (*http.Client, error) {
	transport, err := Transport(p)
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// Transport builds an http.Transport routed through p
func Transport(p *domain.Proxy) (*http.Transport, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	if p == nil {
		transport.Proxy = http.ProxyFromEnvironment
		return transport, nil
	}

	switch p.Type {
	case domain.ProxyTypeSOCKS5:
		dialer, err := Dialer(p)
		if err != nil {
			return nil, err
		}
		transport.DialContext = dialer.DialContext

	case domain.ProxyTypeHTTP, "":
		transport.Proxy = http.ProxyURL(p.URL())

	default:
		return nil, fmt.Errorf("unsupported proxy type %q", p.Type)
	}

	return transport, nil
}
