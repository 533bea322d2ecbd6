package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// ProxyType is the wire protocol of a proxy
type ProxyType string

const (
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeSOCKS5 ProxyType = "socks5"
)

// IsValid returns true if t is a supported proxy type
func (t ProxyType) IsValid() bool {
	return t == ProxyTypeHTTP || t == ProxyTypeSOCKS5
}

// Proxy is a network egress point. IsWorking is advisory and only refreshed
// by explicit health checks.
type Proxy struct {
	ID           int64      `json:"id" db:"id"`
	Host         string     `json:"host" db:"host"`
	Port         int        `json:"port" db:"port"`
	Username     *string    `json:"username,omitempty" db:"username"`
	Password     *string    `json:"-" db:"password"`
	Type         ProxyType  `json:"proxy_type" db:"proxy_type"`
	Country      *string    `json:"country,omitempty" db:"country"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	IsWorking    bool       `json:"is_working" db:"is_working"`
	LastChecked  *time.Time `json:"last_checked,omitempty" db:"last_checked"`
	ResponseTime *float64   `json:"response_time,omitempty" db:"response_time"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Addr returns host:port
func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy URL including credentials when present
func (p *Proxy) URL() *url.URL {
	u := &url.URL{Scheme: string(p.Type), Host: p.Addr()}
	if p.Type == "" {
		u.Scheme = string(ProxyTypeHTTP)
	}
	if p.Username != nil && *p.Username != "" {
		pass := ""
		if p.Password != nil {
			pass = *p.Password
		}
		u.User = url.UserPassword(*p.Username, pass)
	}
	return u
}

// String returns a credential-free representation for logs
func (p *Proxy) String() string {
	return fmt.Sprintf("%s://%s", p.Type, p.Addr())
}

// IsFresh returns true if the proxy was checked within window of now
func (p *Proxy) IsFresh(window time.Duration, now time.Time) bool {
	if p.LastChecked == nil {
		return false
	}
	return now.Sub(*p.LastChecked) <= window
}

// IsUsable returns true if the proxy is active and passed its last check
func (p *Proxy) IsUsable() bool {
	return p.IsActive && p.IsWorking
}

// ProxyHealth is the outcome of a single health check
type ProxyHealth struct {
	Working      bool
	ResponseTime *float64
	CheckedAt    time.Time
}

// ProxyListParams contains parameters for listing proxies
type ProxyListParams struct {
	Country     *string
	ActiveOnly  bool
	WorkingOnly bool
	Limit       int
	Offset      int
}

// ProxyStats aggregates proxy health counters
type ProxyStats struct {
	Total           int      `json:"total"`
	Active          int      `json:"active"`
	Working         int      `json:"working"`
	AvgResponseTime *float64 `json:"avg_response_time,omitempty"`
}

// ProxySource represents a source URL for proxies
type ProxySource struct {
	ID        int64     `json:"id" db:"id"`
	URL       string    `json:"url" db:"url"`
	Type      ProxyType `json:"proxy_type" db:"proxy_type"`
	Country   *string   `json:"country,omitempty" db:"country"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
