package proxypool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

var (
	ipPortRe  = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3}){3}):(\d{2,5})$`)
	ipOnlyRe  = regexp.MustCompile(`^\d{1,3}(?:\.\d{1,3}){3}$`)
	countryRe = regexp.MustCompile(`^[A-Z]{2}$`)
)

const maxSourceBytes = 8 << 20

// Importer pulls proxy lists from source URLs. Plain lists hold one entry
// per line (host:port or scheme://[user:pass@]host:port); HTML sources are
// parsed as tables.
type Importer struct {
	client *http.Client
}

// NewImporter creates an Importer
func NewImporter(client *http.Client) *Importer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Importer{client: client}
}

// Fetch downloads and parses one source
func (im *Importer) Fetch(ctx context.Context, src *domain.ProxySource) ([]*domain.Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.8")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	defType := src.Type
	if !defType.IsValid() {
		defType = domain.ProxyTypeHTTP
	}

	var proxies []*domain.Proxy
	if isHTML(resp.Header.Get("Content-Type"), body) {
		proxies, err = ParseHTML(bytes.NewReader(body), defType)
		if err != nil {
			return nil, err
		}
	} else {
		proxies = ParseList(bytes.NewReader(body), defType)
	}

	for _, p := range proxies {
		if p.Country == nil && src.Country != nil {
			c := *src.Country
			p.Country = &c
		}
	}
	return proxies, nil
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "html") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

// ParseList parses a line based list. Blank lines and # comments are skipped.
func ParseList(r io.Reader, defType domain.ProxyType) []*domain.Proxy {
	var out []*domain.Proxy

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseProxy(line, defType)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ParseHTML extracts proxies from table rows: either an ip:port cell, or an
// ip cell followed by a port cell. A two-letter cell is taken as country.
func ParseHTML(r io.Reader, defType domain.ProxyType) ([]*domain.Proxy, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []*domain.Proxy
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		if p := proxyFromCells(cells, defType); p != nil {
			out = append(out, p)
		}
	})
	return out, nil
}

func proxyFromCells(cells []string, defType domain.ProxyType) *domain.Proxy {
	var p *domain.Proxy

	for i, cell := range cells {
		if m := ipPortRe.FindStringSubmatch(cell); m != nil {
			port, _ := strconv.Atoi(m[2])
			p = newProxy(m[1], port, defType)
			break
		}
		if ipOnlyRe.MatchString(cell) && i+1 < len(cells) {
			port, err := strconv.Atoi(cells[i+1])
			if err == nil && port > 0 && port <= 65535 {
				p = newProxy(cell, port, defType)
				break
			}
		}
	}
	if p == nil {
		return nil
	}

	for _, cell := range cells {
		lower := strings.ToLower(cell)
		switch {
		case countryRe.MatchString(cell) && p.Country == nil:
			c := cell
			p.Country = &c
		case strings.Contains(lower, "socks5"):
			p.Type = domain.ProxyTypeSOCKS5
		}
	}
	return p
}

// ParseProxy parses host:port or scheme://[user:pass@]host:port
func ParseProxy(raw string, defType domain.ProxyType) (*domain.Proxy, error) {
	if !strings.Contains(raw, "://") {
		raw = string(defType) + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, domain.Validationf("invalid proxy %q: %v", raw, err)
	}

	typ := domain.ProxyType(strings.ToLower(u.Scheme))
	if typ == "https" {
		typ = domain.ProxyTypeHTTP
	}
	if !typ.IsValid() {
		return nil, domain.Validationf("unsupported proxy scheme %q", u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return nil, domain.Validationf("invalid proxy address %q", u.Host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, domain.Validationf("invalid proxy port %q", portStr)
	}

	p := newProxy(host, port, typ)
	if u.User != nil {
		user := u.User.Username()
		p.Username = &user
		if pass, ok := u.User.Password(); ok {
			p.Password = &pass
		}
	}
	return p, nil
}

func newProxy(host string, port int, typ domain.ProxyType) *domain.Proxy {
	return &domain.Proxy{
		Host:      host,
		Port:      port,
		Type:      typ,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}

// Import fetches src and upserts every proxy found. Returns the stored proxies.
func (m *Manager) Import(ctx context.Context, im *Importer, src *domain.ProxySource) ([]*domain.Proxy, error) {
	proxies, err := im.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	stored := make([]*domain.Proxy, 0, len(proxies))
	for _, p := range proxies {
		if err := m.repo.Upsert(ctx, p); err != nil {
			log.WithError(err).WithField("proxy", p.String()).Warn("failed to store imported proxy")
			continue
		}
		stored = append(stored, p)
	}

	log.WithFields(log.Fields{"source": src.URL, "found": len(proxies), "stored": len(stored)}).Info("proxy source imported")
	return stored, nil
}
