package emailvalidator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ProxyProvider returns a SOCKS5 egress for SMTP probes, or an empty host
// when none is available
type ProxyProvider func(ctx context.Context) (host string, port int, err error)

// ReacherConfig configures a Reacher compatible check_email endpoint
type ReacherConfig struct {
	URL           string
	Secret        string
	Timeout       time.Duration
	ProxyProvider ProxyProvider
	HTTPClient    *http.Client
}

// Reacher validates deliverability through a remote SMTP probing service
type Reacher struct {
	url    string
	secret string
	client *http.Client
	proxy  ProxyProvider
}

// NewReacher creates a Reacher validator. SMTP probes can take a minute on
// greylisting servers, so the default timeout is generous.
func NewReacher(cfg ReacherConfig) *Reacher {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Reacher{
		url:    strings.TrimSuffix(cfg.URL, "/"),
		secret: cfg.Secret,
		client: client,
		proxy:  cfg.ProxyProvider,
	}
}

// Validate implements Validator
func (v *Reacher) Validate(ctx context.Context, email string) (*Result, error) {
	body, _ := sjson.Set("", "to_email", email)

	if v.proxy != nil {
		if host, port, err := v.proxy(ctx); err == nil && host != "" && port > 0 {
			body, _ = sjson.Set(body, "proxy.host", host)
			body, _ = sjson.Set(body, "proxy.port", port)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url+"/v0/check_email", strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if v.secret != "" {
		req.Header.Set("x-reacher-secret", v.secret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("email check failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read email check response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("email check returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return mapResponse(email, gjson.ParseBytes(data)), nil
}

func mapResponse(email string, r gjson.Result) *Result {
	res := &Result{
		Email:       email,
		Deliverable: r.Get("smtp.is_deliverable").Bool() && r.Get("is_reachable").String() == "safe",
		Disposable:  r.Get("misc.is_disposable").Bool(),
	}
	if n := r.Get("syntax.normalized_email").String(); n != "" {
		res.Email = n
	}

	switch r.Get("is_reachable").String() {
	case "safe":
		res.Status = StatusValid
	case "risky":
		res.Status = StatusRisky
	case "invalid":
		res.Status = StatusInvalid
	default:
		res.Status = StatusUnknown
	}

	switch {
	case !r.Get("syntax.is_valid_syntax").Bool():
		res.Status = StatusInvalid
		res.Reason = "invalid syntax"
	case !r.Get("mx.accepts_mail").Bool():
		res.Reason = "domain does not accept mail"
	case r.Get("smtp.is_disabled").Bool():
		res.Status = StatusInvalid
		res.Reason = "mailbox disabled"
	case !r.Get("smtp.is_deliverable").Bool():
		res.Reason = "not deliverable"
	case res.Disposable:
		res.Reason = "disposable email"
	case r.Get("smtp.is_catch_all").Bool():
		res.Status = StatusCatchAll
		res.Reason = "catch-all domain"
	}

	return res
}
