package captcha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const twoCaptchaNotReady = "CAPCHA_NOT_READY"

// TwoCaptcha speaks the form-encoded in.php/res.php protocol
type TwoCaptcha struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTwoCaptcha creates a 2captcha backend
func NewTwoCaptcha(cfg BackendConfig) *TwoCaptcha {
	return &TwoCaptcha{
		baseURL: defaultURL(cfg.BaseURL, "http://2captcha.com"),
		apiKey:  cfg.APIKey,
		client:  httpClient(cfg.HTTPClient),
	}
}

func (b *TwoCaptcha) Name() string { return ServiceTwoCaptcha }

func (b *TwoCaptcha) CreateTask(ctx context.Context, p domain.CaptchaPayload) (string, error) {
	form := url.Values{}
	form.Set("key", b.apiKey)

	switch p.Kind {
	case domain.CaptchaImage:
		form.Set("method", "base64")
		form.Set("body", p.Image)
	case domain.CaptchaRecaptchaV2:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", p.SiteKey)
		form.Set("pageurl", p.PageURL)
	case domain.CaptchaRecaptchaV3:
		form.Set("method", "userrecaptcha")
		form.Set("version", "v3")
		form.Set("googlekey", p.SiteKey)
		form.Set("pageurl", p.PageURL)
		if p.Action != "" {
			form.Set("action", p.Action)
		}
		form.Set("min_score", strconv.FormatFloat(minScore(p), 'f', 1, 64))
	case domain.CaptchaHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", p.SiteKey)
		form.Set("pageurl", p.PageURL)
	default:
		return "", domain.Validationf("unsupported captcha kind %q", p.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := b.do(req)
	if err != nil {
		return "", err
	}

	id, ok := strings.CutPrefix(body, "OK|")
	if !ok || id == "" {
		return "", externalf(b.Name(), "create task rejected: %s", body)
	}
	return id, nil
}

func (b *TwoCaptcha) PollSolution(ctx context.Context, taskID string) (PollResult, error) {
	q := url.Values{}
	q.Set("key", b.apiKey)
	q.Set("action", "get")
	q.Set("id", taskID)

	body, err := b.get(ctx, q)
	if err != nil {
		return PollResult{}, err
	}

	if body == twoCaptchaNotReady {
		return PollResult{Status: PollPending}, nil
	}
	if solution, ok := strings.CutPrefix(body, "OK|"); ok {
		return PollResult{Status: PollReady, Solution: solution}, nil
	}
	return PollResult{Status: PollFailed, Reason: body}, nil
}

func (b *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("key", b.apiKey)
	q.Set("action", "getbalance")

	body, err := b.get(ctx, q)
	if err != nil {
		return 0, err
	}

	balance, err := strconv.ParseFloat(strings.TrimPrefix(body, "OK|"), 64)
	if err != nil {
		return 0, externalf(b.Name(), "unexpected balance response: %s", body)
	}
	return balance, nil
}

func (b *TwoCaptcha) get(ctx context.Context, q url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/res.php?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	return b.do(req)
}

func (b *TwoCaptcha) do(req *http.Request) (string, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return "", domain.NewError(domain.KindExternalService, "2captcha request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.NewError(domain.KindExternalService, "2captcha read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", externalf(b.Name(), "status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return strings.TrimSpace(string(data)), nil
}

func minScore(p domain.CaptchaPayload) float64 {
	if p.MinScore <= 0 {
		return 0.3
	}
	return p.MinScore
}
