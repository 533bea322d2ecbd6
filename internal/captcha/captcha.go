// Package captcha puts the supported captcha-solving services behind one
// create/poll contract and implements the solve-and-wait loop on top of it.
package captcha

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// Service names accepted by New
const (
	ServiceTwoCaptcha  = "2captcha"
	ServiceAntiCaptcha = "anticaptcha"
	ServiceCapMonster  = "capmonster"
)

// PollStatus is the state a backend reports for a task
type PollStatus int

const (
	PollPending PollStatus = iota
	PollReady
	PollFailed
)

func (s PollStatus) String() string {
	switch s {
	case PollReady:
		return "ready"
	case PollFailed:
		return "failed"
	}
	return "pending"
}

// PollResult is one pollSolution answer. Solution is set when Status is
// PollReady, Reason when it is PollFailed.
type PollResult struct {
	Status   PollStatus
	Solution string
	Cost     *float64
	Reason   string
}

// Backend is a captcha solving service. A returned error is a transport or
// protocol failure; a backend-side verdict that the task cannot be solved is
// reported as PollFailed.
type Backend interface {
	Name() string
	CreateTask(ctx context.Context, payload domain.CaptchaPayload) (string, error)
	PollSolution(ctx context.Context, taskID string) (PollResult, error)
	Balance(ctx context.Context) (float64, error)
}

// BackendConfig holds the settings shared by every backend
type BackendConfig struct {
	APIKey string
	// BaseURL overrides the service endpoint
	BaseURL    string
	HTTPClient *http.Client
}

type constructor func(BackendConfig) Backend

var registry = map[string]constructor{
	ServiceTwoCaptcha: func(cfg BackendConfig) Backend { return NewTwoCaptcha(cfg) },
	ServiceAntiCaptcha: func(cfg BackendConfig) Backend {
		return NewTaskAPI(ServiceAntiCaptcha, defaultURL(cfg.BaseURL, "https://api.anti-captcha.com"), cfg)
	},
	ServiceCapMonster: func(cfg BackendConfig) Backend {
		return NewTaskAPI(ServiceCapMonster, defaultURL(cfg.BaseURL, "https://api.capmonster.cloud"), cfg)
	},
}

// New returns the backend registered under service
func New(service string, cfg BackendConfig) (Backend, error) {
	ctor, ok := registry[strings.ToLower(service)]
	if !ok {
		return nil, domain.Validationf("unsupported captcha service %q (supported: %s)", service, strings.Join(Services(), ", "))
	}
	if cfg.APIKey == "" {
		return nil, domain.Validationf("captcha service %s requires an API key", service)
	}
	return ctor(cfg), nil
}

// Services lists the registered service names
func Services() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func defaultURL(override, def string) string {
	if override != "" {
		return strings.TrimSuffix(override, "/")
	}
	return def
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// ValidatePayload checks that payload carries what its kind needs
func ValidatePayload(p domain.CaptchaPayload) error {
	if !p.Kind.IsValid() {
		return domain.Validationf("unsupported captcha kind %q", p.Kind)
	}

	switch p.Kind {
	case domain.CaptchaImage:
		if p.Image == "" {
			return domain.Validationf("image captcha requires image data")
		}
	default:
		if p.SiteKey == "" || p.PageURL == "" {
			return domain.Validationf("%s captcha requires site_key and page_url", p.Kind)
		}
		if p.MinScore < 0 || p.MinScore > 1 {
			return domain.Validationf("min_score must be between 0 and 1")
		}
	}
	return nil
}

func externalf(backend string, format string, args ...any) error {
	return domain.NewError(domain.KindExternalService, fmt.Sprintf("%s: %s", backend, fmt.Sprintf(format, args...)), nil)
}
