package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// TaskAPI speaks the JSON createTask/getTaskResult protocol shared by
// Anti-Captcha and CapMonster
type TaskAPI struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTaskAPI creates a JSON task protocol backend rooted at baseURL
func NewTaskAPI(name, baseURL string, cfg BackendConfig) *TaskAPI {
	return &TaskAPI{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient(cfg.HTTPClient),
	}
}

func (b *TaskAPI) Name() string { return b.name }

func (b *TaskAPI) CreateTask(ctx context.Context, p domain.CaptchaPayload) (string, error) {
	task, err := taskJSON(p)
	if err != nil {
		return "", err
	}

	body, _ := sjson.Set(`{}`, "clientKey", b.apiKey)
	body, err = sjson.SetRaw(body, "task", task)
	if err != nil {
		return "", fmt.Errorf("failed to build task: %w", err)
	}

	res, err := b.call(ctx, "/createTask", body)
	if err != nil {
		return "", err
	}

	id := res.Get("taskId")
	if !id.Exists() {
		return "", externalf(b.name, "createTask returned no taskId")
	}
	return id.String(), nil
}

func (b *TaskAPI) PollSolution(ctx context.Context, taskID string) (PollResult, error) {
	body, _ := sjson.Set(`{}`, "clientKey", b.apiKey)
	if _, err := strconv.ParseInt(taskID, 10, 64); err == nil {
		body, _ = sjson.SetRaw(body, "taskId", taskID)
	} else {
		body, _ = sjson.Set(body, "taskId", taskID)
	}

	res, err := b.call(ctx, "/getTaskResult", body)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return PollResult{Status: PollFailed, Reason: apiErr.Error()}, nil
		}
		return PollResult{}, err
	}

	if res.Get("status").String() != "ready" {
		return PollResult{Status: PollPending}, nil
	}

	out := PollResult{Status: PollReady}
	for _, path := range []string{"solution.gRecaptchaResponse", "solution.token", "solution.text"} {
		if v := res.Get(path); v.Exists() && v.String() != "" {
			out.Solution = v.String()
			break
		}
	}
	if out.Solution == "" {
		return PollResult{Status: PollFailed, Reason: "ready without solution"}, nil
	}
	if cost := res.Get("cost"); cost.Exists() {
		c := cost.Float()
		out.Cost = &c
	}
	return out, nil
}

func (b *TaskAPI) Balance(ctx context.Context) (float64, error) {
	body, _ := sjson.Set(`{}`, "clientKey", b.apiKey)

	res, err := b.call(ctx, "/getBalance", body)
	if err != nil {
		return 0, err
	}

	balance := res.Get("balance")
	if !balance.Exists() {
		return 0, externalf(b.name, "getBalance returned no balance")
	}
	return balance.Float(), nil
}

// apiError is a response with a non-zero errorId
type apiError struct {
	backend     string
	code        string
	description string
}

func (e *apiError) Error() string {
	if e.description != "" {
		return fmt.Sprintf("%s %s: %s", e.backend, e.code, e.description)
	}
	return fmt.Sprintf("%s %s", e.backend, e.code)
}

func (b *TaskAPI) call(ctx context.Context, path, body string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewBufferString(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return gjson.Result{}, domain.NewError(domain.KindExternalService, b.name+" request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, domain.NewError(domain.KindExternalService, b.name+" read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, externalf(b.name, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, externalf(b.name, "invalid JSON response")
	}

	res := gjson.ParseBytes(data)
	if res.Get("errorId").Int() != 0 {
		return res, domain.NewError(domain.KindExternalService, b.name+" rejected the request", &apiError{
			backend:     b.name,
			code:        res.Get("errorCode").String(),
			description: res.Get("errorDescription").String(),
		})
	}
	return res, nil
}

func taskJSON(p domain.CaptchaPayload) (string, error) {
	var (
		task string
		err  error
	)

	set := func(path string, value any) {
		if err == nil {
			task, err = sjson.Set(task, path, value)
		}
	}

	task = `{}`
	switch p.Kind {
	case domain.CaptchaImage:
		set("type", "ImageToTextTask")
		set("body", p.Image)
	case domain.CaptchaRecaptchaV2:
		set("type", "NoCaptchaTaskProxyless")
		set("websiteURL", p.PageURL)
		set("websiteKey", p.SiteKey)
	case domain.CaptchaRecaptchaV3:
		set("type", "RecaptchaV3TaskProxyless")
		set("websiteURL", p.PageURL)
		set("websiteKey", p.SiteKey)
		set("minScore", minScore(p))
		if p.Action != "" {
			set("pageAction", p.Action)
		}
	case domain.CaptchaHCaptcha:
		set("type", "HCaptchaTaskProxyless")
		set("websiteURL", p.PageURL)
		set("websiteKey", p.SiteKey)
	default:
		return "", domain.Validationf("unsupported captcha kind %q", p.Kind)
	}

	if err != nil {
		return "", fmt.Errorf("failed to build task: %w", err)
	}
	return task, nil
}
