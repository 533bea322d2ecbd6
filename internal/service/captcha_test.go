package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/mystic-shorts/internal/captcha"
	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/service"
)

// scriptedBackend becomes ready after readyAfter polls
type scriptedBackend struct {
	mu         sync.Mutex
	readyAfter int
	polls      int
	createErr  error
	fail       bool
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) CreateTask(context.Context, domain.CaptchaPayload) (string, error) {
	if b.createErr != nil {
		return "", b.createErr
	}
	return "remote-task", nil
}

func (b *scriptedBackend) PollSolution(context.Context, string) (captcha.PollResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.polls++
	if b.fail {
		return captcha.PollResult{Status: captcha.PollFailed, Reason: "ERROR_CAPTCHA_UNSOLVABLE"}, nil
	}
	if b.polls < b.readyAfter {
		return captcha.PollResult{Status: captcha.PollPending}, nil
	}
	cost := 0.002
	return captcha.PollResult{Status: captcha.PollReady, Solution: "w93bx", Cost: &cost}, nil
}

func (b *scriptedBackend) Balance(context.Context) (float64, error) { return 3.5, nil }

func withCaptcha(b captcha.Backend, maxAttempts int) envOption {
	return func(c *service.Components) {
		c.Captcha = captcha.NewGateway(b, captcha.Config{PollInterval: time.Millisecond, MaxAttempts: maxAttempts}, nil)
	}
}

var imagePayload = domain.CaptchaPayload{Kind: domain.CaptchaImage, Image: "aGVsbG8="}

func TestCaptchaService_Solve(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, withCaptcha(&scriptedBackend{readyAfter: 3}, 10))

	task, err := e.svc.Captcha.Solve(ctx, imagePayload)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptchaStatusSolved, task.Status)

	stored, err := e.svc.Captcha.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptchaStatusSolved, stored.Status)
	assert.Equal(t, "w93bx", *stored.Solution)
	assert.Equal(t, "remote-task", *stored.RemoteTaskID)
	assert.NotNil(t, stored.SolvedAt)
	assert.NotContains(t, *stored.Payload, "aGVsbG8=")
	assert.Contains(t, e.notifier.types(), domain.EventCaptchaSolved)
}

func TestCaptchaService_SolveTimesOut(t *testing.T) {
	ctx := context.Background()
	backend := &scriptedBackend{readyAfter: 1000}
	e := newEnv(t, withCaptcha(backend, 5))

	task, err := e.svc.Captcha.Solve(ctx, imagePayload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.Equal(t, 5, backend.polls)

	stored, err := e.svc.Captcha.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptchaStatusFailed, stored.Status)
	assert.Contains(t, e.notifier.types(), domain.EventCaptchaFailed)
}

func TestCaptchaService_SubmitRunsInBackground(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, withCaptcha(&scriptedBackend{readyAfter: 2}, 10))

	task, err := e.svc.Captcha.Submit(ctx, imagePayload)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptchaStatusPending, task.Status)

	e.dispatcher.Wait()

	stored, err := e.svc.Captcha.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaptchaStatusSolved, stored.Status)

	tasks, total, err := e.svc.Captcha.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, tasks, 1)
}

func TestCaptchaService_BackendFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal failure", func(t *testing.T) {
		e := newEnv(t, withCaptcha(&scriptedBackend{fail: true}, 10))
		task, err := e.svc.Captcha.Solve(ctx, imagePayload)
		require.Error(t, err)
		assert.True(t, errors.Is(err, captcha.ErrUnsolvable))
		assert.Equal(t, domain.CaptchaStatusFailed, task.Status)
		assert.Contains(t, *task.ErrorMessage, "ERROR_CAPTCHA_UNSOLVABLE")
	})

	t.Run("create rejected", func(t *testing.T) {
		backend := &scriptedBackend{createErr: domain.NewError(domain.KindExternalService, "ERROR_ZERO_BALANCE", nil)}
		e := newEnv(t, withCaptcha(backend, 10))
		task, err := e.svc.Captcha.Submit(ctx, imagePayload)
		require.Error(t, err)
		require.NotNil(t, task)

		stored, err := e.svc.Captcha.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CaptchaStatusFailed, stored.Status)
		assert.Nil(t, stored.RemoteTaskID)
	})

	t.Run("invalid payload", func(t *testing.T) {
		e := newEnv(t, withCaptcha(&scriptedBackend{}, 10))
		_, err := e.svc.Captcha.Solve(ctx, domain.CaptchaPayload{Kind: domain.CaptchaRecaptchaV2})
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("not configured", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Captcha.Solve(ctx, imagePayload)
		assert.True(t, errors.Is(err, domain.ErrExternalService))
		_, _, err = e.svc.Captcha.Balance(ctx)
		assert.True(t, errors.Is(err, domain.ErrExternalService))
	})

	t.Run("unknown task", func(t *testing.T) {
		e := newEnv(t, withCaptcha(&scriptedBackend{}, 10))
		_, err := e.svc.Captcha.Get(ctx, uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestCaptchaService_Balance(t *testing.T) {
	e := newEnv(t, withCaptcha(&scriptedBackend{}, 10))

	name, balance, err := e.svc.Captcha.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scripted", name)
	assert.InDelta(t, 3.5, balance, 1e-9)
}
