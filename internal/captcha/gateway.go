package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/cache"
	"github.com/sadewadee/mystic-shorts/internal/domain"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60
)

var (
	// ErrUnsolvable is wrapped by errors for tasks the backend gave up on
	ErrUnsolvable = errors.New("captcha unsolvable")

	// ErrInsufficientBalance is wrapped when the pre-flight check blocks a solve
	ErrInsufficientBalance = errors.New("insufficient captcha balance")
)

// Config holds gateway settings
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	// MinBalance blocks new tasks while the account balance is below it.
	// Zero disables the check.
	MinBalance float64
}

// Solution is a solved task
type Solution struct {
	TaskID string
	Text   string
	Cost   *float64
}

// Gateway runs the solve-and-wait protocol against one configured backend
type Gateway struct {
	backend     Backend
	cache       cache.Cache
	interval    time.Duration
	maxAttempts int
	minBalance  float64
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a Gateway. c may be nil to disable balance caching.
func NewGateway(backend Backend, cfg Config, c cache.Cache) *Gateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	return &Gateway{
		backend:     backend,
		cache:       c,
		interval:    cfg.PollInterval,
		maxAttempts: cfg.MaxAttempts,
		minBalance:  cfg.MinBalance,
		sleep:       sleepCtx,
	}
}

// Backend returns the configured backend
func (g *Gateway) Backend() Backend {
	return g.backend
}

// Balance returns the backend balance, cached briefly
func (g *Gateway) Balance(ctx context.Context) (float64, error) {
	key := cache.Key(cache.KeyPrefixCaptchaBalance, g.backend.Name())
	return cache.Remember(ctx, g.cache, key, cache.TTLCaptchaBalance, g.backend.Balance)
}

// Solve submits payload and waits for its solution. The outcome is the
// solution, a Timeout error once the attempt budget is spent, or an error
// wrapping ErrUnsolvable when the backend reports a terminal failure.
func (g *Gateway) Solve(ctx context.Context, payload domain.CaptchaPayload) (*Solution, error) {
	taskID, err := g.Submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	return g.Wait(ctx, taskID)
}

// Submit validates payload, runs the balance pre-flight and creates the
// remote task
func (g *Gateway) Submit(ctx context.Context, payload domain.CaptchaPayload) (string, error) {
	if err := ValidatePayload(payload); err != nil {
		return "", err
	}
	if err := g.preflight(ctx); err != nil {
		return "", err
	}

	taskID, err := g.backend.CreateTask(ctx, payload)
	if err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"backend": g.backend.Name(), "task_id": taskID, "kind": payload.Kind}).Info("captcha task created")
	return taskID, nil
}

// Wait polls taskID every interval until the backend resolves it or the
// attempt budget runs out. Transport errors count as an attempt and are
// retried.
func (g *Gateway) Wait(ctx context.Context, taskID string) (*Solution, error) {
	logger := log.WithFields(log.Fields{"backend": g.backend.Name(), "task_id": taskID})

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := g.sleep(ctx, g.interval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, domain.NewError(domain.KindTimeout, fmt.Sprintf("captcha task %s: deadline exceeded after %d attempts", taskID, attempt-1), err)
			}
			return nil, err
		}

		res, err := g.backend.PollSolution(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.WithError(err).WithField("attempt", attempt).Warn("captcha poll failed")
			continue
		}

		switch res.Status {
		case PollReady:
			logger.WithField("attempt", attempt).Info("captcha solved")
			return &Solution{TaskID: taskID, Text: res.Solution, Cost: res.Cost}, nil
		case PollFailed:
			return nil, domain.NewError(domain.KindExternalService,
				fmt.Sprintf("captcha task %s failed: %s", taskID, res.Reason), ErrUnsolvable)
		}

		logger.WithField("attempt", attempt).Debug("captcha not ready")
	}

	return nil, domain.NewError(domain.KindTimeout,
		fmt.Sprintf("captcha task %s not solved after %d attempts", taskID, g.maxAttempts), nil)
}

// preflight blocks new tasks while the balance is below the minimum. A
// balance lookup failure does not block.
func (g *Gateway) preflight(ctx context.Context) error {
	if g.minBalance <= 0 {
		return nil
	}

	balance, err := g.Balance(ctx)
	if err != nil {
		log.WithError(err).WithField("backend", g.backend.Name()).Warn("captcha balance check skipped")
		return nil
	}
	if balance < g.minBalance {
		return domain.NewError(domain.KindExternalService,
			fmt.Sprintf("%s balance %.4f is below the minimum %.4f", g.backend.Name(), balance, g.minBalance),
			ErrInsufficientBalance)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
