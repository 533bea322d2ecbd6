package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/captcha"
	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/queue"
)

// CaptchaService records captcha tasks and runs them through the gateway
type CaptchaService struct {
	tasks      domain.CaptchaTaskRepository
	dispatcher queue.Dispatcher
	notifier   domain.Notifier
	gateway    *captcha.Gateway
	now        func() time.Time
}

// NewCaptchaService creates a CaptchaService. gateway may be nil when no
// backend is configured; every solve then fails.
func NewCaptchaService(d Deps, gateway *captcha.Gateway) *CaptchaService {
	d = d.withDefaults()

	return &CaptchaService{
		tasks:      d.Stores.CaptchaTasks,
		dispatcher: d.Dispatcher,
		notifier:   d.Notifier,
		gateway:    gateway,
		now:        time.Now,
	}
}

// Solve creates a task and waits for its resolution on the caller's path.
// The returned task is terminal.
func (s *CaptchaService) Solve(ctx context.Context, payload domain.CaptchaPayload) (*domain.CaptchaTask, error) {
	task, err := s.submit(ctx, payload)
	if err != nil {
		return task, err
	}

	sol, err := s.gateway.Wait(ctx, *task.RemoteTaskID)
	s.finish(ctx, task, sol, err)
	return task, err
}

// Submit creates a task and polls for its solution in the background.
// Callers observe the outcome with Get.
func (s *CaptchaService) Submit(ctx context.Context, payload domain.CaptchaPayload) (*domain.CaptchaTask, error) {
	task, err := s.submit(ctx, payload)
	if err != nil {
		return task, err
	}

	if err := s.dispatcher.Dispatch(ctx, queue.TypeCaptchaSolve, queue.NewPayload(task.ID.String())); err != nil {
		err = domain.NewError(domain.KindExternalService, "failed to schedule captcha polling", err)
		s.finish(ctx, task, nil, err)
		return task, err
	}
	return task, nil
}

// submit persists the task and creates it at the backend. A backend
// rejection leaves a failed task behind.
func (s *CaptchaService) submit(ctx context.Context, payload domain.CaptchaPayload) (*domain.CaptchaTask, error) {
	if s.gateway == nil {
		return nil, domain.NewError(domain.KindExternalService, "no captcha backend configured", nil)
	}
	if err := captcha.ValidatePayload(payload); err != nil {
		return nil, err
	}

	task := &domain.CaptchaTask{
		ID:        uuid.New(),
		Backend:   s.gateway.Backend().Name(),
		Kind:      payload.Kind,
		Payload:   encodePayload(payload),
		Status:    domain.CaptchaStatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create captcha task: %w", err)
	}

	remoteID, err := s.gateway.Submit(ctx, payload)
	if err != nil {
		s.finish(ctx, task, nil, err)
		return task, err
	}

	task.RemoteTaskID = &remoteID
	if err := s.tasks.Update(ctx, task); err != nil {
		return task, fmt.Errorf("failed to store remote task id: %w", err)
	}
	return task, nil
}

// runSolve polls one submitted task to resolution
func (s *CaptchaService) runSolve(ctx context.Context, p *queue.Payload) error {
	id, err := parseEntityID(p)
	if err != nil {
		return err
	}

	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get captcha task: %w", err)
	}
	if task == nil || task.Status.IsTerminal() {
		return nil
	}
	if task.RemoteTaskID == nil || s.gateway == nil {
		err := domain.NewError(domain.KindExternalService, "captcha task was never created at the backend", nil)
		s.finish(ctx, task, nil, err)
		return err
	}

	sol, err := s.gateway.Wait(ctx, *task.RemoteTaskID)
	s.finish(ctx, task, sol, err)
	return err
}

// finish writes the terminal state of task and emits its event
func (s *CaptchaService) finish(ctx context.Context, task *domain.CaptchaTask, sol *captcha.Solution, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()

	event := domain.NewEvent(domain.EventCaptchaSolved, string(task.Kind), "Captcha solved").
		WithField("task_id", task.ID.String()).
		WithField("backend", task.Backend)

	if cause != nil {
		task.Status = domain.CaptchaStatusFailed
		task.ErrorMessage = errorMessage(cause)
		event.Type = domain.EventCaptchaFailed
		event.Message = cause.Error()
		event = event.WithField("kind", string(domain.KindOf(cause)))
	} else {
		task.Status = domain.CaptchaStatusSolved
		task.Solution = &sol.Text
		task.Cost = sol.Cost
		task.SolvedAt = &now
		if sol.Cost != nil {
			event = event.WithField("cost", *sol.Cost)
		}
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		log.WithError(err).WithField("task_id", task.ID).Error("failed to store captcha result")
	}
	s.notifier.Notify(ctx, event)
}

// Get returns one task
func (s *CaptchaService) Get(ctx context.Context, id uuid.UUID) (*domain.CaptchaTask, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get captcha task: %w", err)
	}
	if task == nil {
		return nil, domain.NotFoundf("captcha task %s not found", id)
	}
	return task, nil
}

// List returns tasks newest first and the total count
func (s *CaptchaService) List(ctx context.Context, limit, offset int) ([]*domain.CaptchaTask, int, error) {
	return s.tasks.List(ctx, limit, offset)
}

// Balance returns the configured backend's balance
func (s *CaptchaService) Balance(ctx context.Context) (string, float64, error) {
	if s.gateway == nil {
		return "", 0, domain.NewError(domain.KindExternalService, "no captcha backend configured", nil)
	}
	balance, err := s.gateway.Balance(ctx)
	return s.gateway.Backend().Name(), balance, err
}

// encodePayload stores the payload without its image body
func encodePayload(p domain.CaptchaPayload) *string {
	p.Image = ""
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return ptr(string(data))
}
