package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Local is an in-process Dispatcher backed by a bounded goroutine pool.
// It serves standalone mode and tests.
type Local struct {
	handlers map[string]Handler
	sem      chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	running map[string]*localTask
	closed  bool
	wg      sync.WaitGroup
}

// localTask is one in-flight run. A cancelled run keeps its slot until the
// handler returns but no longer blocks a new dispatch for the entity.
type localTask struct {
	cancel    context.CancelFunc
	cancelled bool
}

// NewLocal creates a Local dispatcher running at most concurrency tasks at once
func NewLocal(concurrency int) *Local {
	if concurrency <= 0 {
		concurrency = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		handlers:   make(map[string]Handler),
		sem:        make(chan struct{}, concurrency),
		baseCtx:    ctx,
		baseCancel: cancel,
		running:    make(map[string]*localTask),
	}
}

// Handle registers h for taskType
func (l *Local) Handle(taskType string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[taskType] = h
}

// Dispatch starts the task in the background. The caller's ctx only bounds
// the scheduling, not the task.
func (l *Local) Dispatch(_ context.Context, taskType string, payload *Payload) error {
	key := taskKey(taskType, payload.EntityID)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	h, ok := l.handlers[taskType]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
	}
	if t, busy := l.running[key]; busy && !t.cancelled {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(l.baseCtx, specFor(taskType).timeout)
	task := &localTask{cancel: cancel}
	l.running[key] = task
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(ctx, task, key, taskType, h, payload)
	return nil
}

func (l *Local) run(ctx context.Context, task *localTask, key, taskType string, h Handler, payload *Payload) {
	defer l.wg.Done()
	defer func() {
		task.cancel()
		l.mu.Lock()
		if l.running[key] == task {
			delete(l.running, key)
		}
		l.mu.Unlock()
	}()

	entry := log.WithFields(log.Fields{
		"task":    taskType,
		"entity":  payload.EntityID,
		"attempt": payload.Attempt,
	})

	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
	case <-ctx.Done():
		entry.Warn("dispatcher: task cancelled before start")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Errorf("dispatcher: task panicked\n%s", debug.Stack())
		}
	}()

	started := time.Now()
	if err := h(ctx, payload); err != nil {
		entry.WithError(err).Warn("dispatcher: task returned error")
		return
	}
	entry.WithField("took", time.Since(started).String()).Debug("dispatcher: task completed")
}

// Cancel cancels the running task of taskType for entityID
func (l *Local) Cancel(_ context.Context, taskType, entityID string) bool {
	l.mu.Lock()
	task, ok := l.running[taskKey(taskType, entityID)]
	if ok {
		task.cancelled = true
	}
	l.mu.Unlock()

	if ok {
		task.cancel()
	}
	return ok
}

// Running reports whether a task of taskType that has not been cancelled is
// in flight for entityID
func (l *Local) Running(taskType, entityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.running[taskKey(taskType, entityID)]
	return ok && !t.cancelled
}

// Wait blocks until every dispatched task has returned
func (l *Local) Wait() {
	l.wg.Wait()
}

// Shutdown stops accepting tasks and waits for in-flight ones. When ctx ends
// first, remaining tasks are cancelled and awaited.
func (l *Local) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.baseCancel()
		return nil
	case <-ctx.Done():
		l.baseCancel()
		<-done
		return ctx.Err()
	}
}

// Close cancels all tasks and waits for them
func (l *Local) Close() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = l.Shutdown(ctx)
	return nil
}
