package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// Worker processes tasks from the Redis queue
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	Config
	Concurrency     int
	Queues          map[string]int // queue name -> priority
	ShutdownTimeout time.Duration
}

// NewWorker creates a new queue worker
func NewWorker(cfg *WorkerConfig) (*Worker, error) {
	redisOpt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	queues := cfg.Queues
	if queues == nil {
		queues = map[string]int{
			QueueCritical: 6,
			QueueHigh:     3,
			QueueDefault:  2,
			QueueLow:      1,
		}
	}

	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          queues,
			ShutdownTimeout: shutdown,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.WithError(err).WithField("task", task.Type()).Error("queue worker: task failed")
			}),
			Logger:   &asynqLogger{},
			LogLevel: asynq.WarnLevel,
		},
	)

	return &Worker{server: server, mux: asynq.NewServeMux()}, nil
}

// Handle registers h for taskType
func (w *Worker) Handle(taskType string, h Handler) {
	w.mux.HandleFunc(taskType, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParsePayload(task.Payload())
		if err != nil {
			return fmt.Errorf("failed to parse payload: %w: %w", err, asynq.SkipRetry)
		}

		entry := log.WithFields(log.Fields{"task": taskType, "entity": payload.EntityID})
		entry.Info("queue worker: processing task")

		if err := h(ctx, payload); err != nil {
			entry.WithError(err).Warn("queue worker: task returned error")
			return err
		}

		entry.Info("queue worker: task completed")
		return nil
	})
}

// Run starts the worker and blocks until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.server.Run(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the worker
func (w *Worker) Shutdown() {
	if w.server != nil {
		w.server.Shutdown()
	}
}

// asynqLogger adapts asynq logging to logrus
type asynqLogger struct{}

func (l *asynqLogger) Debug(args ...interface{}) {
	log.WithField("component", "asynq").Debug(args...)
}

func (l *asynqLogger) Info(args ...interface{}) {
	log.WithField("component", "asynq").Info(args...)
}

func (l *asynqLogger) Warn(args ...interface{}) {
	log.WithField("component", "asynq").Warn(args...)
}

func (l *asynqLogger) Error(args ...interface{}) {
	log.WithField("component", "asynq").Error(args...)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	log.WithField("component", "asynq").Fatal(args...)
}
