package workerrunner

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/queue"
	"github.com/sadewadee/mystic-shorts/runner"
)

// WorkerRunner executes background tasks enqueued by API processes
type WorkerRunner struct {
	id     string
	app    *runner.App
	worker *queue.Worker
}

// New creates a new WorkerRunner
func New(ctx context.Context, cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeWorker {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	app, err := runner.NewApp(ctx, cfg, false)
	if err != nil {
		return nil, err
	}

	w, err := queue.NewWorker(&queue.WorkerConfig{
		Config: queue.Config{
			RedisURL:  cfg.RedisURL,
			RedisAddr: cfg.RedisAddr,
			Password:  cfg.RedisPass,
			DB:        cfg.RedisDB,
		},
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	app.Services.RegisterTasks(w)

	hostname, _ := os.Hostname()

	return &WorkerRunner{
		id:     fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		app:    app,
		worker: w,
	}, nil
}

// Run processes tasks until ctx is done
func (w *WorkerRunner) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"worker":      w.id,
		"concurrency": w.app.Config.Concurrency,
	}).Info("worker started")

	return w.worker.Run(ctx)
}

// Close cleans up resources
func (w *WorkerRunner) Close(ctx context.Context) error {
	w.worker.Shutdown()
	return w.app.Close(ctx)
}
