package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// Config holds Redis queue configuration
type Config struct {
	RedisURL  string
	RedisAddr string
	Password  string
	DB        int
}

func (c *Config) redisOpt() (asynq.RedisConnOpt, error) {
	if c.RedisURL != "" {
		opt, err := asynq.ParseRedisURI(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		return opt, nil
	}
	if c.RedisAddr != "" {
		return asynq.RedisClientOpt{
			Addr:         c.RedisAddr,
			Password:     c.Password,
			DB:           c.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		}, nil
	}
	return nil, fmt.Errorf("redis URL or address is required")
}

// Queue is a Dispatcher backed by asynq. Tasks run in a Worker process.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector

	mu      sync.Mutex
	taskIDs map[string]string // task key -> asynq task id
}

// New creates a new Queue
func New(cfg *Config) (*Queue, error) {
	redisOpt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}

	return &Queue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		taskIDs:   make(map[string]string),
	}, nil
}

// Dispatch enqueues a task. Failures are resolved by the handler itself, so
// tasks are not retried by asynq.
func (q *Queue) Dispatch(ctx context.Context, taskType string, payload *Payload) error {
	entityID := payload.EntityID
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	spec := specFor(taskType)
	key := taskKey(taskType, entityID)
	taskID := key + ":" + uuid.NewString()[:8]

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, data),
		asynq.Queue(spec.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(spec.timeout),
		asynq.Retention(24*time.Hour),
		asynq.TaskID(taskID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.mu.Lock()
	q.taskIDs[key] = info.ID
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"task":    taskType,
		"entity":  entityID,
		"queue":   info.Queue,
		"task_id": info.ID,
		"attempt": payload.Attempt,
	}).Info("queue: enqueued task")
	return nil
}

// Cancel asks the worker running the task to cancel it
func (q *Queue) Cancel(_ context.Context, taskType, entityID string) bool {
	key := taskKey(taskType, entityID)

	q.mu.Lock()
	id, ok := q.taskIDs[key]
	delete(q.taskIDs, key)
	q.mu.Unlock()

	if !ok {
		return false
	}

	spec := specFor(taskType)
	// still waiting: drop it from the queue
	if err := q.inspector.DeleteTask(spec.queue, id); err == nil {
		return true
	}
	if err := q.inspector.CancelProcessing(id); err != nil {
		log.WithError(err).WithField("task_id", id).Warn("queue: cancel failed")
		return false
	}
	return true
}

// GetQueueStats returns queue statistics
func (q *Queue) GetQueueStats(_ context.Context) (map[string]*asynq.QueueInfo, error) {
	queues := []string{QueueDefault, QueueHigh, QueueLow, QueueCritical}
	stats := make(map[string]*asynq.QueueInfo)

	for _, name := range queues {
		info, err := q.inspector.GetQueueInfo(name)
		if err != nil {
			// queue might not exist yet
			continue
		}
		stats[name] = info
	}

	return stats, nil
}

// Close closes the queue client
func (q *Queue) Close() error {
	if q.inspector != nil {
		q.inspector.Close()
	}
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
