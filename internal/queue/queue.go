// Package queue provides background task processing using Asynq.
// It supports reliable task queueing with retry logic and persistence.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

// QueueConfig holds Redis configuration for Asynq
type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	MaxRetry      int
	TaskTimeout   time.Duration
}

// Queue manages task enqueueing and processing
type Queue struct {
	client *asynq.Client
	server *asynq.Server
	config QueueConfig
}

// DefaultConfig returns default queue configuration
func DefaultConfig() QueueConfig {
	return QueueConfig{
		RedisAddr:   "localhost:6379",
		RedisDB:     0,
		Concurrency: 3,
		MaxRetry:    3,
		TaskTimeout: 30 * time.Minute,
	}
}

// NewQueue creates a new Queue instance
func NewQueue(cfg QueueConfig) *Queue {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			RetryDelayFunc: RetryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.GetLogger().Error("Task failed",
					zap.String("type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err))
			}),
		},
	)

	return &Queue{
		client: client,
		server: server,
		config: cfg,
	}
}

// RetryDelay backs off exponentially: 10s, 20s, 40s, 80s, ...
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 10 {
		n = 10
	}
	return time.Duration(10<<uint(n)) * time.Second
}

// Dispatch enqueues a subtitle task. The task id doubles as the asynq id so
// a task cannot be queued twice.
func (q *Queue) Dispatch(ctx context.Context, payload types.SubtitleTaskPayload) error {
	task, err := NewSubtitleTask(payload,
		asynq.MaxRetry(q.config.MaxRetry),
		asynq.Timeout(q.config.TaskTimeout),
		asynq.Queue("default"),
		asynq.TaskID(payload.TaskID),
	)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return apperrors.WrapWithDetail(apperrors.CodeInvalidParams, "任务已在队列中 Task already queued", payload.TaskID, err)
		}
		return apperrors.Transient(apperrors.CodeBusy, "任务入队失败 Failed to enqueue task", err).WithStage(apperrors.StageAdmission)
	}

	log.GetLogger().Info("Task enqueued",
		zap.String("task_id", payload.TaskID),
		zap.String("queue_id", info.ID),
		zap.String("queue", info.Queue))

	return nil
}

// Close gracefully shuts down the queue
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	q.server.Shutdown()
	return nil
}
