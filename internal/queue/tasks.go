// Package queue provides task handlers for Asynq background processing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

// TypeSubtitleTask is the asynq task type for subtitle generation.
const TypeSubtitleTask = "subtitle:process"

// Processor runs one subtitle task to completion.
type Processor interface {
	ProcessSubtitleTask(ctx context.Context, payload types.SubtitleTaskPayload) error
}

// NewSubtitleTask encodes payload as an asynq task.
func NewSubtitleTask(payload types.SubtitleTaskPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSubtitleTask, data, opts...), nil
}

// TaskHandlers provides handlers for different task types
type TaskHandlers struct {
	processor Processor
}

// NewTaskHandlers creates a new TaskHandlers instance
func NewTaskHandlers(processor Processor) *TaskHandlers {
	return &TaskHandlers{processor: processor}
}

// HandleSubtitleTask processes subtitle generation tasks. Failures that a
// retry cannot fix skip the asynq retry schedule.
func (h *TaskHandlers) HandleSubtitleTask(ctx context.Context, t *asynq.Task) error {
	var payload types.SubtitleTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log.GetLogger().Info("[Queue] Processing subtitle task",
		zap.String("task_id", payload.TaskID),
		zap.String("url", payload.URL))

	if err := h.processor.ProcessSubtitleTask(ctx, payload); err != nil {
		if !apperrors.Retryable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.GetLogger().Info("[Queue] Subtitle task completed",
		zap.String("task_id", payload.TaskID))

	return nil
}

// RegisterHandlers registers all task handlers with the Asynq server mux
func (h *TaskHandlers) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSubtitleTask, h.HandleSubtitleTask)
}

// StartWorker starts the Asynq worker with registered handlers. Close stops it.
func StartWorker(q *Queue, processor Processor) error {
	handlers := NewTaskHandlers(processor)

	mux := asynq.NewServeMux()
	handlers.RegisterHandlers(mux)

	log.GetLogger().Info("[Queue] Starting worker",
		zap.String("redis_addr", q.config.RedisAddr),
		zap.Int("concurrency", q.config.Concurrency))

	return q.server.Start(mux)
}
