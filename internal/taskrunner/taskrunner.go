package taskrunner

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

const (
	defaultQueueSize   = 128
	defaultConcurrency = 2
)

var (
	ErrRunnerStopped = apperrors.New(apperrors.CodeCanceled, "任务执行器已停止 Task runner stopped")
	ErrQueueFull     = apperrors.New(apperrors.CodeBusy, "任务队列已满 Task queue is full").WithStage(apperrors.StageAdmission)
)

// Processor runs one subtitle task to completion.
type Processor interface {
	ProcessSubtitleTask(ctx context.Context, payload types.SubtitleTaskPayload) error
}

// Config controls in-process task runner behavior.
type Config struct {
	QueueSize   int
	Concurrency int
}

// DefaultConfig returns a desktop-friendly default config.
func DefaultConfig() Config {
	return Config{
		QueueSize:   defaultQueueSize,
		Concurrency: defaultConcurrency,
	}
}

// Runner executes queued tasks with in-memory workers.
type Runner struct {
	processor Processor
	config    Config

	queue  chan types.SubtitleTaskPayload
	ctx    context.Context
	cancel context.CancelFunc

	workerWg sync.WaitGroup
	closed   atomic.Bool
}

// New creates and starts a task runner.
func New(processor Processor, cfg Config) *Runner {
	cfg = normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	runner := &Runner{
		processor: processor,
		config:    cfg,
		queue:     make(chan types.SubtitleTaskPayload, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Concurrency; i++ {
		runner.workerWg.Add(1)
		go runner.worker(i + 1)
	}

	return runner
}

func normalizeConfig(cfg Config) Config {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return cfg
}

// Dispatch queues a subtitle job without blocking. A full queue is reported
// as busy rather than waited on.
func (r *Runner) Dispatch(ctx context.Context, payload types.SubtitleTaskPayload) error {
	if payload.URL == "" || payload.TaskID == "" {
		return apperrors.New(apperrors.CodeInvalidParams, "任务参数缺失 Task id and url are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrRunnerStopped
	}

	select {
	case <-r.ctx.Done():
		return ErrRunnerStopped
	case r.queue <- payload:
		log.GetLogger().Info("[TaskRunner] task submitted",
			zap.String("task_id", payload.TaskID),
			zap.Int("pending", len(r.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) worker(workerID int) {
	defer r.workerWg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		select {
		case <-r.ctx.Done():
			return
		case payload := <-r.queue:
			r.processTask(workerID, payload)
		}
	}
}

func (r *Runner) processTask(workerID int, payload types.SubtitleTaskPayload) {
	err := r.processor.ProcessSubtitleTask(r.ctx, payload)
	if err != nil {
		log.GetLogger().Error("[TaskRunner] task failed",
			zap.Int("worker_id", workerID),
			zap.String("task_id", payload.TaskID),
			zap.String("stage", string(apperrors.StageOf(err))),
			zap.Error(err))
		return
	}

	log.GetLogger().Info("[TaskRunner] task completed",
		zap.Int("worker_id", workerID),
		zap.String("task_id", payload.TaskID))
}

// Close stops workers and rejects new tasks. Running tasks see a canceled
// context; tasks still queued stay queued in storage.
func (r *Runner) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	r.cancel()
	r.workerWg.Wait()
}

// Pending returns the number of queued tasks waiting for workers.
func (r *Runner) Pending() int {
	return len(r.queue)
}
