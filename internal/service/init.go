package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"captionflow/config"
	"captionflow/internal/appcore"
	"captionflow/internal/notify"
	"captionflow/internal/pipeline"
	"captionflow/internal/types"
	"captionflow/log"
)

// TaskRepository persists subtitle task records.
type TaskRepository interface {
	Save(ctx context.Context, task *types.SubtitleTask) error
	Get(ctx context.Context, taskId string) (*types.SubtitleTask, error)
	History(ctx context.Context, limit int) ([]types.SubtitleTask, error)
	Delete(ctx context.Context, taskId string) error
}

// Dispatcher hands an accepted task to a background worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload types.SubtitleTaskPayload) error
}

// Runner is what the service needs from the pipeline.
type Runner interface {
	Run(ctx context.Context, ref types.VideoReference, opts pipeline.RunOptions) (*types.PipelineResult, error)
}

type Service struct {
	Runner         Runner
	Tasks          TaskRepository
	Store          types.SubtitleStore
	Notifier       notify.Notifier
	Events         *appcore.EventHub
	Dispatcher     Dispatcher
	Format         types.SubtitleFormat
	KeyPrefix      string
	TargetLanguage string
	RequestTimeout time.Duration
}

// NewService wires every component from config.Conf. tasks may be nil when
// only synchronous requests are served.
func NewService(ctx context.Context, tasks TaskRepository) (*Service, error) {
	conf := config.Conf
	components, err := BuildComponents(ctx, conf)
	if err != nil {
		return nil, err
	}

	hub := appcore.NewEventHub(0)
	coordinator := pipeline.NewCoordinator(components.Stages, components.PipelineConfig, components.Admission, hub)

	log.GetLogger().Info("service initialized",
		zap.String("acquire", conf.Acquire.Provider),
		zap.String("transcribe", conf.Transcribe.Provider),
		zap.String("translate", conf.Translate.Provider),
		zap.String("storage", conf.Storage.Provider),
		zap.Bool("kafka", conf.Kafka.Enabled))

	return &Service{
		Runner:         coordinator,
		Tasks:          tasks,
		Store:          components.Store,
		Notifier:       components.Notifier,
		Events:         hub,
		Format:         components.Format,
		KeyPrefix:      conf.Storage.KeyPrefix,
		TargetLanguage: conf.Pipeline.TargetLanguageCode,
		RequestTimeout: time.Duration(conf.Server.RequestTimeoutSec) * time.Second,
	}, nil
}

func (s *Service) SetDispatcher(d Dispatcher) {
	s.Dispatcher = d
}

func (s *Service) Close() error {
	if s.Notifier != nil {
		return s.Notifier.Close()
	}
	return nil
}
