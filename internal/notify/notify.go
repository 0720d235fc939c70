// Package notify publishes subtitle task outcomes to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
)

// TaskEvent is the message emitted when a subtitle task reaches a final state.
type TaskEvent struct {
	TaskId       string          `json:"task_id"`
	VideoUrl     string          `json:"video_url"`
	Status       string          `json:"status"`
	Stage        string          `json:"stage,omitempty"`
	SubtitlesUrl string          `json:"subtitles_url,omitempty"`
	ErrorCode    int             `json:"error_code,omitempty"`
	Error        string          `json:"error,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	Analysis     *types.Analysis `json:"analysis,omitempty"`
	FinishedAt   time.Time       `json:"finished_at"`
}

type Notifier interface {
	Notify(ctx context.Context, event TaskEvent) error
	Close() error
}

type Nop struct{}

func (Nop) Notify(context.Context, TaskEvent) error { return nil }
func (Nop) Close() error                            { return nil }

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientId string
}

// KafkaNotifier writes one message per task keyed by task id, so all events
// of a task land on the same partition.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.ClientID = cfg.ClientId
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}
	return NewKafkaNotifierWithProducer(producer, cfg.Topic), nil
}

func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event TaskEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	partition, offset, err := n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(event.TaskId),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		log.GetLogger().Error("failed to publish task event", zap.String("task_id", event.TaskId), zap.Error(err))
		return err
	}
	log.GetLogger().Debug("task event published",
		zap.String("task_id", event.TaskId),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
