package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"captionflow/config"
	"captionflow/internal/acquire"
	"captionflow/internal/analyze"
	"captionflow/internal/notify"
	"captionflow/internal/pipeline"
	"captionflow/internal/storage"
	"captionflow/internal/subtitle"
	"captionflow/internal/transcribe"
	"captionflow/internal/translate"
	"captionflow/internal/types"
	"captionflow/log"
	"captionflow/pkg/openai"
	"captionflow/pkg/retry"
)

// Components is everything built from one configuration.
type Components struct {
	Stages         pipeline.Stages
	PipelineConfig pipeline.Config
	Admission      *pipeline.Admission
	Store          types.SubtitleStore
	Notifier       notify.Notifier
	Format         types.SubtitleFormat
}

func BuildComponents(ctx context.Context, conf config.Config) (*Components, error) {
	format, err := types.ParseSubtitleFormat(conf.Pipeline.SubtitleFormat)
	if err != nil {
		return nil, err
	}
	synth, err := subtitle.NewSynthesizer(subtitle.Options{
		MaxCueDurationMs: conf.Pipeline.MaxCueDurationMs,
		MaxLineWidth:     conf.Pipeline.MaxLineWidth,
		MaxLinesPerCue:   conf.Pipeline.MaxLinesPerCue,
		Format:           format,
	})
	if err != nil {
		return nil, err
	}

	admissionPolicy, err := pipeline.ParseAdmissionPolicy(conf.Pipeline.AdmissionPolicy)
	if err != nil {
		return nil, err
	}
	failurePolicy, err := translate.ParseFailurePolicy(conf.Pipeline.TranslationFailurePolicy)
	if err != nil {
		return nil, err
	}

	tempDir, err := resolveAudioTempDir(conf)
	if err != nil {
		return nil, err
	}

	chat := newChatCompleter(conf)
	translator, err := newTranslator(conf, chat)
	if err != nil {
		return nil, err
	}
	stt, err := newSpeechToText(conf)
	if err != nil {
		return nil, err
	}
	source, err := newAudioSource(conf)
	if err != nil {
		return nil, err
	}

	policy := RetryPolicy(conf.Pipeline)
	stages := pipeline.Stages{
		Acquirer: acquire.NewAcquirer(source, acquire.Options{
			TempDir:    tempDir,
			Format:     conf.Acquire.AudioFormat,
			Normalize:  conf.Acquire.Normalize,
			FfmpegPath: conf.Acquire.FfmpegPath,
			MaxBytes:   conf.Acquire.MaxBytes,
		}),
		Transcriber: transcribe.New(stt, conf.Transcribe.Language),
		Translator: translate.NewFanout(translator, translate.FanoutOptions{
			Concurrency: conf.Pipeline.MaxConcurrentTranslations,
			Policy:      failurePolicy,
			Retry:       policy,
		}),
		Synthesizer: synth,
	}
	if conf.Pipeline.EnableAnalysis && chat != nil {
		stages.Analyzer = analyze.NewAnalyzer(chat, analyze.Options{
			MaxInputChars: conf.Analysis.MaxInputChars,
			MaxTopics:     conf.Analysis.MaxTopics,
		})
	}

	store, err := newSubtitleStore(ctx, conf)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(conf)
	if err != nil {
		return nil, err
	}

	return &Components{
		Stages: stages,
		PipelineConfig: pipeline.Config{
			Retry:          policy,
			TargetLanguage: conf.Pipeline.TargetLanguageCode,
			EnableAnalysis: conf.Pipeline.EnableAnalysis,
		},
		Admission: pipeline.NewAdmission(conf.Pipeline.MaxConcurrentPipelines, admissionPolicy),
		Store:     store,
		Notifier:  notifier,
		Format:    format,
	}, nil
}

func RetryPolicy(p config.Pipeline) retry.Policy {
	return retry.Policy{
		Retries:     p.RetryCount,
		BaseBackoff: time.Duration(p.RetryBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(p.MaxBackoffMs) * time.Millisecond,
		CallTimeout: time.Duration(p.CallTimeoutSec) * time.Second,
	}
}

func newChatCompleter(conf config.Config) *openai.Client {
	if conf.Llm.ApiKey == "" {
		return nil
	}
	opts := []openai.Option{openai.WithChatModel(conf.Llm.Model)}
	if conf.Llm.Temperature > 0 {
		opts = append(opts, openai.WithTemperature(conf.Llm.Temperature))
	}
	return openai.NewClient(conf.Llm.BaseUrl, conf.Llm.ApiKey, conf.App.Proxy, opts...)
}

func newAudioSource(conf config.Config) (types.AudioSource, error) {
	switch conf.Acquire.Provider {
	case "", "ytdlp":
		return acquire.NewYtdlpSource(conf.Acquire.YtdlpPath, conf.Acquire.FfmpegPath, conf.App.Proxy, conf.Acquire.CookiesFile), nil
	case "http":
		return acquire.NewHTTPSource(conf.Acquire.FfmpegPath, conf.App.Proxy), nil
	}
	return nil, fmt.Errorf("unknown acquire provider %q", conf.Acquire.Provider)
}

func newSpeechToText(conf config.Config) (types.SpeechToText, error) {
	switch conf.Transcribe.Provider {
	case "openai":
		c := conf.Transcribe.Openai
		return openai.NewClient(c.BaseUrl, c.ApiKey, conf.App.Proxy, openai.WithTranscriptionModel(c.Model)), nil
	case "whisper_asr":
		return transcribe.NewWhisperASRClient(conf.Transcribe.WhisperAsr.BaseUrl), nil
	}
	return nil, fmt.Errorf("unknown transcribe provider %q", conf.Transcribe.Provider)
}

// newTranslator builds the per-segment translator. The cache sits outside
// the rate limiter.
func newTranslator(conf config.Config, chat *openai.Client) (types.Translator, error) {
	var base types.Translator
	switch conf.Translate.Provider {
	case "llm":
		if chat == nil {
			return nil, fmt.Errorf("translate provider llm needs llm.api_key")
		}
		base = translate.NewLLMTranslator(chat)
	case "http":
		base = translate.NewHTTPTranslator(conf.Translate.Http.BaseUrl, conf.Translate.Http.ApiKey)
	case "none":
		return translate.NoopTranslator{}, nil
	default:
		return nil, fmt.Errorf("unknown translate provider %q", conf.Translate.Provider)
	}

	if conf.Translate.RateLimitPerMin > 0 {
		base = translate.NewRateLimited(base, conf.Translate.RateLimitPerMin)
	}
	if conf.Translate.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		ttl := time.Duration(conf.Translate.Cache.TtlHours) * time.Hour
		base = translate.NewCached(base, translate.NewRedisCache(client), ttl)
		log.GetLogger().Info("translation cache enabled", zap.String("redis", conf.Redis.Addr), zap.Duration("ttl", ttl))
	}
	return base, nil
}

func newSubtitleStore(ctx context.Context, conf config.Config) (types.SubtitleStore, error) {
	switch conf.Storage.Provider {
	case "", "local":
		root, err := resolveSubtitleRoot()
		if err != nil {
			return nil, err
		}
		return storage.NewLocalStore(root, conf.Server.PublicBaseUrl), nil
	case "s3":
		c := conf.Storage.S3
		return storage.NewS3Store(ctx, storage.S3Options{
			Region:          c.Region,
			Bucket:          c.Bucket,
			Endpoint:        c.Endpoint,
			AccessKeyId:     c.AccessKeyId,
			SecretAccessKey: c.SecretAccessKey,
			UsePathStyle:    c.UsePathStyle,
			PublicBaseUrl:   c.PublicBaseUrl,
		})
	case "oss":
		c := conf.Storage.Oss
		return storage.NewOSSStore(storage.OSSOptions{
			Region:          c.Region,
			Bucket:          c.Bucket,
			Endpoint:        c.Endpoint,
			AccessKeyId:     c.AccessKeyId,
			AccessKeySecret: c.AccessKeySecret,
			PublicBaseUrl:   c.PublicBaseUrl,
		}), nil
	}
	return nil, fmt.Errorf("unknown storage provider %q", conf.Storage.Provider)
}

func newNotifier(conf config.Config) (notify.Notifier, error) {
	if !conf.Kafka.Enabled {
		return notify.Nop{}, nil
	}
	return notify.NewKafkaNotifier(notify.KafkaConfig{
		Brokers:  conf.Kafka.Brokers,
		Topic:    conf.Kafka.Topic,
		ClientId: conf.Kafka.ClientId,
	})
}
