package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"captionflow/internal/appdirs"
	"captionflow/log"
)

type App struct {
	Proxy       string   `toml:"proxy"`
	TempDir     string   `toml:"temp_dir"`
	LogLevel    string   `toml:"log_level"`
	ParsedProxy *url.URL `toml:"-"`
}

type Server struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
	PublicBaseUrl     string `toml:"public_base_url"`
}

// Pipeline is the configuration surface consumed by the coordinator.
type Pipeline struct {
	MaxCueDurationMs          int64  `toml:"max_cue_duration_ms"`
	MaxLineWidth              int    `toml:"max_line_width"`
	MaxLinesPerCue            int    `toml:"max_lines_per_cue"`
	MaxConcurrentTranslations int    `toml:"max_concurrent_translations"`
	MaxConcurrentPipelines    int    `toml:"max_concurrent_pipelines"`
	RetryCount                int    `toml:"retry_count"`
	RetryBackoffMs            int64  `toml:"retry_backoff_ms"`
	MaxBackoffMs              int64  `toml:"max_backoff_ms"`
	TargetLanguageCode        string `toml:"target_language_code"`
	AdmissionPolicy           string `toml:"admission_policy"`
	TranslationFailurePolicy  string `toml:"translation_failure_policy"`
	CallTimeoutSec            int    `toml:"call_timeout_sec"`
	SubtitleFormat            string `toml:"subtitle_format"`
	EnableAnalysis            bool   `toml:"enable_analysis"`
}

type Acquire struct {
	Provider    string `toml:"provider"`
	YtdlpPath   string `toml:"ytdlp_path"`
	FfmpegPath  string `toml:"ffmpeg_path"`
	FfprobePath string `toml:"ffprobe_path"`
	AudioFormat string `toml:"audio_format"`
	Normalize   bool   `toml:"normalize"`
	CookiesFile string `toml:"cookies_file"`
	MaxBytes    int64  `toml:"max_bytes"`
}

type OpenaiCompatible struct {
	BaseUrl     string  `toml:"base_url"`
	ApiKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature,omitempty"` // chat only; 0 keeps the client default
}

type WhisperAsr struct {
	BaseUrl string `toml:"base_url"`
}

type Transcribe struct {
	Provider   string           `toml:"provider"`
	Language   string           `toml:"language"`
	Openai     OpenaiCompatible `toml:"openai"`
	WhisperAsr WhisperAsr       `toml:"whisper_asr"`
}

type TranslateHttp struct {
	BaseUrl string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

type TranslateCache struct {
	Enabled  bool `toml:"enabled"`
	TtlHours int  `toml:"ttl_hours"`
}

type Translate struct {
	Provider        string         `toml:"provider"`
	RateLimitPerMin int            `toml:"rate_limit_per_min"`
	Http            TranslateHttp  `toml:"http"`
	Cache           TranslateCache `toml:"cache"`
}

type Analysis struct {
	MaxInputChars int `toml:"max_input_chars"`
	MaxTopics     int `toml:"max_topics"`
}

type S3 struct {
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyId     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
	PublicBaseUrl   string `toml:"public_base_url"`
}

type Oss struct {
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyId     string `toml:"access_key_id"`
	AccessKeySecret string `toml:"access_key_secret"`
	PublicBaseUrl   string `toml:"public_base_url"`
}

type Storage struct {
	Provider  string `toml:"provider"`
	KeyPrefix string `toml:"key_prefix"`
	S3        S3     `toml:"s3"`
	Oss       Oss    `toml:"oss"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type Queue struct {
	Enabled     bool `toml:"enabled"`
	Concurrency int  `toml:"concurrency"`
	QueueSize   int  `toml:"queue_size"`
}

type Kafka struct {
	Enabled  bool     `toml:"enabled"`
	Brokers  []string `toml:"brokers"`
	Topic    string   `toml:"topic"`
	ClientId string   `toml:"client_id"`
}

type Config struct {
	App        App              `toml:"app"`
	Server     Server           `toml:"server"`
	Pipeline   Pipeline         `toml:"pipeline"`
	Acquire    Acquire          `toml:"acquire"`
	Transcribe Transcribe       `toml:"transcribe"`
	Llm        OpenaiCompatible `toml:"llm"`
	Translate  Translate        `toml:"translate"`
	Analysis   Analysis         `toml:"analysis"`
	Storage    Storage          `toml:"storage"`
	Redis      Redis            `toml:"redis"`
	Queue      Queue            `toml:"queue"`
	Kafka      Kafka            `toml:"kafka"`
}

var Conf = defaultConfig()

var resolveConfigPath = func() (string, error) {
	dirs, err := appdirs.Resolve()
	if err != nil {
		return "", err
	}
	return dirs.ConfigFile, nil
}

func defaultConfig() Config {
	return Config{
		App: App{
			LogLevel: "info",
		},
		Server: Server{
			Host:              "127.0.0.1",
			Port:              8888,
			RequestTimeoutSec: 1800,
		},
		Pipeline: Pipeline{
			MaxCueDurationMs:          7000,
			MaxLineWidth:              42,
			MaxLinesPerCue:            2,
			MaxConcurrentTranslations: 4,
			MaxConcurrentPipelines:    2,
			RetryCount:                3,
			RetryBackoffMs:            1000,
			MaxBackoffMs:              30000,
			TargetLanguageCode:        "en",
			AdmissionPolicy:           "wait",
			TranslationFailurePolicy:  "fail_fast",
			CallTimeoutSec:            300,
			SubtitleFormat:            "vtt",
			EnableAnalysis:            true,
		},
		Acquire: Acquire{
			Provider:    "ytdlp",
			AudioFormat: "mp3",
			MaxBytes:    500 << 20,
		},
		Transcribe: Transcribe{
			Provider: "openai",
			Openai: OpenaiCompatible{
				Model: "whisper-1",
			},
			WhisperAsr: WhisperAsr{
				BaseUrl: "http://127.0.0.1:9000",
			},
		},
		Llm: OpenaiCompatible{
			Model: "gpt-4o-mini",
		},
		Translate: Translate{
			Provider: "llm",
			Http: TranslateHttp{
				BaseUrl: "http://127.0.0.1:5000",
			},
			Cache: TranslateCache{
				TtlHours: 24 * 7,
			},
		},
		Analysis: Analysis{
			MaxInputChars: 8000,
			MaxTopics:     8,
		},
		Storage: Storage{
			Provider:  "local",
			KeyPrefix: "subtitles",
		},
		Redis: Redis{
			Addr: "127.0.0.1:6379",
		},
		Queue: Queue{
			Concurrency: 2,
			QueueSize:   128,
		},
		Kafka: Kafka{
			Topic:    "captionflow.subtitles",
			ClientId: "captionflow",
		},
	}
}

// Default returns a fresh copy of the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func ResolveConfigPath() (string, error) {
	return resolveConfigPath()
}

// LoadOrCreateConfig loads the config file, writing defaults first if it
// does not exist. created reports whether a new file was written.
func LoadOrCreateConfig() (created bool, err error) {
	configPath, err := resolveConfigPath()
	if err != nil {
		return false, err
	}

	if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
		Conf = defaultConfig()
		if err = SaveConfig(); err != nil {
			return false, err
		}
		applyEnv(&Conf)
		return true, nil
	} else if statErr != nil {
		return false, statErr
	}

	loaded := defaultConfig()
	if _, err = toml.DecodeFile(configPath, &loaded); err != nil {
		return false, fmt.Errorf("decode config %s: %w", configPath, err)
	}
	applyEnv(&loaded)
	Conf = loaded
	return false, nil
}

// LoadConfig loads or creates the config and logs the outcome.
func LoadConfig() bool {
	created, err := LoadOrCreateConfig()
	if err != nil {
		log.GetLogger().Error("加载配置文件失败 Failed to load config", zap.Error(err))
		return false
	}
	if created {
		p, _ := resolveConfigPath()
		log.GetLogger().Info("已生成默认配置文件 Default config written", zap.String("path", p))
	}
	return true
}

func SaveConfig() error {
	configPath, err := resolveConfigPath()
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(Conf)
}

// applyEnv fills secrets that are commonly supplied through the environment.
func applyEnv(c *Config) {
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		if c.Transcribe.Openai.ApiKey == "" {
			c.Transcribe.Openai.ApiKey = key
		}
		if c.Llm.ApiKey == "" {
			c.Llm.ApiKey = key
		}
	}
	if base := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); base != "" {
		if c.Transcribe.Openai.BaseUrl == "" {
			c.Transcribe.Openai.BaseUrl = base
		}
		if c.Llm.BaseUrl == "" {
			c.Llm.BaseUrl = base
		}
	}
	if c.Storage.S3.AccessKeyId == "" {
		c.Storage.S3.AccessKeyId = os.Getenv("AWS_ACCESS_KEY_ID")
		c.Storage.S3.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if c.Redis.Password == "" {
		c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
}

// CheckConfig validates Conf and fills derived fields.
func CheckConfig() error {
	return Validate(&Conf)
}

func Validate(c *Config) error {
	var errs []error

	if c.App.Proxy != "" {
		proxy, err := url.Parse(c.App.Proxy)
		if err != nil {
			errs = append(errs, fmt.Errorf("app.proxy: %w", err))
		} else {
			c.App.ParsedProxy = proxy
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	p := c.Pipeline
	if p.MaxCueDurationMs <= 0 {
		errs = append(errs, errors.New("pipeline.max_cue_duration_ms must be positive"))
	}
	if p.MaxLineWidth <= 0 {
		errs = append(errs, errors.New("pipeline.max_line_width must be positive"))
	}
	if p.MaxLinesPerCue <= 0 {
		errs = append(errs, errors.New("pipeline.max_lines_per_cue must be positive"))
	}
	if p.MaxConcurrentTranslations <= 0 {
		errs = append(errs, errors.New("pipeline.max_concurrent_translations must be positive"))
	}
	if p.MaxConcurrentPipelines <= 0 {
		errs = append(errs, errors.New("pipeline.max_concurrent_pipelines must be positive"))
	}
	if p.RetryCount < 0 {
		errs = append(errs, errors.New("pipeline.retry_count must not be negative"))
	}
	if p.RetryBackoffMs < 0 {
		errs = append(errs, errors.New("pipeline.retry_backoff_ms must not be negative"))
	}
	if p.CallTimeoutSec < 0 {
		errs = append(errs, errors.New("pipeline.call_timeout_sec must not be negative"))
	}
	if !oneOf(p.AdmissionPolicy, "wait", "reject") {
		errs = append(errs, fmt.Errorf("pipeline.admission_policy %q must be wait or reject", p.AdmissionPolicy))
	}
	if !oneOf(p.TranslationFailurePolicy, "fail_fast", "substitute") {
		errs = append(errs, fmt.Errorf("pipeline.translation_failure_policy %q must be fail_fast or substitute", p.TranslationFailurePolicy))
	}
	if !oneOf(strings.ToLower(p.SubtitleFormat), "vtt", "webvtt", "srt") {
		errs = append(errs, fmt.Errorf("pipeline.subtitle_format %q must be vtt or srt", p.SubtitleFormat))
	}
	if p.TargetLanguageCode != "none" {
		if _, err := language.Parse(p.TargetLanguageCode); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.target_language_code %q: %w", p.TargetLanguageCode, err))
		}
	}

	if !oneOf(c.Acquire.Provider, "ytdlp", "http") {
		errs = append(errs, fmt.Errorf("acquire.provider %q must be ytdlp or http", c.Acquire.Provider))
	}

	switch c.Transcribe.Provider {
	case "openai":
		if c.Transcribe.Openai.ApiKey == "" {
			errs = append(errs, errors.New("transcribe.openai.api_key is required (or set OPENAI_API_KEY)"))
		}
	case "whisper_asr":
		if c.Transcribe.WhisperAsr.BaseUrl == "" {
			errs = append(errs, errors.New("transcribe.whisper_asr.base_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcribe.provider %q must be openai or whisper_asr", c.Transcribe.Provider))
	}

	needsLlm := c.Pipeline.EnableAnalysis || c.Translate.Provider == "llm"
	if needsLlm && c.Llm.ApiKey == "" {
		errs = append(errs, errors.New("llm.api_key is required for translation or analysis (or set OPENAI_API_KEY)"))
	}
	if !oneOf(c.Translate.Provider, "llm", "http", "none") {
		errs = append(errs, fmt.Errorf("translate.provider %q must be llm, http or none", c.Translate.Provider))
	}

	switch c.Storage.Provider {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" || c.Storage.S3.Region == "" {
			errs = append(errs, errors.New("storage.s3.bucket and storage.s3.region are required"))
		}
	case "oss":
		if c.Storage.Oss.Bucket == "" || c.Storage.Oss.Region == "" {
			errs = append(errs, errors.New("storage.oss.bucket and storage.oss.region are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.provider %q must be local, s3 or oss", c.Storage.Provider))
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}

	return errors.Join(errs...)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
