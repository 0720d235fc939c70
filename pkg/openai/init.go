package openai

import (
	"net/http"
	"net/url"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultChatModel          = openai.GPT4oMini
	defaultTranscriptionModel = openai.Whisper1
)

type Client struct {
	client             *openai.Client
	chatModel          string
	transcriptionModel string
	temperature        float32
}

type Option func(*clientOptions)

type clientOptions struct {
	chatModel          string
	transcriptionModel string
	httpClient         *http.Client
	temperature        float32
}

func WithChatModel(model string) Option {
	return func(o *clientOptions) {
		if model != "" {
			o.chatModel = model
		}
	}
}

func WithTranscriptionModel(model string) Option {
	return func(o *clientOptions) {
		if model != "" {
			o.transcriptionModel = model
		}
	}
}

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

func WithTemperature(t float32) Option {
	return func(o *clientOptions) {
		o.temperature = t
	}
}

func NewClient(baseUrl, apiKey, proxyAddr string, opts ...Option) *Client {
	options := clientOptions{
		chatModel:          defaultChatModel,
		transcriptionModel: defaultTranscriptionModel,
		temperature:        0.2,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseUrl != "" {
		cfg.BaseURL = baseUrl
	}

	if options.httpClient != nil {
		cfg.HTTPClient = options.httpClient
	} else {
		transport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 10 * time.Minute,
		}
		if proxyAddr != "" {
			if proxyURL, err := url.Parse(proxyAddr); err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
		// Per-call deadlines come from the caller's context.
		cfg.HTTPClient = &http.Client{Transport: transport}
	}

	return &Client{
		client:             openai.NewClientWithConfig(cfg),
		chatModel:          options.chatModel,
		transcriptionModel: options.transcriptionModel,
		temperature:        options.temperature,
	}
}
