// Package mocks provides mock implementations of core interfaces for testing.
package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"captionflow/internal/types"
)

// MockAudioSource is a mock implementation of types.AudioSource
type MockAudioSource struct {
	mock.Mock
}

func (m *MockAudioSource) Fetch(ctx context.Context, ref types.VideoReference, destBase string, format string) (string, error) {
	args := m.Called(ctx, ref, destBase, format)
	if fn, ok := args.Get(0).(func(context.Context, types.VideoReference, string, string) string); ok {
		return fn(ctx, ref, destBase, format), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

// MockSpeechToText is a mock implementation of types.SpeechToText
type MockSpeechToText struct {
	mock.Mock
}

func (m *MockSpeechToText) Recognize(ctx context.Context, audioPath string, language string) (*types.RawTranscription, error) {
	args := m.Called(ctx, audioPath, language)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.RawTranscription), args.Error(1)
}

// MockTranslator is a mock implementation of types.Translator
type MockTranslator struct {
	mock.Mock
}

func (m *MockTranslator) Translate(ctx context.Context, text string, targetLanguage string) (string, error) {
	args := m.Called(ctx, text, targetLanguage)
	return args.String(0), args.Error(1)
}

// MockChatCompleter is a mock implementation of types.ChatCompleter
type MockChatCompleter struct {
	mock.Mock
}

func (m *MockChatCompleter) ChatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	return args.String(0), args.Error(1)
}

// MockSubtitleStore is a mock implementation of types.SubtitleStore.
// The body is drained so callers see the same behaviour as a real store.
type MockSubtitleStore struct {
	mock.Mock
}

func (m *MockSubtitleStore) Put(ctx context.Context, key string, contentType string, body io.Reader, size int64) (string, error) {
	_, _ = io.Copy(io.Discard, body)
	args := m.Called(ctx, key, contentType, size)
	return args.String(0), args.Error(1)
}
