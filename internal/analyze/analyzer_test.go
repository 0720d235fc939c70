package analyze

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"captionflow/internal/mocks"
	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
)

func transcript(texts ...string) types.Transcript {
	tr := types.Transcript{}
	for i, text := range texts {
		tr.Segments = append(tr.Segments, types.TranscriptSegment{
			StartMs: int64(i * 1000), EndMs: int64(i*1000 + 1000), Text: text,
		})
	}
	return tr
}

func TestAnalyze(t *testing.T) {
	chat := new(mocks.MockChatCompleter)
	chat.On("ChatCompletion", mock.Anything, types.AnalysisSystemPrompt, "Go is great. Channels are neat.").
		Return("Here it is:\n```json\n{\"summary\":\" A talk about Go. \",\"topics\":[\"Go\",\"go\",\" Concurrency \",\"Channels\",\"Channel\"],\"sentiment\":\"Positive\"}\n```", nil).
		Once()

	a := NewAnalyzer(chat, Options{})
	got, err := a.Analyze(context.Background(), transcript("Go is great.", "Channels are neat."))
	require.NoError(t, err)
	assert.Equal(t, "A talk about Go.", got.Summary)
	assert.Equal(t, types.SentimentPositive, got.Sentiment)
	assert.Equal(t, []string{"Go", "Concurrency", "Channels"}, got.Topics)
	chat.AssertExpectations(t)
}

func TestAnalyzeTruncatesInput(t *testing.T) {
	chat := new(mocks.MockChatCompleter)
	chat.On("ChatCompletion", mock.Anything, mock.Anything, mock.MatchedBy(func(s string) bool {
		return len([]rune(s)) == 10
	})).Return(`{"summary":"s","topics":[],"sentiment":"neutral"}`, nil).Once()

	a := NewAnalyzer(chat, Options{MaxInputChars: 10})
	got, err := a.Analyze(context.Background(), transcript(strings.Repeat("字", 50)))
	require.NoError(t, err)
	assert.Empty(t, got.Topics)
	chat.AssertExpectations(t)
}

func TestAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		err      error
		wantCode int
	}{
		{name: "vendor error", err: errors.New("boom"), wantCode: apperrors.CodeAnalysisFailed},
		{name: "not json", reply: "I cannot help with that", wantCode: apperrors.CodeAnalysisInvalid},
		{name: "empty summary", reply: `{"summary":"  ","topics":["a"],"sentiment":"neutral"}`, wantCode: apperrors.CodeAnalysisInvalid},
		{name: "bad sentiment", reply: `{"summary":"x","topics":["a"],"sentiment":"mixed"}`, wantCode: apperrors.CodeAnalysisInvalid},
		{name: "topics wrong type", reply: `{"summary":"x","topics":"a, b","sentiment":"neutral"}`, wantCode: apperrors.CodeAnalysisInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := new(mocks.MockChatCompleter)
			chat.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).Return(tt.reply, tt.err).Once()

			got, err := NewAnalyzer(chat, Options{}).Analyze(context.Background(), transcript("hello"))
			require.Error(t, err)
			assert.Nil(t, got)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
			assert.Equal(t, apperrors.StageAnalyze, apperrors.StageOf(err))
		})
	}
}

func TestAnalyzeEmptyTranscriptSkipsVendor(t *testing.T) {
	chat := new(mocks.MockChatCompleter)
	_, err := NewAnalyzer(chat, Options{}).Analyze(context.Background(), transcript("  "))
	require.Error(t, err)
	chat.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything, mock.Anything)
}

func TestDedupeTopicsCapsAtLimit(t *testing.T) {
	topics := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet"}
	assert.Equal(t, topics[:8], dedupeTopics(topics, 8))
	assert.Equal(t, []string{"alpha", "bravo"}, dedupeTopics(topics, 2))
	assert.Empty(t, dedupeTopics(nil, 8))
}

func TestNewAnalyzerClampsTopicLimit(t *testing.T) {
	a := NewAnalyzer(nil, Options{MaxTopics: 50})
	assert.Equal(t, defaultMaxTopics, a.opts.MaxTopics)
}
