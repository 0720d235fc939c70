package subtitle

import (
	"strings"
	"testing"
	"unicode/utf8"

	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSynthesizer(t *testing.T, mutate func(*Options)) *Synthesizer {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSynthesizer(opts)
	require.NoError(t, err)
	return s
}

func transcriptOf(segs ...types.TranscriptSegment) types.Transcript {
	return types.Transcript{Language: "en", Segments: segs}
}

func TestSynthesizeSingleShortSegment(t *testing.T) {
	s := newTestSynthesizer(t, nil)

	doc, err := s.Synthesize(transcriptOf(types.TranscriptSegment{StartMs: 0, EndMs: 2000, Text: "hello"}))
	require.NoError(t, err)

	require.Len(t, doc.Cues, 1)
	assert.Equal(t, types.SubtitleCue{Index: 1, StartMs: 0, EndMs: 2000, Lines: []string{"hello"}}, doc.Cues[0])
	assert.Equal(t, "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.000\nhello\n", string(doc.Bytes()))
}

func TestSynthesizeSplitsLongSpanProportionally(t *testing.T) {
	s := newTestSynthesizer(t, func(o *Options) { o.MaxCueDurationMs = 5000 })
	text := strings.TrimSpace(strings.Repeat("abcd ", 12))

	doc, err := s.Synthesize(transcriptOf(types.TranscriptSegment{StartMs: 0, EndMs: 12000, Text: text}))
	require.NoError(t, err)

	require.Len(t, doc.Cues, 3)
	var total int64
	for i, cue := range doc.Cues {
		assert.Equal(t, i+1, cue.Index)
		assert.Equal(t, []string{"abcd abcd abcd abcd"}, cue.Lines)
		assert.Equal(t, int64(4000), cue.EndMs-cue.StartMs)
		total += cue.EndMs - cue.StartMs
	}
	assert.Equal(t, int64(12000), total)
	assert.Equal(t, int64(0), doc.Cues[0].StartMs)
	assert.Equal(t, int64(12000), doc.Cues[2].EndMs)
}

func TestSynthesizeDividesTimeByTextLength(t *testing.T) {
	s := newTestSynthesizer(t, func(o *Options) {
		o.MaxCueDurationMs = 100000
		o.MaxLineWidth = 10
		o.MaxLinesPerCue = 1
	})

	doc, err := s.Synthesize(transcriptOf(types.TranscriptSegment{StartMs: 0, EndMs: 10000, Text: "aaaaaaaa bb"}))
	require.NoError(t, err)

	require.Len(t, doc.Cues, 2)
	assert.Equal(t, types.SubtitleCue{Index: 1, StartMs: 0, EndMs: 8000, Lines: []string{"aaaaaaaa"}}, doc.Cues[0])
	assert.Equal(t, types.SubtitleCue{Index: 2, StartMs: 8000, EndMs: 10000, Lines: []string{"bb"}}, doc.Cues[1])
}

func TestSynthesizeWrapsUnspacedScripts(t *testing.T) {
	s := newTestSynthesizer(t, func(o *Options) {
		o.MaxCueDurationMs = 100000
		o.MaxLineWidth = 5
		o.MaxLinesPerCue = 1
	})

	doc, err := s.Synthesize(transcriptOf(types.TranscriptSegment{StartMs: 0, EndMs: 1200, Text: "你好世界这是一个测试句子"}))
	require.NoError(t, err)

	require.Len(t, doc.Cues, 3)
	assert.Equal(t, []string{"你好世界"}, doc.Cues[0].Lines)
	assert.Equal(t, []string{"这是一个"}, doc.Cues[1].Lines)
	assert.Equal(t, []string{"测试句子"}, doc.Cues[2].Lines)
	assert.Equal(t, int64(400), doc.Cues[0].EndMs)
	assert.Equal(t, int64(800), doc.Cues[1].EndMs)
}

func TestSynthesizeRespectsLineLimits(t *testing.T) {
	s := newTestSynthesizer(t, func(o *Options) {
		o.MaxLineWidth = 16
		o.MaxLinesPerCue = 2
	})
	tr := transcriptOf(
		types.TranscriptSegment{StartMs: 0, EndMs: 9000, Text: "The quick brown fox jumps over the lazy dog while the band keeps playing a very long song"},
		types.TranscriptSegment{StartMs: 9500, EndMs: 20000, Text: "Short one"},
		types.TranscriptSegment{StartMs: 20000, EndMs: 31000, Text: "supercalifragilisticexpialidocious is a word that does not fit on one line"},
	)

	doc, err := s.Synthesize(tr)
	require.NoError(t, err)

	var prevEnd int64
	for i, cue := range doc.Cues {
		assert.Equal(t, i+1, cue.Index)
		assert.LessOrEqual(t, len(cue.Lines), 2)
		for _, line := range cue.Lines {
			assert.LessOrEqual(t, utf8.RuneCountInString(line), 16, "line %q", line)
		}
		assert.Less(t, cue.StartMs, cue.EndMs)
		assert.GreaterOrEqual(t, cue.StartMs, prevEnd)
		assert.LessOrEqual(t, cue.EndMs-cue.StartMs, int64(DefaultMaxCueDurationMs))
		prevEnd = cue.EndMs
	}
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	s := newTestSynthesizer(t, func(o *Options) { o.MaxCueDurationMs = 3000 })
	tr := transcriptOf(
		types.TranscriptSegment{StartMs: 100, EndMs: 7300, Text: "one two three four five six seven eight nine ten"},
		types.TranscriptSegment{StartMs: 8000, EndMs: 9000, Text: "eleven"},
	)

	first, err := s.Synthesize(tr)
	require.NoError(t, err)
	second, err := s.Synthesize(tr)
	require.NoError(t, err)

	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestSynthesizeTranslatedTranscriptKeepsTotalSpan(t *testing.T) {
	s := newTestSynthesizer(t, func(o *Options) { o.MaxCueDurationMs = 4000 })
	source := transcriptOf(
		types.TranscriptSegment{StartMs: 0, EndMs: 6000, Text: "good morning everyone and welcome to the show"},
		types.TranscriptSegment{StartMs: 7000, EndMs: 9500, Text: "let us begin"},
	)
	translated := source.WithTexts([]string{
		"buenos días a todos y bienvenidos al programa de esta noche",
		"empecemos",
	}, nil)

	a, err := s.Synthesize(source)
	require.NoError(t, err)
	b, err := s.Synthesize(translated)
	require.NoError(t, err)

	assert.Equal(t, int64(8500), a.TotalDurationMs())
	assert.Equal(t, a.TotalDurationMs(), b.TotalDurationMs())
	assert.Equal(t, a.Cues[0].StartMs, b.Cues[0].StartMs)
	assert.Equal(t, a.Cues[len(a.Cues)-1].EndMs, b.Cues[len(b.Cues)-1].EndMs)
}

func TestSynthesizeUnsplittableTextKeepsWholeSpan(t *testing.T) {
	s := newTestSynthesizer(t, func(o *Options) { o.MaxCueDurationMs = 5000 })

	doc, err := s.Synthesize(transcriptOf(types.TranscriptSegment{StartMs: 0, EndMs: 12000, Text: "hello"}))
	require.NoError(t, err)

	require.Len(t, doc.Cues, 1)
	assert.Equal(t, int64(12000), doc.Cues[0].EndMs)
}

func TestSynthesizeRejectsInvalidTranscripts(t *testing.T) {
	s := newTestSynthesizer(t, nil)
	testCases := []struct {
		name string
		tr   types.Transcript
	}{
		{name: "empty", tr: transcriptOf()},
		{name: "zero length", tr: transcriptOf(types.TranscriptSegment{StartMs: 1000, EndMs: 1000, Text: "x"})},
		{name: "negative start", tr: transcriptOf(types.TranscriptSegment{StartMs: -1, EndMs: 1000, Text: "x"})},
		{name: "overlap", tr: transcriptOf(
			types.TranscriptSegment{StartMs: 0, EndMs: 2000, Text: "a"},
			types.TranscriptSegment{StartMs: 1500, EndMs: 3000, Text: "b"},
		)},
		{name: "out of order", tr: transcriptOf(
			types.TranscriptSegment{StartMs: 5000, EndMs: 6000, Text: "a"},
			types.TranscriptSegment{StartMs: 0, EndMs: 1000, Text: "b"},
		)},
		{name: "no text", tr: transcriptOf(types.TranscriptSegment{StartMs: 0, EndMs: 1000, Text: "  "})},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := s.Synthesize(tc.tr)
			assert.Nil(t, doc)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.CodeSynthesisInvalidInput))
			assert.Equal(t, apperrors.StageSynthesize, apperrors.StageOf(err))
			assert.False(t, apperrors.IsTransient(err))
		})
	}
}

func TestNewSynthesizerValidatesOptions(t *testing.T) {
	_, err := NewSynthesizer(Options{MaxCueDurationMs: 0, MaxLineWidth: 42, MaxLinesPerCue: 2})
	assert.Error(t, err)

	_, err = NewSynthesizer(Options{MaxCueDurationMs: 1000, MaxLineWidth: 42, MaxLinesPerCue: 2, Format: "ass"})
	assert.Error(t, err)

	s, err := NewSynthesizer(Options{MaxCueDurationMs: 1000, MaxLineWidth: 42, MaxLinesPerCue: 2})
	require.NoError(t, err)
	assert.Equal(t, types.SubtitleFormatVTT, s.Options().Format)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{"aa bb", "cc"}, wrap(tokenize("aa bb cc", 5), 5))
	assert.Equal(t, []string{"abcde", "fg"}, wrap(tokenize("abcdefg", 5), 5))
	assert.Nil(t, wrap(tokenize("   ", 5), 5))
}
