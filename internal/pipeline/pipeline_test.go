package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"captionflow/internal/acquire"
	"captionflow/internal/analyze"
	"captionflow/internal/appcore"
	"captionflow/internal/mocks"
	"captionflow/internal/subtitle"
	"captionflow/internal/transcribe"
	"captionflow/internal/translate"
	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
	"captionflow/pkg/retry"
)

const testVideo = types.VideoReference("https://example.com/watch?v=abc")

func noSleep(context.Context, time.Duration) error { return nil }

// fileAcquirer writes a small audio file per call and remembers every asset
// it handed out.
type fileAcquirer struct {
	dir      string
	failures []error
	calls    atomic.Int32

	mu     sync.Mutex
	assets []*types.AudioAsset
}

func (a *fileAcquirer) Acquire(ctx context.Context, ref types.VideoReference) (*types.AudioAsset, error) {
	n := int(a.calls.Add(1))
	if err := acquire.ValidateReference(ref); err != nil {
		return nil, err
	}
	if n <= len(a.failures) {
		return nil, a.failures[n-1]
	}
	path := filepath.Join(a.dir, "audio.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		return nil, err
	}
	asset := types.NewAudioAsset(path, "mp3", 3, 2000)
	a.mu.Lock()
	a.assets = append(a.assets, asset)
	a.mu.Unlock()
	return asset, nil
}

func (a *fileAcquirer) released(t *testing.T) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(a.dir, "audio.mp3"))
	return errors.Is(err, os.ErrNotExist)
}

type translatorFunc func(ctx context.Context, text, lang string) (string, error)

func (f translatorFunc) Translate(ctx context.Context, text, lang string) (string, error) {
	return f(ctx, text, lang)
}

type harness struct {
	acq   *fileAcquirer
	stt   *mocks.MockSpeechToText
	chat  *mocks.MockChatCompleter
	stage Stages
	cfg   Config
}

func newHarness(t *testing.T, translator types.Translator) *harness {
	t.Helper()
	h := &harness{
		acq:  &fileAcquirer{dir: t.TempDir()},
		stt:  new(mocks.MockSpeechToText),
		chat: new(mocks.MockChatCompleter),
		cfg: Config{
			Retry:          retry.Policy{Retries: 2, Sleep: noSleep, CallTimeout: time.Second},
			TargetLanguage: "es",
			EnableAnalysis: true,
		},
	}
	synth, err := subtitle.NewSynthesizer(subtitle.DefaultOptions())
	require.NoError(t, err)
	h.stage = Stages{
		Acquirer:    h.acq,
		Transcriber: transcribe.New(h.stt, ""),
		Translator: translate.NewFanout(translator, translate.FanoutOptions{
			Concurrency: 2,
			Retry:       retry.Policy{Retries: 1, Sleep: noSleep},
		}),
		Synthesizer: synth,
		Analyzer:    analyze.NewAnalyzer(h.chat, analyze.Options{}),
	}
	return h
}

func (h *harness) coordinator(admission *Admission) *Coordinator {
	return NewCoordinator(h.stage, h.cfg, admission, nil)
}

func helloTranscription() *types.RawTranscription {
	return &types.RawTranscription{
		Language: "en",
		Text:     "hello",
		Segments: []types.RawSegment{{Start: 0, End: 2, Text: "hello"}},
	}
}

const validAnalysis = `{"summary":"A greeting.","topics":["greeting","Greeting"],"sentiment":"positive"}`

func recordStages(events *[]string, mu *sync.Mutex) appcore.Observer {
	return appcore.ObserverFunc(func(e appcore.Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, e.StageName)
	})
}

func TestRunHelloWithoutTranslation(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	h.cfg.TargetLanguage = "none"
	h.cfg.EnableAnalysis = false
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil)

	var events []string
	var mu sync.Mutex
	result, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{
		RunID:    "hello",
		Observer: recordStages(&events, &mu),
	})
	require.NoError(t, err)

	assert.Equal(t, testVideo, result.VideoReference)
	assert.Nil(t, result.Analysis)
	assert.Equal(t, "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.000\nhello\n", string(result.Subtitles.Bytes()))
	assert.Equal(t, []string{"acquiring", "transcribing", "translating", "synthesizing", "done"}, events)
	assert.True(t, h.acq.released(t))
}

func TestRunTranslatesAndAnalyzes(t *testing.T) {
	h := newHarness(t, translatorFunc(func(_ context.Context, text, lang string) (string, error) {
		return "hola", nil
	}))
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil)
	h.chat.On("ChatCompletion", mock.Anything, types.AnalysisSystemPrompt, "hola").Return(validAnalysis, nil)

	var events []string
	var mu sync.Mutex
	result, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{Observer: recordStages(&events, &mu)})
	require.NoError(t, err)

	require.Len(t, result.Transcript.Segments, 1)
	assert.Equal(t, "hola", result.Transcript.Segments[0].Text)
	assert.Equal(t, int64(2000), result.Transcript.Segments[0].EndMs)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, "A greeting.", result.Analysis.Summary)
	assert.Equal(t, []string{"greeting"}, result.Analysis.Topics)
	assert.Equal(t, types.SentimentPositive, result.Analysis.Sentiment)
	assert.Equal(t, []string{"acquiring", "transcribing", "translating", "synthesizing", "analyzing", "done"}, events)
	assert.True(t, h.acq.released(t))
}

func TestRunMalformedReferenceFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})

	var events []string
	var mu sync.Mutex
	result, err := h.coordinator(nil).Run(context.Background(), "not a url", RunOptions{Observer: recordStages(&events, &mu)})
	require.Error(t, err)
	assert.Nil(t, result)

	assert.Equal(t, apperrors.CodeUnsupportedURL, apperrors.GetCode(err))
	assert.Equal(t, apperrors.StageAcquire, apperrors.StageOf(err))
	assert.Equal(t, int32(1), h.acq.calls.Load())
	assert.Equal(t, []string{"acquiring", "failed"}, events)
	h.stt.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything, mock.Anything)

	entries, err := os.ReadDir(h.acq.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunRetriesTransientAcquisition(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	h.cfg.EnableAnalysis = false
	h.acq.failures = []error{apperrors.Transient(apperrors.CodeRateLimited, "rate limited", nil)}
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil)

	result, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, result.Subtitles)
	assert.Equal(t, int32(2), h.acq.calls.Load())
}

func TestRunRetriesTransientTranscription(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	h.cfg.EnableAnalysis = false
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").
		Return(nil, apperrors.Transient(apperrors.CodeTranscribeFailed, "vendor overloaded", nil)).Once()
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil).Once()

	_, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{})
	require.NoError(t, err)
	h.stt.AssertNumberOfCalls(t, "Recognize", 2)
	assert.True(t, h.acq.released(t))
}

func TestRunTranscriptionFailureReleasesAudio(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(&types.RawTranscription{Text: "words but no timing"}, nil)

	_, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMissingTiming, apperrors.GetCode(err))
	assert.Equal(t, apperrors.StageTranscribe, apperrors.StageOf(err))
	h.stt.AssertNumberOfCalls(t, "Recognize", 1)
	assert.True(t, h.acq.released(t))
}

func TestRunTranslationFailureReturnsNoDocument(t *testing.T) {
	h := newHarness(t, translatorFunc(func(context.Context, string, string) (string, error) {
		return "", apperrors.New(apperrors.CodeTranslateFailed, "model refused")
	}))
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil)

	var events []string
	var mu sync.Mutex
	result, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{Observer: recordStages(&events, &mu)})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, apperrors.StageTranslate, apperrors.StageOf(err))
	assert.Equal(t, []string{"acquiring", "transcribing", "translating", "failed"}, events)
	h.chat.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, h.acq.released(t))
}

func TestRunAnalysisFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	h.cfg.TargetLanguage = "none"
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil)
	h.chat.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).
		Return("", apperrors.Transient(apperrors.CodeRateLimited, "slow down", nil))

	result, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, result.Analysis)
	require.NotNil(t, result.Subtitles)
	assert.Len(t, result.Subtitles.Cues, 1)
	h.chat.AssertNumberOfCalls(t, "ChatCompletion", 1)
}

func TestRunInvalidAnalysisIsDropped(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	h.cfg.TargetLanguage = "none"
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil)
	h.chat.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"summary":"ok","topics":[],"sentiment":"ecstatic"}`, nil)

	result, err := h.coordinator(nil).Run(context.Background(), testVideo, RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, result.Analysis)
}

func TestRunCanceledReleasesAudio(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	ctx, cancel := context.WithCancel(context.Background())
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	_, err := h.coordinator(nil).Run(ctx, testVideo, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCanceled, apperrors.GetCode(err))
	assert.Equal(t, apperrors.StageTranscribe, apperrors.StageOf(err))
	h.stt.AssertNumberOfCalls(t, "Recognize", 1)
	assert.True(t, h.acq.released(t))
}

func TestRunDeadlineIsTimeout(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := h.coordinator(nil).Run(ctx, testVideo, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTimeout, apperrors.GetCode(err))
	assert.True(t, apperrors.Retryable(err))
}

func TestRunRejectedWhenBusy(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	admission := NewAdmission(1, AdmissionReject)
	release, err := admission.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = h.coordinator(admission).Run(context.Background(), testVideo, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeBusy, apperrors.GetCode(err))
	assert.Equal(t, apperrors.StageAdmission, apperrors.StageOf(err))
	assert.Equal(t, int32(0), h.acq.calls.Load())
}

func TestRunFreesAdmissionSlot(t *testing.T) {
	h := newHarness(t, translate.NoopTranslator{})
	h.cfg.EnableAnalysis = false
	h.stt.On("Recognize", mock.Anything, mock.Anything, "").Return(helloTranscription(), nil)
	admission := NewAdmission(1, AdmissionReject)
	c := h.coordinator(admission)

	for i := 0; i < 2; i++ {
		_, err := c.Run(context.Background(), testVideo, RunOptions{})
		require.NoError(t, err)
	}
	_, err := c.Run(context.Background(), "bad ref", RunOptions{})
	require.Error(t, err)
	assert.Equal(t, int64(0), admission.InFlight())
}

func TestAdmissionWaitHonoursContext(t *testing.T) {
	admission := NewAdmission(1, AdmissionWait)
	release, err := admission.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), admission.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = admission.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Equal(t, int64(0), admission.InFlight())

	release2, err := admission.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestParseAdmissionPolicy(t *testing.T) {
	p, err := ParseAdmissionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AdmissionWait, p)

	p, err = ParseAdmissionPolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, AdmissionReject, p)

	_, err = ParseAdmissionPolicy("drop")
	assert.Error(t, err)
}

func TestNilAdmissionIsUnlimited(t *testing.T) {
	var admission *Admission
	release, err := admission.Acquire(context.Background())
	require.NoError(t, err)
	release()
	assert.Equal(t, int64(0), admission.Limit())
}
