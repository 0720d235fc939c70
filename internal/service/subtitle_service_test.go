package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"captionflow/config"
	"captionflow/internal/appcore"
	"captionflow/internal/dto"
	"captionflow/internal/mocks"
	"captionflow/internal/notify"
	"captionflow/internal/pipeline"
	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
)

type fakeRunner struct {
	result *types.PipelineResult
	err    error
	opts   pipeline.RunOptions
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, ref types.VideoReference, opts pipeline.RunOptions) (*types.PipelineResult, error) {
	f.calls++
	f.opts = opts
	if opts.Observer != nil {
		for _, s := range []appcore.Stage{appcore.StageAcquiring, appcore.StageTranscribing} {
			opts.Observer.OnEvent(appcore.Event{RunID: opts.RunID, Stage: s, StageName: s.String()})
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.VideoReference = ref
	return &res, nil
}

type memoryTasks struct {
	mu    sync.Mutex
	tasks map[string]types.SubtitleTask
	saves []types.SubtitleTask
}

func newMemoryTasks() *memoryTasks {
	return &memoryTasks{tasks: map[string]types.SubtitleTask{}}
}

func (m *memoryTasks) Save(_ context.Context, task *types.SubtitleTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.TaskId] = *task
	m.saves = append(m.saves, *task)
	return nil
}

func (m *memoryTasks) Get(_ context.Context, taskId string) (*types.SubtitleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskId]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &task, nil
}

func (m *memoryTasks) History(_ context.Context, limit int) ([]types.SubtitleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SubtitleTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memoryTasks) Delete(_ context.Context, taskId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskId)
	return nil
}

type recordingNotifier struct {
	events []notify.TaskEvent
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.TaskEvent) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

type dispatcherFunc func(ctx context.Context, p types.SubtitleTaskPayload) error

func (f dispatcherFunc) Dispatch(ctx context.Context, p types.SubtitleTaskPayload) error {
	return f(ctx, p)
}

func helloResult() *types.PipelineResult {
	return &types.PipelineResult{
		Subtitles: &types.SubtitleDocument{
			Format: types.SubtitleFormatVTT,
			Cues:   []types.SubtitleCue{{Index: 1, StartMs: 0, EndMs: 2000, Lines: []string{"hola"}}},
		},
		Transcript: types.Transcript{
			Language: "es",
			Segments: []types.TranscriptSegment{{StartMs: 0, EndMs: 2000, Text: "hola"}},
		},
		Analysis: &types.Analysis{Summary: "A greeting.", Topics: []string{"greeting"}, Sentiment: types.SentimentPositive},
	}
}

func newTestService(runner Runner) (*Service, *memoryTasks, *mocks.MockSubtitleStore, *recordingNotifier) {
	tasks := newMemoryTasks()
	store := new(mocks.MockSubtitleStore)
	notifier := &recordingNotifier{}
	return &Service{
		Runner:         runner,
		Tasks:          tasks,
		Store:          store,
		Notifier:       notifier,
		Events:         appcore.NewEventHub(0),
		Format:         types.SubtitleFormatVTT,
		KeyPrefix:      "subtitles",
		TargetLanguage: "en",
	}, tasks, store, notifier
}

func TestGenerateSubtitlesPublishesAndRecords(t *testing.T) {
	runner := &fakeRunner{result: helloResult()}
	svc, tasks, store, notifier := newTestService(runner)
	store.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
		return len(key) > len("subtitles/") && key[len(key)-len("/es.vtt"):] == "/es.vtt"
	}), "text/vtt; charset=utf-8", mock.Anything).Return("/api/file/subtitles/x/es.vtt", nil)

	res, err := svc.GenerateSubtitles(context.Background(), dto.GenerateSubtitlesReq{
		VideoUrl:       " https://example.com/watch?v=1 ",
		TargetLanguage: "es",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/watch?v=1", res.VideoUrl)
	assert.Equal(t, "/api/file/subtitles/x/es.vtt", res.SubtitlesUrl)
	assert.Equal(t, "hola", res.Transcript)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, int64(2000), res.Segments[0].EndMs)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, "positive", res.Analysis.Sentiment)
	assert.Equal(t, "es", runner.opts.TargetLanguage)
	assert.Equal(t, res.TaskId, runner.opts.RunID)

	stored, err := tasks.Get(context.Background(), res.TaskId)
	require.NoError(t, err)
	assert.Equal(t, types.SubtitleTaskStatusSuccess, stored.Status)
	assert.Equal(t, "done", stored.Stage)
	assert.NotEmpty(t, stored.SegmentsJson)
	assert.NotEmpty(t, stored.AnalysisJson)

	stages := make([]string, 0, len(tasks.saves))
	for _, s := range tasks.saves {
		stages = append(stages, s.Stage)
	}
	assert.Contains(t, stages, "transcribing")

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "success", notifier.events[0].Status)
	assert.Equal(t, "/api/file/subtitles/x/es.vtt", notifier.events[0].SubtitlesUrl)
	store.AssertExpectations(t)
}

func TestGenerateSubtitlesRejectsBadInputBeforeRunning(t *testing.T) {
	runner := &fakeRunner{result: helloResult()}
	svc, _, _, notifier := newTestService(runner)

	_, err := svc.GenerateSubtitles(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "not a url"})
	assert.Equal(t, apperrors.CodeUnsupportedURL, apperrors.GetCode(err))

	_, err = svc.GenerateSubtitles(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v", TargetLanguage: "zz-!!"})
	assert.Equal(t, apperrors.CodeUnsupportedLanguage, apperrors.GetCode(err))

	assert.Zero(t, runner.calls)
	assert.Empty(t, notifier.events)
}

func TestGenerateSubtitlesDefaultsAndNone(t *testing.T) {
	runner := &fakeRunner{result: helloResult()}
	svc, _, store, _ := newTestService(runner)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("u", nil)

	_, err := svc.GenerateSubtitles(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v"})
	require.NoError(t, err)
	assert.Equal(t, "en", runner.opts.TargetLanguage)

	_, err = svc.GenerateSubtitles(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v", TargetLanguage: "NONE"})
	require.NoError(t, err)
	assert.Equal(t, "none", runner.opts.TargetLanguage)
	store.AssertCalled(t, "Put", mock.Anything, mock.MatchedBy(func(key string) bool {
		return len(key) > 13 && key[len(key)-13:] == "/original.vtt"
	}), mock.Anything, mock.Anything)
}

func TestGenerateSubtitlesRecordsFailure(t *testing.T) {
	cause := apperrors.Transient(apperrors.CodeRateLimited, "rate limited", nil).WithStage(apperrors.StageAcquire)
	runner := &fakeRunner{err: cause}
	svc, tasks, store, notifier := newTestService(runner)

	_, err := svc.GenerateSubtitles(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v"})
	require.Error(t, err)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.Len(t, notifier.events, 1)
	event := notifier.events[0]
	assert.Equal(t, "failed", event.Status)
	assert.Equal(t, "acquiring", event.Stage)
	assert.True(t, event.Retryable)

	stored, err := tasks.Get(context.Background(), event.TaskId)
	require.NoError(t, err)
	assert.Equal(t, types.SubtitleTaskStatusFailed, stored.Status)
	assert.Equal(t, apperrors.CodeRateLimited, stored.FailCode)

	status, err := svc.GetTaskStatus(context.Background(), event.TaskId)
	require.NoError(t, err)
	require.NotNil(t, status.Error)
	assert.Equal(t, "acquiring", status.Error.Stage)
	assert.True(t, status.Error.Retryable)
}

func TestGenerateSubtitlesPublishFailure(t *testing.T) {
	runner := &fakeRunner{result: helloResult()}
	svc, _, store, notifier := newTestService(runner)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	_, err := svc.GenerateSubtitles(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePublishFailed, apperrors.GetCode(err))
	assert.Equal(t, apperrors.StagePublish, apperrors.StageOf(err))
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "publishing", notifier.events[0].Stage)
}

func TestStartSubtitleTaskDispatches(t *testing.T) {
	runner := &fakeRunner{result: helloResult()}
	svc, tasks, store, _ := newTestService(runner)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("/api/file/x.vtt", nil)

	var dispatched []types.SubtitleTaskPayload
	svc.SetDispatcher(dispatcherFunc(func(_ context.Context, p types.SubtitleTaskPayload) error {
		dispatched = append(dispatched, p)
		return nil
	}))

	res, err := svc.StartSubtitleTask(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v", TargetLanguage: "pt_br"})
	require.NoError(t, err)
	assert.Equal(t, "queued", res.Status)
	require.Len(t, dispatched, 1)
	assert.Equal(t, res.TaskId, dispatched[0].TaskID)
	assert.Equal(t, "pt-BR", dispatched[0].TargetLanguage)
	assert.Zero(t, runner.calls)

	require.NoError(t, svc.ProcessSubtitleTask(context.Background(), dispatched[0]))
	stored, err := tasks.Get(context.Background(), res.TaskId)
	require.NoError(t, err)
	assert.Equal(t, types.SubtitleTaskStatusSuccess, stored.Status)

	// A finished task is not processed twice.
	require.NoError(t, svc.ProcessSubtitleTask(context.Background(), dispatched[0]))
	assert.Equal(t, 1, runner.calls)

	history, err := svc.GetTaskHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.NoError(t, svc.DeleteTask(context.Background(), res.TaskId))
	_, err = svc.GetTaskStatus(context.Background(), res.TaskId)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))
}

func TestStartSubtitleTaskQueueFull(t *testing.T) {
	svc, tasks, _, notifier := newTestService(&fakeRunner{result: helloResult()})
	svc.SetDispatcher(dispatcherFunc(func(context.Context, types.SubtitleTaskPayload) error {
		return apperrors.ErrBusy
	}))

	_, err := svc.StartSubtitleTask(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v"})
	assert.Equal(t, apperrors.CodeBusy, apperrors.GetCode(err))
	require.Len(t, notifier.events, 1)
	stored, err := tasks.Get(context.Background(), notifier.events[0].TaskId)
	require.NoError(t, err)
	assert.Equal(t, types.SubtitleTaskStatusFailed, stored.Status)
}

func TestStartSubtitleTaskWithoutDispatcher(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeRunner{result: helloResult()})
	_, err := svc.StartSubtitleTask(context.Background(), dto.GenerateSubtitlesReq{VideoUrl: "https://example.com/v"})
	assert.Equal(t, apperrors.CodeInvalidParams, apperrors.GetCode(err))
}

func TestDeleteRunningTaskRefused(t *testing.T) {
	svc, tasks, _, _ := newTestService(&fakeRunner{result: helloResult()})
	require.NoError(t, tasks.Save(context.Background(), &types.SubtitleTask{TaskId: "busy", Status: types.SubtitleTaskStatusProcessing}))

	err := svc.DeleteTask(context.Background(), "busy")
	assert.Equal(t, apperrors.CodeInvalidParams, apperrors.GetCode(err))
}

func TestBuildComponentsFromDefaults(t *testing.T) {
	stubAppDirs(t)
	conf := config.Default()
	conf.Translate.Provider = "none"
	conf.Pipeline.EnableAnalysis = false
	conf.Transcribe.Provider = "whisper_asr"
	conf.Pipeline.SubtitleFormat = "srt"

	components, err := BuildComponents(context.Background(), conf)
	require.NoError(t, err)
	assert.Equal(t, types.SubtitleFormatSRT, components.Format)
	assert.Nil(t, components.Stages.Analyzer)
	assert.Equal(t, int64(2), components.Admission.Limit())
	assert.IsType(t, notify.Nop{}, components.Notifier)
	assert.Equal(t, 3, components.PipelineConfig.Retry.Retries)

	conf.Translate.Provider = "llm"
	_, err = BuildComponents(context.Background(), conf)
	assert.Error(t, err)
}
