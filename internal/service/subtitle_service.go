package service

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"captionflow/internal/acquire"
	"captionflow/internal/appcore"
	"captionflow/internal/dto"
	"captionflow/internal/notify"
	"captionflow/internal/pipeline"
	"captionflow/internal/translate"
	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

const defaultHistoryLimit = 50

// GenerateSubtitles runs the whole pipeline inside the request and returns
// the published subtitles.
func (s *Service) GenerateSubtitles(ctx context.Context, req dto.GenerateSubtitlesReq) (*dto.GenerateSubtitlesResData, error) {
	ref, target, err := s.validateRequest(req.VideoUrl, req.TargetLanguage)
	if err != nil {
		return nil, err
	}

	task := &types.SubtitleTask{
		TaskId:         uuid.NewString(),
		VideoSrc:       ref.String(),
		TargetLanguage: target,
		Status:         types.SubtitleTaskStatusProcessing,
	}
	result, err := s.runTask(ctx, task)
	if err != nil {
		return nil, err
	}

	return &dto.GenerateSubtitlesResData{
		TaskId:         task.TaskId,
		VideoUrl:       ref.String(),
		TargetLanguage: target,
		Format:         string(result.Subtitles.Format),
		SubtitlesUrl:   task.SubtitleUrl,
		Transcript:     result.Transcript.Text(),
		Segments:       dto.SegmentItems(result.Transcript.Segments),
		Untranslated:   result.Transcript.UntranslatedCount(),
		Analysis:       dto.NewAnalysisItem(result.Analysis),
	}, nil
}

// StartSubtitleTask records a queued task and hands it to the dispatcher.
func (s *Service) StartSubtitleTask(ctx context.Context, req dto.GenerateSubtitlesReq) (*dto.StartSubtitleTaskResData, error) {
	if s.Tasks == nil || s.Dispatcher == nil {
		return nil, apperrors.New(apperrors.CodeInvalidParams, "异步任务未启用 Async tasks are disabled")
	}
	ref, target, err := s.validateRequest(req.VideoUrl, req.TargetLanguage)
	if err != nil {
		return nil, err
	}

	task := &types.SubtitleTask{
		TaskId:         uuid.NewString(),
		VideoSrc:       ref.String(),
		TargetLanguage: target,
		Status:         types.SubtitleTaskStatusQueued,
		StatusMsg:      "排队中 Queued",
	}
	if err := s.Tasks.Save(ctx, task); err != nil {
		log.GetLogger().Error("StartSubtitleTask SaveTask err", zap.Error(err))
		return nil, err
	}

	payload := types.SubtitleTaskPayload{TaskID: task.TaskId, URL: task.VideoSrc, TargetLanguage: target}
	if err := s.Dispatcher.Dispatch(ctx, payload); err != nil {
		log.GetLogger().Warn("StartSubtitleTask dispatch failed", zap.String("task_id", task.TaskId), zap.Error(err))
		s.finish(ctx, task, nil, err)
		return nil, err
	}

	return &dto.StartSubtitleTaskResData{TaskId: task.TaskId, Status: task.Status.String()}, nil
}

// ProcessSubtitleTask is called by background workers. A task that already
// succeeded is not run again.
func (s *Service) ProcessSubtitleTask(ctx context.Context, payload types.SubtitleTaskPayload) error {
	var task *types.SubtitleTask
	if s.Tasks != nil {
		existing, err := s.Tasks.Get(ctx, payload.TaskID)
		if err != nil && !apperrors.Is(err, apperrors.CodeNotFound) {
			return err
		}
		task = existing
	}
	if task == nil {
		task = &types.SubtitleTask{
			TaskId:         payload.TaskID,
			VideoSrc:       payload.URL,
			TargetLanguage: payload.TargetLanguage,
		}
	}
	if task.Status == types.SubtitleTaskStatusSuccess {
		log.GetLogger().Info("subtitle task already finished", zap.String("task_id", task.TaskId))
		return nil
	}

	_, err := s.runTask(ctx, task)
	return err
}

func (s *Service) GetTaskStatus(ctx context.Context, taskId string) (*dto.SubtitleTaskResData, error) {
	if s.Tasks == nil {
		return nil, apperrors.ErrNotFound
	}
	task, err := s.Tasks.Get(ctx, taskId)
	if err != nil {
		return nil, err
	}
	return taskResData(task), nil
}

func (s *Service) GetTaskHistory(ctx context.Context, limit int) ([]dto.SubtitleTaskResData, error) {
	if s.Tasks == nil {
		return []dto.SubtitleTaskResData{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}
	tasks, err := s.Tasks.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]dto.SubtitleTaskResData, 0, len(tasks))
	for i := range tasks {
		items = append(items, *taskResData(&tasks[i]))
	}
	return items, nil
}

func (s *Service) DeleteTask(ctx context.Context, taskId string) error {
	if s.Tasks == nil {
		return apperrors.ErrNotFound
	}
	task, err := s.Tasks.Get(ctx, taskId)
	if err != nil {
		return err
	}
	if task.Status == types.SubtitleTaskStatusProcessing {
		return apperrors.WrapWithDetail(apperrors.CodeInvalidParams, "任务运行中，无法删除 Task is still running", taskId, nil)
	}
	return s.Tasks.Delete(ctx, taskId)
}

func (s *Service) validateRequest(videoUrl, targetLanguage string) (types.VideoReference, string, error) {
	ref := types.VideoReference(strings.TrimSpace(videoUrl))
	if err := acquire.ValidateReference(ref); err != nil {
		return "", "", err
	}

	target := strings.TrimSpace(targetLanguage)
	if target == "" {
		target = s.TargetLanguage
	}
	if target == "" || strings.EqualFold(target, translate.NoneLanguage) {
		return ref, translate.NoneLanguage, nil
	}
	normalized, err := translate.NormalizeLanguage(target)
	if err != nil {
		return "", "", err
	}
	return ref, normalized, nil
}

// runTask drives one task through the pipeline and publishing, recording
// every stage on the task row.
func (s *Service) runTask(ctx context.Context, task *types.SubtitleTask) (*types.PipelineResult, error) {
	if s.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
		defer cancel()
	}

	task.Status = types.SubtitleTaskStatusProcessing
	task.StatusMsg = "处理中 Processing"
	task.FailCode, task.FailReason, task.Retryable = 0, "", false
	s.saveTask(ctx, task)

	// Events come from the pipeline goroutine only, so the task is not shared.
	observer := appcore.ObserverFunc(func(e appcore.Event) {
		if e.Stage.IsTerminal() {
			return
		}
		task.Stage = e.StageName
		s.saveTask(ctx, task)
	})

	result, err := s.Runner.Run(ctx, types.VideoReference(task.VideoSrc), pipeline.RunOptions{
		RunID:          task.TaskId,
		TargetLanguage: task.TargetLanguage,
		Observer:       observer,
	})
	if err == nil {
		task.SubtitleUrl, err = s.publish(ctx, task, result.Subtitles)
	}
	s.finish(ctx, task, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, task *types.SubtitleTask, doc *types.SubtitleDocument) (string, error) {
	lang := task.TargetLanguage
	if lang == "" || lang == translate.NoneLanguage {
		lang = "original"
	}
	key := path.Join(s.KeyPrefix, task.TaskId, lang+doc.Format.Extension())
	body := doc.Bytes()

	url, err := s.Store.Put(ctx, key, doc.Format.ContentType(), bytes.NewReader(body), int64(len(body)))
	if err != nil {
		if apperrors.StageOf(err) != apperrors.StageNone {
			return "", err
		}
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.Wrap(apperrors.CodePublishFailed, apperrors.ErrPublish.Message, err)
		}
		return "", appErr.WithStage(apperrors.StagePublish)
	}
	log.GetLogger().Info("subtitles published", zap.String("task_id", task.TaskId), zap.String("url", url))
	return url, nil
}

// finish stores the outcome and emits the completion event. Both survive a
// canceled request context.
func (s *Service) finish(ctx context.Context, task *types.SubtitleTask, result *types.PipelineResult, err error) {
	ctx = context.WithoutCancel(ctx)
	event := notify.TaskEvent{
		TaskId:     task.TaskId,
		VideoUrl:   task.VideoSrc,
		FinishedAt: time.Now().UTC(),
	}

	if err != nil {
		task.Status = types.SubtitleTaskStatusFailed
		task.Stage = string(apperrors.StageOf(err))
		task.StatusMsg = apperrors.GetMessage(err)
		task.FailCode = apperrors.GetCode(err)
		task.FailReason = err.Error()
		task.Retryable = apperrors.Retryable(err)

		event.Stage = task.Stage
		event.ErrorCode = task.FailCode
		event.Error = task.FailReason
		event.Retryable = task.Retryable
	} else {
		task.Status = types.SubtitleTaskStatusSuccess
		task.Stage = appcore.StageDone.String()
		task.StatusMsg = "成功 Success"
		task.Transcript = result.Transcript.Text()
		task.Untranslated = result.Transcript.UntranslatedCount()
		if data, mErr := json.Marshal(result.Transcript.Segments); mErr == nil {
			task.SegmentsJson = string(data)
		}
		if result.Analysis != nil {
			if data, mErr := json.Marshal(result.Analysis); mErr == nil {
				task.AnalysisJson = string(data)
			}
		}
		event.SubtitlesUrl = task.SubtitleUrl
		event.Analysis = result.Analysis
	}
	event.Status = task.Status.String()

	s.saveTask(ctx, task)
	if s.Notifier != nil {
		if nErr := s.Notifier.Notify(ctx, event); nErr != nil {
			log.GetLogger().Warn("task event not delivered", zap.String("task_id", task.TaskId), zap.Error(nErr))
		}
	}
}

func (s *Service) saveTask(ctx context.Context, task *types.SubtitleTask) {
	if s.Tasks == nil {
		return
	}
	if err := s.Tasks.Save(context.WithoutCancel(ctx), task); err != nil {
		log.GetLogger().Error("failed to save task", zap.String("task_id", task.TaskId), zap.Error(err))
	}
}

func taskResData(task *types.SubtitleTask) *dto.SubtitleTaskResData {
	res := &dto.SubtitleTaskResData{
		TaskId:         task.TaskId,
		VideoUrl:       task.VideoSrc,
		TargetLanguage: task.TargetLanguage,
		Status:         task.Status.String(),
		Stage:          task.Stage,
		StatusMsg:      task.StatusMsg,
		SubtitlesUrl:   task.SubtitleUrl,
		Transcript:     task.Transcript,
		Untranslated:   task.Untranslated,
		CreateTime:     task.CreateTime,
		UpdateTime:     task.UpdateTime,
	}
	if task.SegmentsJson != "" {
		var segments []types.TranscriptSegment
		if err := json.Unmarshal([]byte(task.SegmentsJson), &segments); err == nil {
			res.Segments = dto.SegmentItems(segments)
		}
	}
	if task.AnalysisJson != "" {
		var analysis types.Analysis
		if err := json.Unmarshal([]byte(task.AnalysisJson), &analysis); err == nil {
			res.Analysis = dto.NewAnalysisItem(&analysis)
		}
	}
	if task.Status == types.SubtitleTaskStatusFailed {
		res.Error = &dto.TaskError{
			Code:      task.FailCode,
			Msg:       task.StatusMsg,
			Stage:     task.Stage,
			Retryable: task.Retryable,
		}
	}
	return res
}
