package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
)

const staleTaskReason = "服务重启，任务被中断 Task interrupted by server restart"

var errNoDB = apperrors.New(apperrors.CodeDBError, "数据库未初始化 Database not initialized")

// TaskStore persists subtitle task records.
type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Save inserts the task or updates the row with the same task id.
func (s *TaskStore) Save(ctx context.Context, task *types.SubtitleTask) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	var existing types.SubtitleTask
	result := s.db.WithContext(ctx).Where("task_id = ?", task.TaskId).First(&existing)

	if result.Error == nil {
		task.Id = existing.Id
		if task.CreateTime == 0 {
			task.CreateTime = existing.CreateTime
		}
		return dbError(s.db.WithContext(ctx).Save(task).Error)
	} else if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return dbError(s.db.WithContext(ctx).Create(task).Error)
	}
	return dbError(result.Error)
}

func (s *TaskStore) Get(ctx context.Context, taskId string) (*types.SubtitleTask, error) {
	if s == nil || s.db == nil {
		return nil, errNoDB
	}
	var task types.SubtitleTask
	err := s.db.WithContext(ctx).Where("task_id = ?", taskId).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.WrapWithDetail(apperrors.CodeNotFound, "任务不存在 Task not found", taskId, err)
	}
	if err != nil {
		return nil, dbError(err)
	}
	return &task, nil
}

// History returns the newest tasks first.
func (s *TaskStore) History(ctx context.Context, limit int) ([]types.SubtitleTask, error) {
	if s == nil || s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 {
		limit = 50
	}
	var tasks []types.SubtitleTask
	if err := s.db.WithContext(ctx).Order("create_time desc, id desc").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, dbError(err)
	}
	return tasks, nil
}

func (s *TaskStore) Delete(ctx context.Context, taskId string) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	result := s.db.WithContext(ctx).Where("task_id = ?", taskId).Delete(&types.SubtitleTask{})
	if result.Error != nil {
		return dbError(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.WrapWithDetail(apperrors.CodeNotFound, "任务不存在 Task not found", taskId, nil)
	}
	return nil
}

// MarkStale fails every task still queued or processing. Called on startup,
// when no worker can be running them any more.
func (s *TaskStore) MarkStale(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNoDB
	}
	result := s.db.WithContext(ctx).Model(&types.SubtitleTask{}).
		Where("status IN ?", []types.SubtitleTaskStatus{types.SubtitleTaskStatusProcessing, types.SubtitleTaskStatusQueued}).
		Updates(map[string]interface{}{
			"status":      types.SubtitleTaskStatusFailed,
			"fail_code":   apperrors.CodeCanceled,
			"fail_reason": staleTaskReason,
			"status_msg":  "任务超时/中断 Task Timeout/Interrupted",
			"retryable":   true,
		})
	return result.RowsAffected, dbError(result.Error)
}

func dbError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.CodeDBError, "数据库错误 Database error", err)
}
