package types

type SubtitleTaskStatus uint8

const (
	SubtitleTaskStatusProcessing SubtitleTaskStatus = 1
	SubtitleTaskStatusSuccess    SubtitleTaskStatus = 2
	SubtitleTaskStatusFailed     SubtitleTaskStatus = 3
	SubtitleTaskStatusQueued     SubtitleTaskStatus = 4
)

func (s SubtitleTaskStatus) String() string {
	switch s {
	case SubtitleTaskStatusProcessing:
		return "processing"
	case SubtitleTaskStatusSuccess:
		return "success"
	case SubtitleTaskStatusFailed:
		return "failed"
	case SubtitleTaskStatusQueued:
		return "queued"
	}
	return "unknown"
}

// SubtitleTask is the persisted record of one subtitle generation request.
type SubtitleTask struct {
	Id             uint64             `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	TaskId         string             `json:"task_id" gorm:"column:task_id;uniqueIndex;size:64"`
	VideoSrc       string             `json:"video_src" gorm:"column:video_src"`
	TargetLanguage string             `json:"target_language" gorm:"column:target_language"`
	Status         SubtitleTaskStatus `json:"status" gorm:"column:status;index"`
	Stage          string             `json:"stage" gorm:"column:stage"`
	StatusMsg      string             `json:"status_msg" gorm:"column:status_msg"`
	FailCode       int                `json:"fail_code,omitempty" gorm:"column:fail_code"`
	FailReason     string             `json:"fail_reason,omitempty" gorm:"column:fail_reason"`
	Retryable      bool               `json:"retryable,omitempty" gorm:"column:retryable"`
	SubtitleUrl    string             `json:"subtitles_url,omitempty" gorm:"column:subtitle_url"`
	Transcript     string             `json:"transcript,omitempty" gorm:"column:transcript;type:text"`
	SegmentsJson   string             `json:"-" gorm:"column:segments_json;type:text"`
	AnalysisJson   string             `json:"-" gorm:"column:analysis_json;type:text"`
	Untranslated   int                `json:"untranslated,omitempty" gorm:"column:untranslated"`
	CreateTime     int64              `json:"create_time" gorm:"column:create_time;autoCreateTime;index"`
	UpdateTime     int64              `json:"update_time" gorm:"column:update_time;autoUpdateTime"`
}

func (SubtitleTask) TableName() string {
	return "subtitle_tasks"
}

// SubtitleTaskPayload is the unit of work handed to background workers.
type SubtitleTaskPayload struct {
	TaskID         string `json:"task_id"`
	URL            string `json:"url"`
	TargetLanguage string `json:"target_language"`
}
