package dto

import "captionflow/internal/types"

// GenerateSubtitlesReq 生成字幕请求
type GenerateSubtitlesReq struct {
	VideoUrl       string `json:"video_url" binding:"required"`
	TargetLanguage string `json:"target_language"` // 为空时使用配置的默认语言，none 表示不翻译
}

type SegmentItem struct {
	StartMs      int64  `json:"start_ms"`
	EndMs        int64  `json:"end_ms"`
	Text         string `json:"text"`
	Untranslated bool   `json:"untranslated,omitempty"`
}

type AnalysisItem struct {
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
	Sentiment string   `json:"sentiment"`
}

// GenerateSubtitlesResData 同步生成结果
type GenerateSubtitlesResData struct {
	TaskId         string        `json:"task_id"`
	VideoUrl       string        `json:"video_url"`
	TargetLanguage string        `json:"target_language"`
	Format         string        `json:"format"`
	SubtitlesUrl   string        `json:"subtitles_url"`
	Transcript     string        `json:"transcript"`
	Segments       []SegmentItem `json:"segments"`
	Untranslated   int           `json:"untranslated,omitempty"`
	Analysis       *AnalysisItem `json:"analysis,omitempty"`
}

type StartSubtitleTaskResData struct {
	TaskId string `json:"task_id"`
	Status string `json:"status"`
}

type TaskError struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable"`
}

// SubtitleTaskResData 任务状态
type SubtitleTaskResData struct {
	TaskId         string        `json:"task_id"`
	VideoUrl       string        `json:"video_url"`
	TargetLanguage string        `json:"target_language"`
	Status         string        `json:"status"`
	Stage          string        `json:"stage,omitempty"`
	StatusMsg      string        `json:"status_msg,omitempty"`
	SubtitlesUrl   string        `json:"subtitles_url,omitempty"`
	Transcript     string        `json:"transcript,omitempty"`
	Segments       []SegmentItem `json:"segments,omitempty"`
	Untranslated   int           `json:"untranslated,omitempty"`
	Analysis       *AnalysisItem `json:"analysis,omitempty"`
	Error          *TaskError    `json:"error,omitempty"`
	CreateTime     int64         `json:"create_time"`
	UpdateTime     int64         `json:"update_time"`
}

type TaskHistoryReq struct {
	Limit int `form:"limit"`
}

func SegmentItems(segments []types.TranscriptSegment) []SegmentItem {
	items := make([]SegmentItem, 0, len(segments))
	for _, seg := range segments {
		items = append(items, SegmentItem{
			StartMs:      seg.StartMs,
			EndMs:        seg.EndMs,
			Text:         seg.Text,
			Untranslated: seg.Untranslated,
		})
	}
	return items
}

func NewAnalysisItem(a *types.Analysis) *AnalysisItem {
	if a == nil {
		return nil
	}
	topics := a.Topics
	if topics == nil {
		topics = []string{}
	}
	return &AnalysisItem{
		Summary:   a.Summary,
		Topics:    topics,
		Sentiment: string(a.Sentiment),
	}
}
