// Package errors provides structured error handling for the application.
// It defines AppError type with error codes for consistent API responses,
// plus the pipeline stage and retry classification each failure carries.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes organized by category
const (
	// General errors (1000-1099)
	CodeSuccess       = 0
	CodeUnknown       = 1000
	CodeInvalidParams = 1001
	CodeNotFound      = 1002
	CodeUnauthorized  = 1003

	// Acquisition errors (1100-1199)
	CodeVideoDownload  = 1100
	CodeAudioExtract   = 1101
	CodeVideoNotFound  = 1102
	CodeUnsupportedURL = 1103
	CodeEmptyAudio     = 1104
	CodeRateLimited    = 1105

	// Transcription errors (1200-1299)
	CodeTranscribeFailed   = 1200
	CodeTranscribeTimeout  = 1201
	CodeMissingTiming      = 1202
	CodeEmptyTranscript    = 1203
	CodeTranscribeRejected = 1204
	CodeTranscribeQuota    = 1205

	// Translation errors (1300-1399)
	CodeTranslateFailed     = 1300
	CodeTranslateTimeout    = 1301
	CodeLLMQuotaExceeded    = 1302
	CodeEmptyTranslation    = 1303
	CodeUnsupportedLanguage = 1304

	// Subtitle synthesis errors (1400-1499)
	CodeSynthesisInvalidInput = 1400
	CodeSynthesisFailed       = 1401

	// Storage errors (1500-1599)
	CodeDBError        = 1500
	CodeFileNotFound   = 1501
	CodeFileWriteError = 1502
	CodePublishFailed  = 1503

	// Analysis errors (1600-1699)
	CodeAnalysisFailed  = 1600
	CodeAnalysisInvalid = 1601

	// Pipeline errors (1700-1799)
	CodeBusy     = 1700
	CodeTimeout  = 1701
	CodeCanceled = 1702
)

// Stage names the pipeline step an error originated from.
type Stage string

const (
	StageNone       Stage = ""
	StageAcquire    Stage = "acquiring"
	StageTranscribe Stage = "transcribing"
	StageTranslate  Stage = "translating"
	StageSynthesize Stage = "synthesizing"
	StageAnalyze    Stage = "analyzing"
	StageAdmission  Stage = "admission"
	StagePublish    Stage = "publishing"
)

// AppError represents a structured application error
type AppError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Stage     Stage  `json:"stage,omitempty"`
	Transient bool   `json:"-"`
	Cause     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithStage returns a copy of the error tagged with the given stage.
func (e *AppError) WithStage(stage Stage) *AppError {
	cp := *e
	cp.Stage = stage
	return &cp
}

// AsTransient returns a copy of the error marked as retryable.
func (e *AppError) AsTransient() *AppError {
	cp := *e
	cp.Transient = true
	return &cp
}

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code int, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetail wraps an error with additional detail
func WrapWithDetail(code int, message string, detail string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
	}
}

// Transient wraps cause as a retryable failure.
func Transient(code int, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Transient: true,
	}
}

// Is checks if the target error is an AppError with the specified code
func Is(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As returns the outermost AppError in the chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode extracts error code from error, returns CodeUnknown if not AppError
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetMessage extracts message from error
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// GetDetail extracts detail from error
func GetDetail(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Detail
	}
	return ""
}

// StageOf reports the stage recorded on the error, if any.
func StageOf(err error) Stage {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return StageNone
}

// IsTransient reports whether the failure may succeed when repeated.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Transient
	}
	return false
}

// Retryable reports whether a client may retry the whole request later.
func Retryable(err error) bool {
	if IsTransient(err) {
		return true
	}
	switch GetCode(err) {
	case CodeBusy, CodeTimeout, CodeRateLimited:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status class returned by the request API.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := GetCode(err)
	switch {
	case code == CodeBusy:
		return http.StatusServiceUnavailable
	case code == CodeTimeout, code == CodeTranscribeTimeout, code == CodeTranslateTimeout:
		return http.StatusGatewayTimeout
	case code == CodeCanceled:
		return 499
	case code == CodeNotFound, code == CodeFileNotFound:
		return http.StatusNotFound
	case code == CodeInvalidParams, code == CodeUnsupportedLanguage:
		return http.StatusBadRequest
	case code >= 1100 && code < 1200:
		return http.StatusBadRequest
	case code >= 1200 && code < 1400:
		return http.StatusBadGateway
	case code >= 1600 && code < 1700:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Predefined common errors
var (
	ErrInvalidParams = New(CodeInvalidParams, "参数错误 Invalid parameters")
	ErrNotFound      = New(CodeNotFound, "资源不存在 Resource not found")
	ErrUnauthorized  = New(CodeUnauthorized, "未授权 Unauthorized")

	// Acquisition
	ErrVideoDownload  = New(CodeVideoDownload, "视频下载失败 Video download failed")
	ErrAudioExtract   = New(CodeAudioExtract, "音频提取失败 Audio extraction failed")
	ErrUnsupportedURL = New(CodeUnsupportedURL, "链接不合法 Invalid video reference")
	ErrEmptyAudio     = New(CodeEmptyAudio, "音频为空 Extracted audio is empty")
	ErrRateLimited    = New(CodeRateLimited, "请求频率限制 Rate limited")

	// Transcription
	ErrTranscribeFailed  = New(CodeTranscribeFailed, "语音识别失败 Transcription failed")
	ErrTranscribeTimeout = New(CodeTranscribeTimeout, "语音识别超时 Transcription timeout")
	ErrMissingTiming     = New(CodeMissingTiming, "转录缺少时间信息 Transcript has no usable timing")
	ErrEmptyTranscript   = New(CodeEmptyTranscript, "转录为空 Transcript is empty")

	// Translation
	ErrTranslateFailed     = New(CodeTranslateFailed, "翻译失败 Translation failed")
	ErrLLMQuotaExceeded    = New(CodeLLMQuotaExceeded, "LLM配额耗尽 LLM quota exceeded")
	ErrEmptyTranslation    = New(CodeEmptyTranslation, "翻译结果为空 Translation is empty")
	ErrUnsupportedLanguage = New(CodeUnsupportedLanguage, "不支持的语言 Unsupported target language")

	// Synthesis
	ErrSynthesisInvalidInput = New(CodeSynthesisInvalidInput, "字幕输入不合法 Invalid transcript for subtitles")

	// Storage
	ErrDBError      = New(CodeDBError, "数据库错误 Database error")
	ErrFileNotFound = New(CodeFileNotFound, "文件不存在 File not found")
	ErrPublish      = New(CodePublishFailed, "字幕发布失败 Subtitle publishing failed")

	// Analysis
	ErrAnalysisFailed = New(CodeAnalysisFailed, "内容分析失败 Analysis failed")

	// Pipeline
	ErrBusy     = New(CodeBusy, "服务繁忙 Too many concurrent requests")
	ErrTimeout  = New(CodeTimeout, "处理超时 Request timed out")
	ErrCanceled = New(CodeCanceled, "请求已取消 Request canceled")
)
