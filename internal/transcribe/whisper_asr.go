package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
)

// WhisperASRClient talks to a self-hosted whisper-asr-webservice instance.
type WhisperASRClient struct {
	client *resty.Client
}

type whisperASRResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Segments []types.RawSegment `json:"segments"`
}

func NewWhisperASRClient(baseUrl string) *WhisperASRClient {
	return &WhisperASRClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseUrl, "/")).
			SetTimeout(30 * time.Minute),
	}
}

func (c *WhisperASRClient) Recognize(ctx context.Context, audioPath string, language string) (*types.RawTranscription, error) {
	var result whisperASRResponse
	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"task":   "transcribe",
			"output": "json",
		}).
		SetFile("audio_file", audioPath).
		SetResult(&result).
		ForceContentType("application/json")
	if language != "" {
		req.SetQueryParam("language", language)
	}

	resp, err := req.Post("/asr")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Transient(apperrors.CodeTranscribeFailed, apperrors.ErrTranscribeFailed.Message, err)
	}
	if err := asrStatusError(resp.StatusCode(), resp.String(), filepath.Base(audioPath)); err != nil {
		return nil, err
	}

	return &types.RawTranscription{
		Language: result.Language,
		Text:     result.Text,
		Segments: result.Segments,
	}, nil
}

func asrStatusError(status int, body, file string) error {
	detail := fmt.Sprintf("status %d for %s: %s", status, file, truncate(body, 300))
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests:
		e := apperrors.Transient(apperrors.CodeRateLimited, apperrors.ErrRateLimited.Message, nil)
		e.Detail = detail
		return e
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e := apperrors.Transient(apperrors.CodeTranscribeTimeout, apperrors.ErrTranscribeTimeout.Message, nil)
		e.Detail = detail
		return e
	case status >= 500:
		e := apperrors.Transient(apperrors.CodeTranscribeFailed, apperrors.ErrTranscribeFailed.Message, nil)
		e.Detail = detail
		return e
	default:
		return apperrors.WrapWithDetail(apperrors.CodeTranscribeRejected, "语音识别服务拒绝请求 Transcription service rejected the audio", detail, nil)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
