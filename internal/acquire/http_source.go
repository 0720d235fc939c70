package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
	"captionflow/pkg/util"
)

// HTTPSource downloads a direct media URL and extracts its audio track.
type HTTPSource struct {
	client     *resty.Client
	ffmpegPath string

	extract func(ctx context.Context, ffmpegPath, src, dest string) error
}

func NewHTTPSource(ffmpegPath, proxy string) *HTTPSource {
	client := resty.New().
		SetTimeout(30*time.Minute).
		SetHeader("User-Agent", "captionflow/1.0")
	if proxy != "" {
		client.SetProxy(proxy)
	}
	return &HTTPSource{
		client:     client,
		ffmpegPath: ffmpegPath,
		extract:    util.ExtractAudio,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, ref types.VideoReference, destBase string, format string) (string, error) {
	raw := destBase + ".download"
	defer os.Remove(raw)

	resp, err := s.client.R().
		SetContext(ctx).
		SetOutput(raw).
		Get(ref.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.GetLogger().Warn("media download failed", zap.String("video", ref.String()), zap.Error(err))
		return "", apperrors.Transient(apperrors.CodeVideoDownload, apperrors.ErrVideoDownload.Message, err)
	}
	if err := statusError(resp.StatusCode()); err != nil {
		return "", err
	}

	dest := destBase + "." + format
	if err := s.extract(ctx, s.ffmpegPath, raw, dest); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", apperrors.Wrap(apperrors.CodeAudioExtract, apperrors.ErrAudioExtract.Message, err)
	}
	return dest, nil
}

func statusError(status int) error {
	detail := fmt.Sprintf("status %d", status)
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return apperrors.WrapWithDetail(apperrors.CodeVideoNotFound, "视频不存在或不可访问 Video not available", detail, nil)
	case status == http.StatusTooManyRequests:
		return apperrors.Transient(apperrors.CodeRateLimited, apperrors.ErrRateLimited.Message, errors.New(detail))
	case status >= 500:
		e := apperrors.Transient(apperrors.CodeVideoDownload, apperrors.ErrVideoDownload.Message, errors.New(detail))
		e.Detail = detail
		return e
	default:
		return apperrors.WrapWithDetail(apperrors.CodeVideoDownload, apperrors.ErrVideoDownload.Message, detail, nil)
	}
}
