// Package acquire turns a video reference into a temporary local audio file.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
	"captionflow/pkg/util"
)

const defaultFormat = "mp3"

type Options struct {
	TempDir    string
	Format     string
	Normalize  bool
	FfmpegPath string
	// MaxBytes rejects larger downloads. Zero disables the check.
	MaxBytes int64
}

type Acquirer struct {
	source types.AudioSource
	opts   Options

	normalize func(ctx context.Context, ffmpegPath, src, dest string) error
	probe     func(path string) (int64, error)
}

func NewAcquirer(source types.AudioSource, opts Options) *Acquirer {
	if opts.Format == "" {
		opts.Format = defaultFormat
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Acquirer{
		source:    source,
		opts:      opts,
		normalize: util.NormalizeAudio,
		probe:     util.ProbeDurationMs,
	}
}

// Acquire validates ref, fetches its audio into a uniquely named temp file
// and hands ownership of that file to the caller. Nothing is left on disk
// when an error is returned.
func (a *Acquirer) Acquire(ctx context.Context, ref types.VideoReference) (*types.AudioAsset, error) {
	if err := ValidateReference(ref); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.opts.TempDir, 0o755); err != nil {
		return nil, acquisitionError(apperrors.CodeFileWriteError, "创建临时目录失败 Failed to create temp dir", err)
	}

	destBase := filepath.Join(a.opts.TempDir, "audio_"+uuid.NewString())
	path, err := a.fetch(ctx, ref, destBase)
	if err != nil {
		removeMatching(destBase)
		return nil, err
	}

	asset, err := a.finish(ctx, path, destBase)
	if err != nil {
		removeMatching(destBase)
		return nil, err
	}

	log.GetLogger().Info("audio acquired",
		zap.String("video", ref.String()),
		zap.String("path", asset.Path),
		zap.Int64("bytes", asset.SizeBytes),
		zap.Int64("duration_ms", asset.DurationMs))
	return asset, nil
}

func (a *Acquirer) fetch(ctx context.Context, ref types.VideoReference, destBase string) (string, error) {
	path, err := a.source.Fetch(ctx, ref, destBase, a.opts.Format)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", err
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return "", appErr.WithStage(apperrors.StageAcquire)
		}
		return "", acquisitionError(apperrors.CodeVideoDownload, apperrors.ErrVideoDownload.Message, err)
	}
	return path, nil
}

func (a *Acquirer) finish(ctx context.Context, path, destBase string) (*types.AudioAsset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, acquisitionError(apperrors.CodeEmptyAudio, apperrors.ErrEmptyAudio.Message, err)
	}
	if info.Size() == 0 {
		return nil, acquisitionError(apperrors.CodeEmptyAudio, apperrors.ErrEmptyAudio.Message, nil)
	}
	if a.opts.MaxBytes > 0 && info.Size() > a.opts.MaxBytes {
		return nil, apperrors.WrapWithDetail(apperrors.CodeAudioExtract, "音频文件过大 Audio file too large",
			fmt.Sprintf("%d bytes exceeds limit %d", info.Size(), a.opts.MaxBytes), nil).
			WithStage(apperrors.StageAcquire)
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if a.opts.Normalize {
		normalized := destBase + "_16k.mp3"
		if err := a.normalize(ctx, a.opts.FfmpegPath, path, normalized); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.GetLogger().Warn("audio normalization failed, using original file", zap.String("path", path), zap.Error(err))
			_ = os.Remove(normalized)
		} else {
			_ = os.Remove(path)
			path = normalized
			format = "mp3"
			if info, err = os.Stat(path); err != nil || info.Size() == 0 {
				return nil, acquisitionError(apperrors.CodeEmptyAudio, apperrors.ErrEmptyAudio.Message, err)
			}
		}
	}

	var durationMs int64
	if a.probe != nil {
		if d, err := a.probe(path); err == nil {
			durationMs = d
		} else {
			log.GetLogger().Debug("audio duration probe failed", zap.String("path", path), zap.Error(err))
		}
	}
	return types.NewAudioAsset(path, format, info.Size(), durationMs), nil
}

func acquisitionError(code int, msg string, cause error) error {
	return apperrors.Wrap(code, msg, cause).WithStage(apperrors.StageAcquire)
}

// removeMatching deletes every file written under destBase by a backend.
func removeMatching(destBase string) {
	matches, err := filepath.Glob(destBase + "*")
	if err != nil {
		return
	}
	for _, m := range matches {
		if rmErr := os.Remove(m); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.GetLogger().Warn("failed to remove temp audio", zap.String("path", m), zap.Error(rmErr))
		}
	}
}
