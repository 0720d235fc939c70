// Package transcribe converts audio into a strictly ordered, time-aligned
// transcript using a speech-to-text backend.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

type Transcriber struct {
	stt      types.SpeechToText
	language string
}

// New returns a Transcriber. language is a hint passed to the backend and
// may be empty for auto-detection.
func New(stt types.SpeechToText, language string) *Transcriber {
	return &Transcriber{stt: stt, language: language}
}

// Transcribe sends the asset to the backend and validates the result.
// The asset is neither consumed nor released.
func (t *Transcriber) Transcribe(ctx context.Context, asset *types.AudioAsset) (types.Transcript, error) {
	if asset == nil || asset.Path == "" {
		return types.Transcript{}, transcriptionError(apperrors.CodeTranscribeRejected, "没有可识别的音频 No audio to transcribe", "", nil)
	}

	raw, err := t.stt.Recognize(ctx, asset.Path, t.language)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return types.Transcript{}, err
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return types.Transcript{}, appErr.WithStage(apperrors.StageTranscribe)
		}
		return types.Transcript{}, apperrors.Wrap(apperrors.CodeTranscribeFailed, apperrors.ErrTranscribeFailed.Message, err).
			WithStage(apperrors.StageTranscribe)
	}

	transcript, err := Normalize(raw)
	if err != nil {
		return types.Transcript{}, err
	}
	log.GetLogger().Info("transcription finished",
		zap.String("audio", asset.Path),
		zap.String("language", transcript.Language),
		zap.Int("segments", len(transcript.Segments)))
	return transcript, nil
}

// Normalize turns vendor output into a Transcript whose segments are
// non-empty, strictly ordered and non-overlapping.
//
// Offsets are rounded to milliseconds. A segment that starts before the
// previous one ends is clamped to that end; one that collapses to zero
// length is merged into its neighbour. Vendor output without usable timing
// is rejected rather than guessed.
func Normalize(raw *types.RawTranscription) (types.Transcript, error) {
	if raw == nil {
		return types.Transcript{}, transcriptionError(apperrors.CodeEmptyTranscript, apperrors.ErrEmptyTranscript.Message, "no response", nil)
	}
	if len(raw.Segments) == 0 {
		if strings.TrimSpace(raw.Text) != "" {
			return types.Transcript{}, transcriptionError(apperrors.CodeMissingTiming, apperrors.ErrMissingTiming.Message, "response has text but no segments", nil)
		}
		return types.Transcript{}, transcriptionError(apperrors.CodeEmptyTranscript, apperrors.ErrEmptyTranscript.Message, "", nil)
	}

	timed := false
	prevStart := -1.0
	for i, seg := range raw.Segments {
		if math.IsNaN(seg.Start) || math.IsNaN(seg.End) || math.IsInf(seg.Start, 0) || math.IsInf(seg.End, 0) {
			return types.Transcript{}, transcriptionError(apperrors.CodeMissingTiming, apperrors.ErrMissingTiming.Message,
				fmt.Sprintf("segment %d has non-numeric offsets", i), nil)
		}
		if seg.Start < prevStart {
			return types.Transcript{}, transcriptionError(apperrors.CodeMissingTiming, apperrors.ErrMissingTiming.Message,
				fmt.Sprintf("segment %d starts before segment %d", i, i-1), nil)
		}
		prevStart = seg.Start
		if seg.End > 0 {
			timed = true
		}
	}
	if !timed {
		return types.Transcript{}, transcriptionError(apperrors.CodeMissingTiming, apperrors.ErrMissingTiming.Message, "all segments have zero offsets", nil)
	}

	out := types.Transcript{
		Language: raw.Language,
		Segments: make([]types.TranscriptSegment, 0, len(raw.Segments)),
	}
	pending := ""
	for _, seg := range raw.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		start := max(toMs(seg.Start), 0)
		end := toMs(seg.End)

		n := len(out.Segments)
		if n > 0 && start < out.Segments[n-1].EndMs {
			start = out.Segments[n-1].EndMs
		}
		if end <= start {
			if n > 0 {
				out.Segments[n-1].Text = joinText(out.Segments[n-1].Text, text)
			} else {
				pending = joinText(pending, text)
			}
			continue
		}

		out.Segments = append(out.Segments, types.TranscriptSegment{
			StartMs: start,
			EndMs:   end,
			Text:    joinText(pending, text),
		})
		pending = ""
	}

	if len(out.Segments) == 0 {
		if pending != "" {
			return types.Transcript{}, transcriptionError(apperrors.CodeMissingTiming, apperrors.ErrMissingTiming.Message, "no segment has a positive duration", nil)
		}
		return types.Transcript{}, transcriptionError(apperrors.CodeEmptyTranscript, apperrors.ErrEmptyTranscript.Message, "all segments are blank", nil)
	}
	return out, nil
}

func toMs(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func transcriptionError(code int, msg, detail string, cause error) error {
	return apperrors.WrapWithDetail(code, msg, detail, cause).WithStage(apperrors.StageTranscribe)
}
