package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
	"captionflow/pkg/retry"
)

// FailurePolicy decides what happens when one segment cannot be translated.
type FailurePolicy string

const (
	// FailFast aborts the whole transcript on the first failed segment.
	FailFast FailurePolicy = "fail_fast"
	// Substitute keeps the original text of a failed segment and flags it.
	Substitute FailurePolicy = "substitute"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailFast:
		return FailFast, nil
	case Substitute:
		return Substitute, nil
	}
	return "", fmt.Errorf("unknown translation failure policy %q", s)
}

type FanoutOptions struct {
	Concurrency int
	Policy      FailurePolicy
	Retry       retry.Policy
}

// Fanout translates the segments of a transcript concurrently and puts the
// results back in segment order.
type Fanout struct {
	translator types.Translator
	opts       FanoutOptions
}

func NewFanout(translator types.Translator, opts FanoutOptions) *Fanout {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Policy == "" {
		opts.Policy = FailFast
	}
	return &Fanout{translator: translator, opts: opts}
}

// TranslateTranscript returns a copy of tr with translated texts and the
// same offsets. Under FailFast no partial transcript is ever returned.
func (f *Fanout) TranslateTranscript(ctx context.Context, tr types.Transcript, targetLanguage string) (types.Transcript, error) {
	n := len(tr.Segments)
	texts := make([]string, n)
	untranslated := make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, seg := range tr.Segments {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := retry.Do(gctx, f.opts.Retry, "translate segment", func(callCtx context.Context) (string, error) {
				return f.translateOne(callCtx, seg.Text, targetLanguage)
			})
			if err == nil {
				texts[i] = out
				return nil
			}
			if f.opts.Policy == Substitute && gctx.Err() == nil && !fatalForTranscript(err) {
				log.GetLogger().Warn("segment left untranslated",
					zap.Int("segment", i),
					zap.String("target_language", targetLanguage),
					zap.Error(err))
				texts[i] = seg.Text
				untranslated[i] = true
				return nil
			}
			return segmentError(i, err)
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Transcript{}, ctxErr
		}
		return types.Transcript{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}

	out := tr.WithTexts(texts, untranslated)
	out.Language = targetLanguage
	return out, nil
}

func (f *Fanout) translateOne(ctx context.Context, text, targetLanguage string) (string, error) {
	out, err := f.translator.Translate(ctx, text, targetLanguage)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", emptyTranslation()
	}
	return strings.TrimSpace(out), nil
}

// fatalForTranscript reports failures that would hit every segment alike.
func fatalForTranscript(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.CodeUnsupportedLanguage, apperrors.CodeLLMQuotaExceeded:
		return true
	}
	return false
}

func segmentError(index int, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	detail := fmt.Sprintf("segment %d", index)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		tagged := appErr.WithStage(apperrors.StageTranslate)
		if tagged.Detail == "" {
			tagged.Detail = detail
		} else {
			tagged.Detail = detail + ": " + tagged.Detail
		}
		return tagged
	}
	return apperrors.WrapWithDetail(apperrors.CodeTranslateFailed, apperrors.ErrTranslateFailed.Message, detail, err).
		WithStage(apperrors.StageTranslate)
}
