// Package pipeline sequences the acquire, transcribe, translate, synthesize
// and analyze stages for one video and owns the resources of each run.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"captionflow/internal/appcore"
	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
	"captionflow/pkg/retry"
)

type Acquirer interface {
	Acquire(ctx context.Context, ref types.VideoReference) (*types.AudioAsset, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, asset *types.AudioAsset) (types.Transcript, error)
}

type TranscriptTranslator interface {
	TranslateTranscript(ctx context.Context, tr types.Transcript, targetLanguage string) (types.Transcript, error)
}

type Synthesizer interface {
	Synthesize(tr types.Transcript) (*types.SubtitleDocument, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, tr types.Transcript) (*types.Analysis, error)
}

// Stages holds the stage implementations. Analyzer may be nil.
type Stages struct {
	Acquirer    Acquirer
	Transcriber Transcriber
	Translator  TranscriptTranslator
	Synthesizer Synthesizer
	Analyzer    Analyzer
}

type Config struct {
	// Retry applies to acquisition and transcription. Its CallTimeout also
	// bounds the analysis call.
	Retry          retry.Policy
	TargetLanguage string
	EnableAnalysis bool
}

type RunOptions struct {
	// RunID labels events and logs; generated when empty.
	RunID string
	// TargetLanguage overrides Config.TargetLanguage.
	TargetLanguage string
	Observer       appcore.Observer
}

type Coordinator struct {
	stages    Stages
	cfg       Config
	admission *Admission
	observer  appcore.Observer
}

// NewCoordinator builds a coordinator. admission may be nil for no limit;
// observer, if set, sees every run's transitions.
func NewCoordinator(stages Stages, cfg Config, admission *Admission, observer appcore.Observer) *Coordinator {
	return &Coordinator{
		stages:    stages,
		cfg:       cfg,
		admission: admission,
		observer:  observer,
	}
}

// Run processes one video reference. It returns either a complete result,
// where only Analysis may be missing, or one error tagged with the stage
// that failed. The temporary audio is released on every path.
func (c *Coordinator) Run(ctx context.Context, ref types.VideoReference, opts RunOptions) (*types.PipelineResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	target := opts.TargetLanguage
	if target == "" {
		target = c.cfg.TargetLanguage
	}
	logger := log.GetLogger().With(zap.String("run_id", runID), zap.String("video", ref.String()))

	release, err := c.admission.Acquire(ctx)
	if err != nil {
		err = finalError(ctx, apperrors.StageAdmission, err)
		logger.Warn("pipeline not admitted", zap.Error(err))
		return nil, err
	}
	defer release()

	sm := appcore.NewStateMachine(runID, appcore.Observers{c.observer, opts.Observer})
	fail := func(err error) (*types.PipelineResult, error) {
		err = finalError(ctx, sm.Stage().ErrorStage(), err)
		_ = sm.Fail(err)
		logger.Error("pipeline failed",
			zap.String("stage", string(apperrors.StageOf(err))),
			zap.Bool("retryable", apperrors.Retryable(err)),
			zap.Error(err))
		return nil, err
	}
	advance := func(to appcore.Stage) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sm.Advance(to, "")
	}

	if err := advance(appcore.StageAcquiring); err != nil {
		return fail(err)
	}
	asset, err := retry.Do(ctx, c.cfg.Retry, "acquire", func(callCtx context.Context) (*types.AudioAsset, error) {
		return c.stages.Acquirer.Acquire(callCtx, ref)
	})
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := asset.Release(); err != nil {
			logger.Warn("failed to release audio", zap.String("path", asset.Path), zap.Error(err))
		}
	}()

	if err := advance(appcore.StageTranscribing); err != nil {
		return fail(err)
	}
	transcript, err := retry.Do(ctx, c.cfg.Retry, "transcribe", func(callCtx context.Context) (types.Transcript, error) {
		return c.stages.Transcriber.Transcribe(callCtx, asset)
	})
	if err != nil {
		return fail(err)
	}

	if err := advance(appcore.StageTranslating); err != nil {
		return fail(err)
	}
	translated := transcript
	if translationWanted(target) {
		translated, err = c.stages.Translator.TranslateTranscript(ctx, transcript, target)
		if err != nil {
			return fail(err)
		}
	}

	if err := advance(appcore.StageSynthesizing); err != nil {
		return fail(err)
	}

	// Analysis only reads the translated transcript, so it overlaps with
	// synthesis.
	analysisCtx, cancelAnalysis := context.WithCancel(ctx)
	defer cancelAnalysis()
	var analysis *types.Analysis
	analysisDone := make(chan struct{})
	runAnalysis := c.cfg.EnableAnalysis && c.stages.Analyzer != nil
	if runAnalysis {
		go func() {
			defer close(analysisDone)
			analysis = c.analyze(analysisCtx, translated, logger)
		}()
	} else {
		close(analysisDone)
	}

	doc, err := c.stages.Synthesizer.Synthesize(translated)
	if err != nil {
		return fail(err)
	}

	if runAnalysis {
		if err := advance(appcore.StageAnalyzing); err != nil {
			return fail(err)
		}
		select {
		case <-analysisDone:
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}

	if err := advance(appcore.StageDone); err != nil {
		return fail(err)
	}
	logger.Info("pipeline finished",
		zap.Int("segments", len(translated.Segments)),
		zap.Int("cues", len(doc.Cues)),
		zap.Int("untranslated", translated.UntranslatedCount()),
		zap.Bool("analysis", analysis != nil))

	return &types.PipelineResult{
		VideoReference: ref,
		Subtitles:      doc,
		Transcript:     translated,
		Analysis:       analysis,
	}, nil
}

// analyze swallows every failure; a missing analysis never fails a run.
func (c *Coordinator) analyze(ctx context.Context, tr types.Transcript, logger *zap.Logger) *types.Analysis {
	policy := retry.Policy{CallTimeout: c.cfg.Retry.CallTimeout}
	analysis, err := retry.Do(ctx, policy, "analyze", func(callCtx context.Context) (*types.Analysis, error) {
		return c.stages.Analyzer.Analyze(callCtx, tr)
	})
	if err != nil {
		logger.Warn("analysis omitted", zap.Error(err))
		return nil
	}
	return analysis
}

func translationWanted(target string) bool {
	target = strings.TrimSpace(target)
	return target != "" && !strings.EqualFold(target, "none")
}

// finalError turns any failure into one AppError naming the stage.
func finalError(ctx context.Context, stage apperrors.Stage, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.CodeTimeout, apperrors.ErrTimeout.Message, err).WithStage(stage)
	case errors.Is(ctxErr, context.Canceled):
		return apperrors.Wrap(apperrors.CodeCanceled, apperrors.ErrCanceled.Message, err).WithStage(stage)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Stage != apperrors.StageNone {
			return appErr
		}
		return appErr.WithStage(stage)
	}
	return apperrors.Wrap(fallbackCode(stage), "处理失败 Processing failed", err).WithStage(stage)
}

func fallbackCode(stage apperrors.Stage) int {
	switch stage {
	case apperrors.StageAcquire:
		return apperrors.CodeVideoDownload
	case apperrors.StageTranscribe:
		return apperrors.CodeTranscribeFailed
	case apperrors.StageTranslate:
		return apperrors.CodeTranslateFailed
	case apperrors.StageSynthesize:
		return apperrors.CodeSynthesisFailed
	}
	return apperrors.CodeUnknown
}
