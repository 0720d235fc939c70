// Package analyze derives a summary, topics and sentiment from a transcript.
package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
	"captionflow/pkg/util"
)

const (
	defaultMaxInputChars = 8000
	defaultMaxTopics     = 8
	// Topics at least this similar to an earlier one are dropped.
	topicSimilarity = 0.85
)

type Options struct {
	MaxInputChars int
	MaxTopics     int
}

type Analyzer struct {
	chat types.ChatCompleter
	opts Options
}

func NewAnalyzer(chat types.ChatCompleter, opts Options) *Analyzer {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = defaultMaxInputChars
	}
	if opts.MaxTopics <= 0 || opts.MaxTopics > defaultMaxTopics {
		opts.MaxTopics = defaultMaxTopics
	}
	return &Analyzer{chat: chat, opts: opts}
}

type rawAnalysis struct {
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
	Sentiment string   `json:"sentiment"`
}

// Analyze never retries; callers treat any error as "no analysis".
func (a *Analyzer) Analyze(ctx context.Context, tr types.Transcript) (*types.Analysis, error) {
	text := tr.Text()
	if text == "" {
		return nil, analysisError(apperrors.CodeAnalysisInvalid, "transcript has no text", nil)
	}
	if runes := []rune(text); len(runes) > a.opts.MaxInputChars {
		text = string(runes[:a.opts.MaxInputChars])
	}

	reply, err := a.chat.ChatCompletion(ctx, types.AnalysisSystemPrompt, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, analysisError(apperrors.CodeAnalysisFailed, "analysis request failed", err)
	}

	analysis, err := a.parse(reply)
	if err != nil {
		log.GetLogger().Warn("analysis reply rejected", zap.String("reply", truncate(reply, 500)), zap.Error(err))
		return nil, err
	}
	return analysis, nil
}

func (a *Analyzer) parse(reply string) (*types.Analysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(util.ExtractJsonFromText(reply)), &raw); err != nil {
		return nil, analysisError(apperrors.CodeAnalysisInvalid, "reply is not the expected JSON object", err)
	}

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		return nil, analysisError(apperrors.CodeAnalysisInvalid, "summary is empty", nil)
	}
	sentiment, err := types.ParseSentiment(raw.Sentiment)
	if err != nil {
		return nil, analysisError(apperrors.CodeAnalysisInvalid, "sentiment is not positive, neutral or negative", err)
	}

	return &types.Analysis{
		Summary:   summary,
		Topics:    dedupeTopics(raw.Topics, a.opts.MaxTopics),
		Sentiment: sentiment,
	}, nil
}

// dedupeTopics keeps first-seen order, drops case-insensitive and
// near-duplicate repeats, and caps the list at limit.
func dedupeTopics(topics []string, limit int) []string {
	cleaned := lo.Filter(lo.Map(topics, func(t string, _ int) string {
		return strings.Join(strings.Fields(t), " ")
	}), func(t string, _ int) bool {
		return t != ""
	})
	cleaned = lo.UniqBy(cleaned, strings.ToLower)

	out := make([]string, 0, min(len(cleaned), limit))
	for _, topic := range cleaned {
		if len(out) == limit {
			break
		}
		similar := lo.ContainsBy(out, func(kept string) bool {
			return similarity(kept, topic) >= topicSimilarity
		})
		if !similar {
			out = append(out, topic)
		}
	}
	return out
}

func similarity(a, b string) float64 {
	return levenshtein.RatioForStrings(
		[]rune(strings.ToLower(a)),
		[]rune(strings.ToLower(b)),
		levenshtein.DefaultOptions,
	)
}

func analysisError(code int, detail string, cause error) error {
	return apperrors.WrapWithDetail(code, apperrors.ErrAnalysisFailed.Message, detail, cause).
		WithStage(apperrors.StageAnalyze)
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return fmt.Sprintf("%s...", string(r[:n]))
	}
	return s
}
