// Package subtitle turns a timed transcript into a subtitle document.
package subtitle

import (
	"fmt"

	"captionflow/internal/types"
	apperrors "captionflow/pkg/errors"
)

const (
	DefaultMaxCueDurationMs = 7000
	DefaultMaxLineWidth     = 42
	DefaultMaxLinesPerCue   = 2
)

type Options struct {
	MaxCueDurationMs int64
	MaxLineWidth     int
	MaxLinesPerCue   int
	Format           types.SubtitleFormat
}

func DefaultOptions() Options {
	return Options{
		MaxCueDurationMs: DefaultMaxCueDurationMs,
		MaxLineWidth:     DefaultMaxLineWidth,
		MaxLinesPerCue:   DefaultMaxLinesPerCue,
		Format:           types.SubtitleFormatVTT,
	}
}

func (o Options) Validate() error {
	if o.MaxCueDurationMs <= 0 {
		return fmt.Errorf("max cue duration must be positive, got %d", o.MaxCueDurationMs)
	}
	if o.MaxLineWidth <= 0 {
		return fmt.Errorf("max line width must be positive, got %d", o.MaxLineWidth)
	}
	if o.MaxLinesPerCue <= 0 {
		return fmt.Errorf("max lines per cue must be positive, got %d", o.MaxLinesPerCue)
	}
	if _, err := types.ParseSubtitleFormat(string(o.Format)); err != nil {
		return err
	}
	return nil
}

// Synthesizer is stateless apart from its options and safe for concurrent use.
type Synthesizer struct {
	opts Options
}

func NewSynthesizer(opts Options) (*Synthesizer, error) {
	if opts.Format == "" {
		opts.Format = types.SubtitleFormatVTT
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Synthesizer{opts: opts}, nil
}

func (s *Synthesizer) Options() Options {
	return s.opts
}

// Synthesize builds the subtitle document for tr. Identical input and
// options always produce an identical document.
func (s *Synthesizer) Synthesize(tr types.Transcript) (*types.SubtitleDocument, error) {
	if err := ValidateTranscript(tr); err != nil {
		return nil, err
	}

	doc := &types.SubtitleDocument{Format: s.opts.Format}
	for _, seg := range tr.Segments {
		for _, p := range s.splitSegment(seg) {
			doc.Cues = append(doc.Cues, types.SubtitleCue{
				Index:   len(doc.Cues) + 1,
				StartMs: p.startMs,
				EndMs:   p.endMs,
				Lines:   p.lines,
			})
		}
	}
	if len(doc.Cues) == 0 {
		return nil, synthesisError("transcript has no text", "")
	}
	return doc, nil
}

// ValidateTranscript checks the offset invariants synthesis relies on.
func ValidateTranscript(tr types.Transcript) error {
	if len(tr.Segments) == 0 {
		return synthesisError("transcript is empty", "")
	}
	var prevEnd int64
	for i, seg := range tr.Segments {
		if seg.StartMs < 0 || seg.EndMs <= seg.StartMs {
			return synthesisError("segment has invalid offsets",
				fmt.Sprintf("segment %d: start=%d end=%d", i, seg.StartMs, seg.EndMs))
		}
		if i > 0 && seg.StartMs < prevEnd {
			return synthesisError("segments overlap or are out of order",
				fmt.Sprintf("segment %d starts at %d before previous end %d", i, seg.StartMs, prevEnd))
		}
		prevEnd = seg.EndMs
	}
	return nil
}

func synthesisError(msg, detail string) error {
	return apperrors.WrapWithDetail(apperrors.CodeSynthesisInvalidInput,
		"字幕输入不合法 "+msg, detail, nil).WithStage(apperrors.StageSynthesize)
}

type piece struct {
	startMs int64
	endMs   int64
	lines   []string
}

// splitSegment picks the smallest piece count whose pieces all wrap within
// the line limits and stay within the cue duration. When the text cannot be
// split finely enough to meet the duration limit, the line limits win.
func (s *Synthesizer) splitSegment(seg types.TranscriptSegment) []piece {
	tokens := tokenize(seg.Text, s.opts.MaxLineWidth)
	if len(tokens) == 0 {
		return nil
	}

	span := seg.EndMs - seg.StartMs
	maxK := len(tokens)
	if int64(maxK) > span {
		maxK = int(span)
	}
	minK := int((span + s.opts.MaxCueDurationMs - 1) / s.opts.MaxCueDurationMs)
	if minK < 1 {
		minK = 1
	}
	if minK > maxK {
		minK = maxK
	}

	var linesOnly []piece
	for k := minK; k <= maxK; k++ {
		pieces := s.layout(seg, tokens, k)
		linesOK, durationOK := s.fits(pieces)
		if linesOK && durationOK {
			return pieces
		}
		if linesOK && linesOnly == nil {
			linesOnly = pieces
		}
	}
	if linesOnly != nil {
		return linesOnly
	}
	return s.layout(seg, tokens, maxK)
}

func (s *Synthesizer) fits(pieces []piece) (linesOK, durationOK bool) {
	linesOK, durationOK = true, true
	for _, p := range pieces {
		if len(p.lines) > s.opts.MaxLinesPerCue {
			linesOK = false
		}
		if p.endMs-p.startMs > s.opts.MaxCueDurationMs {
			durationOK = false
		}
	}
	return linesOK, durationOK
}

// layout splits tokens into k pieces of balanced text length and divides the
// segment span among them in proportion to that length.
func (s *Synthesizer) layout(seg types.TranscriptSegment, tokens []token, k int) []piece {
	groups := partition(tokens, k)

	total := 0
	for _, t := range tokens {
		total += t.weight
	}

	span := seg.EndMs - seg.StartMs
	pieces := make([]piece, len(groups))
	cum := 0
	prevEnd := seg.StartMs
	for i, g := range groups {
		for _, t := range g {
			cum += t.weight
		}
		end := seg.StartMs + span*int64(cum)/int64(total)
		remaining := int64(len(groups) - i - 1)
		if end < prevEnd+1 {
			end = prevEnd + 1
		}
		if end > seg.EndMs-remaining {
			end = seg.EndMs - remaining
		}
		if i == len(groups)-1 {
			end = seg.EndMs
		}
		pieces[i] = piece{
			startMs: prevEnd,
			endMs:   end,
			lines:   wrap(g, s.opts.MaxLineWidth),
		}
		prevEnd = end
	}
	return pieces
}

// partition cuts tokens into k non-empty runs whose cumulative weights sit
// as close as possible to the j/k marks.
func partition(tokens []token, k int) [][]token {
	n := len(tokens)
	if k <= 1 || n <= 1 {
		return [][]token{tokens}
	}
	if k > n {
		k = n
	}

	prefix := make([]int, n+1)
	for i, t := range tokens {
		prefix[i+1] = prefix[i] + t.weight
	}
	total := prefix[n]

	groups := make([][]token, 0, k)
	prev := 0
	for j := 1; j < k; j++ {
		lo, hi := prev+1, n-(k-j)
		best := lo
		bestDiff := absInt(prefix[lo]*k - total*j)
		for i := lo + 1; i <= hi; i++ {
			if d := absInt(prefix[i]*k - total*j); d < bestDiff {
				best, bestDiff = i, d
			}
		}
		groups = append(groups, tokens[prev:best])
		prev = best
	}
	groups = append(groups, tokens[prev:])
	return groups
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
