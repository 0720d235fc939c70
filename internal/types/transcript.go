package types

import "strings"

// TranscriptSegment is a time-aligned piece of speech.
// Offsets are fixed at transcription time; translation only replaces Text.
type TranscriptSegment struct {
	StartMs      int64  `json:"start_ms"`
	EndMs        int64  `json:"end_ms"`
	Text         string `json:"text"`
	Untranslated bool   `json:"untranslated,omitempty"`
}

// DurationMs returns the span covered by the segment.
func (s TranscriptSegment) DurationMs() int64 {
	return s.EndMs - s.StartMs
}

// Transcript is an ordered, non-overlapping list of segments.
type Transcript struct {
	Language string              `json:"language,omitempty"`
	Segments []TranscriptSegment `json:"segments"`
}

// Text joins the segment texts in order.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// SpanMs returns the time between the first start and the last end.
func (t Transcript) SpanMs() int64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].EndMs - t.Segments[0].StartMs
}

// WithTexts returns a copy carrying the same offsets and the given texts.
// texts must have one entry per segment.
func (t Transcript) WithTexts(texts []string, untranslated []bool) Transcript {
	out := Transcript{
		Language: t.Language,
		Segments: make([]TranscriptSegment, len(t.Segments)),
	}
	for i, seg := range t.Segments {
		seg.Text = texts[i]
		seg.Untranslated = untranslated != nil && untranslated[i]
		out.Segments[i] = seg
	}
	return out
}

// UntranslatedCount counts segments that kept their original text.
func (t Transcript) UntranslatedCount() int {
	n := 0
	for _, seg := range t.Segments {
		if seg.Untranslated {
			n++
		}
	}
	return n
}
