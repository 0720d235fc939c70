package types

import (
	"fmt"
	"strings"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment is case-insensitive and rejects anything outside the enum.
func ParseSentiment(s string) (Sentiment, error) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive, nil
	case SentimentNeutral:
		return SentimentNeutral, nil
	case SentimentNegative:
		return SentimentNegative, nil
	}
	return "", fmt.Errorf("unknown sentiment %q", s)
}

// Analysis is the content summary derived from a full transcript.
type Analysis struct {
	Summary   string    `json:"summary"`
	Topics    []string  `json:"topics"`
	Sentiment Sentiment `json:"sentiment"`
}

// PipelineResult is returned to the caller, who owns it.
type PipelineResult struct {
	VideoReference VideoReference    `json:"video_reference"`
	Subtitles      *SubtitleDocument `json:"subtitles"`
	Transcript     Transcript        `json:"transcript"`
	Analysis       *Analysis         `json:"analysis,omitempty"`
}
