package types

import (
	"context"
	"io"
)

// AudioSource fetches the audio track of a video into destBase.<ext> and
// returns the path it wrote.
type AudioSource interface {
	Fetch(ctx context.Context, ref VideoReference, destBase string, format string) (string, error)
}

// SpeechToText is a vendor speech recognition backend.
type SpeechToText interface {
	Recognize(ctx context.Context, audioPath string, language string) (*RawTranscription, error)
}

// Translator translates one piece of text into the target language.
type Translator interface {
	Translate(ctx context.Context, text string, targetLanguage string) (string, error)
}

type ChatCompleter interface {
	ChatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SubtitleStore publishes a finished subtitle file and returns a URL for it.
type SubtitleStore interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader, size int64) (string, error)
}
