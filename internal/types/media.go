package types

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// VideoReference is the URL of the video a request asks to caption.
type VideoReference string

func (r VideoReference) String() string {
	return string(r)
}

// AudioAsset is the temporary audio file extracted for one pipeline run.
// The run that acquired it owns it and must call Release on every exit path.
type AudioAsset struct {
	Path       string
	Format     string
	SizeBytes  int64
	DurationMs int64

	once       sync.Once
	releaseErr error
}

// NewAudioAsset wraps an already written temporary file.
func NewAudioAsset(path, format string, sizeBytes, durationMs int64) *AudioAsset {
	return &AudioAsset{
		Path:       path,
		Format:     format,
		SizeBytes:  sizeBytes,
		DurationMs: durationMs,
	}
}

// Release deletes the backing file. Safe to call more than once.
func (a *AudioAsset) Release() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if strings.TrimSpace(a.Path) == "" {
			return
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.releaseErr = err
		}
	})
	return a.releaseErr
}

// RawSegment is a segment as reported by a speech-to-text vendor, in seconds.
type RawSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// RawTranscription is the unvalidated output of a speech-to-text vendor.
type RawTranscription struct {
	Language string
	Text     string
	Segments []RawSegment
}
