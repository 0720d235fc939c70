package types

import (
	"fmt"
	"strconv"
	"strings"
)

type SubtitleFormat string

const (
	SubtitleFormatVTT SubtitleFormat = "vtt"
	SubtitleFormatSRT SubtitleFormat = "srt"
)

// ParseSubtitleFormat accepts "vtt"/"webvtt" and "srt". Empty means vtt.
func ParseSubtitleFormat(s string) (SubtitleFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vtt", "webvtt":
		return SubtitleFormatVTT, nil
	case "srt":
		return SubtitleFormatSRT, nil
	}
	return "", fmt.Errorf("unsupported subtitle format %q", s)
}

func (f SubtitleFormat) Extension() string {
	if f == SubtitleFormatSRT {
		return ".srt"
	}
	return ".vtt"
}

func (f SubtitleFormat) ContentType() string {
	if f == SubtitleFormatSRT {
		return "application/x-subrip; charset=utf-8"
	}
	return "text/vtt; charset=utf-8"
}

// SubtitleCue is one displayed subtitle block.
type SubtitleCue struct {
	Index   int      `json:"index"`
	StartMs int64    `json:"start_ms"`
	EndMs   int64    `json:"end_ms"`
	Lines   []string `json:"lines"`
}

// SubtitleDocument is an immutable, ordered list of cues.
type SubtitleDocument struct {
	Format SubtitleFormat `json:"format"`
	Cues   []SubtitleCue  `json:"cues"`
}

// Bytes serializes the document. Output depends only on the cues and format.
func (d *SubtitleDocument) Bytes() []byte {
	var b strings.Builder
	sep := byte('.')
	if d.Format == SubtitleFormatSRT {
		sep = ','
	} else {
		b.WriteString("WEBVTT\n\n")
	}
	for i, cue := range d.Cues {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(cue.Index))
		b.WriteByte('\n')
		b.WriteString(FormatTimestamp(cue.StartMs, sep))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(cue.EndMs, sep))
		b.WriteByte('\n')
		for _, line := range cue.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

// TotalDurationMs sums the cue spans.
func (d *SubtitleDocument) TotalDurationMs() int64 {
	var total int64
	for _, cue := range d.Cues {
		total += cue.EndMs - cue.StartMs
	}
	return total
}

// FormatTimestamp renders ms as HH:MM:SS<sep>mmm.
func FormatTimestamp(ms int64, sep byte) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1000
	milli := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, milli)
}
