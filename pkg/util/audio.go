package util

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"captionflow/log"
)

// NormalizeAudio re-encodes src as mono 16kHz audio, the shape speech
// recognizers expect.
func NormalizeAudio(ctx context.Context, ffmpegPath, src, dest string) error {
	stream := ffmpeg.Input(src).
		Output(dest, ffmpeg.KwArgs{"ac": 1, "ar": 16000, "b:a": "64k"}).
		OverWriteOutput()
	return runStream(ctx, ffmpegPath, stream, src)
}

// ExtractAudio drops the video track of src and writes the audio to dest.
func ExtractAudio(ctx context.Context, ffmpegPath, src, dest string) error {
	stream := ffmpeg.Input(src).
		Output(dest, ffmpeg.KwArgs{"vn": "", "ac": 1, "ar": 16000, "b:a": "64k"}).
		OverWriteOutput()
	return runStream(ctx, ffmpegPath, stream, src)
}

func runStream(ctx context.Context, ffmpegPath string, stream *ffmpeg.Stream, src string) error {
	var stderr bytes.Buffer
	if ffmpegPath != "" {
		stream = stream.SetFfmpegPath(ffmpegPath)
	}
	cmd := stream.WithErrorOutput(&stderr).Compile()
	if err := runCmd(ctx, cmd); err != nil {
		log.GetLogger().Error("处理音频失败 ffmpeg failed",
			zap.String("audio file", src),
			zap.String("output", tail(stderr.String(), 2000)),
			zap.Error(err))
		return fmt.Errorf("ffmpeg %s: %w", src, err)
	}
	return nil
}

// runCmd runs cmd and kills it once ctx is done.
func runCmd(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		return ctx.Err()
	}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDurationMs reads the container duration of an audio or video file.
func ProbeDurationMs(path string) (int64, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeDuration(out)
}

func parseProbeDuration(raw string) (int64, error) {
	var probe probeOutput
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe output has no duration")
	}
	seconds, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return int64(math.Round(seconds * 1000)), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
