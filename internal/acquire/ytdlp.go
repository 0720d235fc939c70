package acquire

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// YtdlpSource extracts audio with yt-dlp, which handles most video sites.
type YtdlpSource struct {
	Binary      string
	FfmpegPath  string
	Proxy       string
	CookiesFile string

	run commandRunner
}

func NewYtdlpSource(binary, ffmpegPath, proxy, cookiesFile string) *YtdlpSource {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtdlpSource{
		Binary:      binary,
		FfmpegPath:  ffmpegPath,
		Proxy:       proxy,
		CookiesFile: cookiesFile,
		run:         runCommand,
	}
}

func (s *YtdlpSource) args(ref types.VideoReference, destBase, format string) []string {
	args := []string{
		"-x", "--audio-format", format,
		"--no-playlist",
		"--no-progress",
		"-o", destBase + ".%(ext)s",
	}
	if s.FfmpegPath != "" {
		args = append(args, "--ffmpeg-location", s.FfmpegPath)
	}
	if s.Proxy != "" {
		args = append(args, "--proxy", s.Proxy)
	}
	if s.CookiesFile != "" {
		args = append(args, "--cookies", s.CookiesFile)
	}
	return append(args, "--", ref.String())
}

func (s *YtdlpSource) Fetch(ctx context.Context, ref types.VideoReference, destBase string, format string) (string, error) {
	output, err := s.run(ctx, s.Binary, s.args(ref, destBase, format)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.GetLogger().Error("yt-dlp extraction failed",
			zap.String("video", ref.String()),
			zap.String("output", lastLines(string(output), 20)),
			zap.Error(err))
		return "", classifyYtdlp(string(output), err)
	}

	expected := destBase + "." + format
	if _, statErr := os.Stat(expected); statErr == nil {
		return expected, nil
	}
	// yt-dlp keeps the source extension when it skips the conversion step.
	matches, _ := filepath.Glob(destBase + ".*")
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") && !strings.HasSuffix(m, ".ytdl") {
			return m, nil
		}
	}
	return "", apperrors.ErrEmptyAudio
}

var (
	ytdlpTransientMarkers = []string{
		"timed out",
		"connection reset",
		"temporary failure in name resolution",
		"network is unreachable",
		"http error 500",
		"http error 502",
		"http error 503",
		"http error 504",
		"incompleteread",
	}
	ytdlpNotFoundMarkers = []string{
		"video unavailable",
		"private video",
		"http error 404",
		"this video is not available",
		"has been removed",
	}
)

// classifyYtdlp maps yt-dlp stderr onto acquisition error codes.
func classifyYtdlp(output string, cause error) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "http error 429") || strings.Contains(lower, "too many requests"):
		return apperrors.Transient(apperrors.CodeRateLimited, apperrors.ErrRateLimited.Message, cause)
	case strings.Contains(lower, "unsupported url"):
		return apperrors.WrapWithDetail(apperrors.CodeUnsupportedURL, apperrors.ErrUnsupportedURL.Message, lastLines(output, 3), cause)
	case containsAny(lower, ytdlpNotFoundMarkers):
		return apperrors.WrapWithDetail(apperrors.CodeVideoNotFound, "视频不存在或不可访问 Video not available", lastLines(output, 3), cause)
	case containsAny(lower, ytdlpTransientMarkers):
		e := apperrors.Transient(apperrors.CodeVideoDownload, apperrors.ErrVideoDownload.Message, cause)
		e.Detail = lastLines(output, 3)
		return e
	}
	var execErr *exec.Error
	if errors.As(cause, &execErr) {
		return apperrors.WrapWithDetail(apperrors.CodeVideoDownload, "找不到yt-dlp yt-dlp is not installed", execErr.Error(), cause)
	}
	return apperrors.WrapWithDetail(apperrors.CodeVideoDownload, apperrors.ErrVideoDownload.Message, lastLines(output, 3), cause)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
