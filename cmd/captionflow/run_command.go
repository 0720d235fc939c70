package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"captionflow/config"
	"captionflow/internal/appcore"
	"captionflow/internal/dto"
	"captionflow/internal/pipeline"
	"captionflow/internal/service"
	"captionflow/internal/translate"
	"captionflow/internal/types"
)

const (
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiReset = "\033[0m"
)

type runOptions struct {
	language   string
	format     string
	outPath    string
	publish    bool
	jsonOutput bool
	noAnalysis bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <video-url>",
		Short: "Run the subtitle pipeline for one video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, cmd, args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.language, "lang", "l", "", "Target language code, or none to keep the original text")
	flags.StringVarP(&opts.format, "format", "f", "", "Subtitle format: vtt or srt")
	flags.StringVarP(&opts.outPath, "out", "o", "", "Write subtitles to this file instead of stdout")
	flags.BoolVar(&opts.publish, "publish", false, "Also upload the subtitles to the configured store")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the full result as JSON")
	flags.BoolVar(&opts.noAnalysis, "no-analysis", false, "Skip content analysis")
	return cmd
}

func runPipeline(ctx context.Context, cmd *cobra.Command, videoUrl string, opts runOptions) error {
	conf := config.Conf
	if opts.format != "" {
		conf.Pipeline.SubtitleFormat = opts.format
	}
	if opts.noAnalysis {
		conf.Pipeline.EnableAnalysis = false
	}

	if lang := strings.TrimSpace(opts.language); lang != "" && !strings.EqualFold(lang, translate.NoneLanguage) {
		normalized, err := translate.NormalizeLanguage(lang)
		if err != nil {
			return err
		}
		opts.language = normalized
	} else if lang != "" {
		opts.language = translate.NoneLanguage
	}

	components, err := service.BuildComponents(ctx, conf)
	if err != nil {
		return err
	}
	defer components.Notifier.Close()

	progress := newProgressPrinter(cmd.ErrOrStderr())
	coordinator := pipeline.NewCoordinator(components.Stages, components.PipelineConfig, components.Admission, progress)

	runID := uuid.NewString()
	result, err := coordinator.Run(ctx, types.VideoReference(strings.TrimSpace(videoUrl)), pipeline.RunOptions{
		RunID:          runID,
		TargetLanguage: opts.language,
	})
	if err != nil {
		return err
	}

	var publishedUrl string
	if opts.publish {
		lang := opts.language
		if lang == "" {
			lang = conf.Pipeline.TargetLanguageCode
		}
		if lang == "" || lang == translate.NoneLanguage {
			lang = "original"
		}
		body := result.Subtitles.Bytes()
		key := path.Join(conf.Storage.KeyPrefix, runID, lang+result.Subtitles.Format.Extension())
		publishedUrl, err = components.Store.Put(ctx, key, result.Subtitles.Format.ContentType(), bytes.NewReader(body), int64(len(body)))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "published: %s\n", publishedUrl)
	}

	if opts.outPath != "" {
		if err := os.WriteFile(opts.outPath, result.Subtitles.Bytes(), 0o644); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		return writeJSON(out, dto.GenerateSubtitlesResData{
			TaskId:         runID,
			VideoUrl:       result.VideoReference.String(),
			TargetLanguage: result.Transcript.Language,
			Format:         string(result.Subtitles.Format),
			SubtitlesUrl:   publishedUrl,
			Transcript:     result.Transcript.Text(),
			Segments:       dto.SegmentItems(result.Transcript.Segments),
			Untranslated:   result.Transcript.UntranslatedCount(),
			Analysis:       dto.NewAnalysisItem(result.Analysis),
		})
	}
	if opts.outPath == "" {
		_, err = out.Write(result.Subtitles.Bytes())
		return err
	}
	if result.Analysis != nil {
		fmt.Fprintf(out, "summary: %s\ntopics: %s\nsentiment: %s\n",
			result.Analysis.Summary, strings.Join(result.Analysis.Topics, ", "), result.Analysis.Sentiment)
	}
	return nil
}

// progressPrinter reports stage transitions, colored on a terminal.
type progressPrinter struct {
	w        io.Writer
	colorize bool
	started  time.Time
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, colorize: shouldColorize(w), started: time.Now()}
}

func (p *progressPrinter) OnEvent(e appcore.Event) {
	line := fmt.Sprintf("[%6.1fs] %s", time.Since(p.started).Seconds(), e.StageName)
	if e.ErrorText != "" {
		line += ": " + e.ErrorText
	}
	if p.colorize {
		switch e.Stage {
		case appcore.StageDone:
			line = ansiGreen + line + ansiReset
		case appcore.StageFailed:
			line = ansiRed + line + ansiReset
		}
	}
	fmt.Fprintln(p.w, line)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
