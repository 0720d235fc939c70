package deps

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"captionflow/config"
	"captionflow/log"
)

// Need says how badly the pipeline depends on a binary.
type Need string

const (
	NeedRequired    Need = "required"
	NeedRecommended Need = "recommended"
	NeedOptional    Need = "optional"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusMissing Status = "missing"
	StatusError   Status = "error"
)

// Source records whether a path came from config or from $PATH.
type Source string

const (
	SourceConfig Source = "config"
	SourcePath   Source = "path"
)

// Binary is an external program the acquisition stage shells out to.
type Binary struct {
	Name       string
	Need       Need
	Configured string
	Purpose    string
}

// Check is the outcome of locating one Binary.
type Check struct {
	Binary
	Path   string
	Status Status
	Source Source
	Err    string
}

// Locator finds binaries. The fields are swapped out in tests.
type Locator struct {
	LookPath func(file string) (string, error)
	Abs      func(path string) (string, error)
	Stat     func(name string) (os.FileInfo, error)
}

func NewLocator() Locator {
	return Locator{LookPath: exec.LookPath, Abs: filepath.Abs, Stat: os.Stat}
}

func (l Locator) Locate(b Binary) Check {
	check := Check{Binary: b, Source: SourcePath}
	target := b.Name
	if configured := strings.TrimSpace(b.Configured); configured != "" {
		check.Source = SourceConfig
		target = configured
	}

	if path, err := l.LookPath(target); err == nil {
		check.Path, check.Status = path, StatusOK
		return check
	} else if check.Source == SourcePath {
		return check.fail(err)
	}

	// A configured value may be a plain file path that LookPath rejects.
	abs, err := l.Abs(target)
	if err != nil {
		check.Path = target
		return check.fail(err)
	}
	check.Path = abs
	if _, err = l.Stat(abs); err != nil {
		return check.fail(err)
	}
	check.Status = StatusOK
	return check
}

func (c Check) fail(err error) Check {
	c.Err = err.Error()
	c.Status = StatusError
	if notFound(err) {
		c.Status = StatusMissing
	}
	return c
}

// Inventory lists the binaries the configured acquisition path needs.
func Inventory(conf config.Config) []Binary {
	provider := strings.ToLower(strings.TrimSpace(conf.Acquire.Provider))
	ytdlp := Binary{
		Name:       "yt-dlp",
		Need:       NeedOptional,
		Configured: conf.Acquire.YtdlpPath,
		Purpose:    "Only used by the ytdlp acquire provider.",
	}
	if provider == "" || provider == "ytdlp" {
		ytdlp.Need = NeedRequired
		ytdlp.Purpose = "Downloads audio from video pages."
	}

	return []Binary{
		{
			Name:       "ffmpeg",
			Need:       NeedRequired,
			Configured: conf.Acquire.FfmpegPath,
			Purpose:    "Extracts and normalizes audio.",
		},
		{
			Name:       "ffprobe",
			Need:       NeedRecommended,
			Configured: conf.Acquire.FfprobePath,
			Purpose:    "Probes audio duration; acquisition works without it.",
		},
		ytdlp,
	}
}

func Diagnose(conf config.Config) []Check {
	return LocateAll(Inventory(conf), NewLocator())
}

func LocateAll(binaries []Binary, l Locator) []Check {
	checks := make([]Check, 0, len(binaries))
	for _, b := range binaries {
		checks = append(checks, l.Locate(b))
	}
	return checks
}

// Report renders checks as a table.
func Report(checks []Check) string {
	if len(checks) == 0 {
		return "No dependencies to diagnose."
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Dependency status")
	tw.AppendHeader(table.Row{"Name", "Need", "Status", "Path", "Source", "Note"})
	for _, c := range checks {
		note := c.Purpose
		if c.Err != "" {
			note = c.Err
		}
		tw.AppendRow(table.Row{c.Name, strings.ToUpper(string(c.Need)), string(c.Status), orDash(c.Path), orDash(string(c.Source)), note})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	return tw.Render()
}

// Missing returns the required binaries that could not be located.
func Missing(checks []Check) []Check {
	var missing []Check
	for _, c := range checks {
		if c.Need == NeedRequired && c.Status != StatusOK {
			missing = append(missing, c)
		}
	}
	return missing
}

// Verify logs the dependency table and fails when a required binary is absent.
func Verify(conf config.Config) error {
	checks := Diagnose(conf)
	log.GetLogger().Info("dependency check\n" + Report(checks))

	missing := Missing(checks)
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for _, c := range missing {
		names = append(names, c.Name)
	}
	return fmt.Errorf("missing required dependencies: %s", strings.Join(names, ", "))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func notFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound)
}
