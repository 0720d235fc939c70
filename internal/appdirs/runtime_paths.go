package appdirs

import (
	"path/filepath"
	"strings"
)

const (
	subtitleDirName = "subtitles"
	audioDirName    = "audio"
	dbFileName      = "captionflow.db"
	lockFileName    = "captionflow.lock"
)

// SubtitleRootFor is where the local store publishes subtitle files.
func SubtitleRootFor(paths Paths) string {
	return filepath.Join(orDefault(paths.OutputDir, "."), subtitleDirName)
}

// AudioTempDirFor holds the short-lived audio assets of running pipelines.
func AudioTempDirFor(paths Paths) string {
	return filepath.Join(orDefault(paths.CacheDir, "cache"), audioDirName)
}

func DBPathFor(paths Paths) string {
	return filepath.Join(orDefault(paths.CacheDir, "cache"), dbFileName)
}

// LockPathFor is held by the running server for the lifetime of the process.
func LockPathFor(paths Paths) string {
	return filepath.Join(orDefault(paths.CacheDir, "cache"), lockFileName)
}

func orDefault(dir, fallback string) string {
	if cleaned := strings.TrimSpace(dir); cleaned != "" {
		return filepath.Clean(cleaned)
	}
	return fallback
}
