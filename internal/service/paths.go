package service

import (
	"strings"

	"captionflow/config"
	"captionflow/internal/appdirs"
)

var appDirsResolver = appdirs.Resolve

// resolveAudioTempDir prefers app.temp_dir and falls back to the cache dir.
func resolveAudioTempDir(conf config.Config) (string, error) {
	if dir := strings.TrimSpace(conf.App.TempDir); dir != "" {
		return dir, nil
	}
	dirs, err := appDirsResolver()
	if err != nil {
		return "", err
	}
	return appdirs.AudioTempDirFor(dirs), nil
}

func resolveSubtitleRoot() (string, error) {
	dirs, err := appDirsResolver()
	if err != nil {
		return "", err
	}
	return appdirs.SubtitleRootFor(dirs), nil
}
