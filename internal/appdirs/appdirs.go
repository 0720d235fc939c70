package appdirs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	HomeEnv   = "CAPTIONFLOW_HOME"
	LayoutEnv = "CAPTIONFLOW_LAYOUT"

	appDirName     = "captionflow"
	configFileName = "config.toml"
)

// Layout names where a Paths value came from.
type Layout string

const (
	LayoutHome    Layout = "home"
	LayoutUser    Layout = "user"
	LayoutWorkdir Layout = "workdir"
)

// Paths is the on-disk layout shared by the server and the CLI.
type Paths struct {
	Layout     Layout
	ConfigFile string
	LogDir     string
	OutputDir  string
	CacheDir   string
}

type env struct {
	getenv        func(string) string
	userConfigDir func() (string, error)
	userCacheDir  func() (string, error)
	userHomeDir   func() (string, error)
}

// Resolve picks the layout from CAPTIONFLOW_HOME, then CAPTIONFLOW_LAYOUT,
// and defaults to the working directory.
func Resolve() (Paths, error) {
	return resolve(env{
		getenv:        os.Getenv,
		userConfigDir: os.UserConfigDir,
		userCacheDir:  os.UserCacheDir,
		userHomeDir:   os.UserHomeDir,
	})
}

func resolve(e env) (Paths, error) {
	if home := strings.TrimSpace(e.getenv(HomeEnv)); home != "" {
		return homePaths(home), nil
	}

	switch layout := Layout(strings.ToLower(strings.TrimSpace(e.getenv(LayoutEnv)))); layout {
	case "", LayoutWorkdir:
		return workdirPaths(), nil
	case LayoutUser:
		return userPaths(e)
	default:
		return Paths{}, fmt.Errorf("%s=%q: want %q or %q", LayoutEnv, layout, LayoutUser, LayoutWorkdir)
	}
}

func homePaths(root string) Paths {
	root = filepath.Clean(root)
	return Paths{
		Layout:     LayoutHome,
		ConfigFile: filepath.Join(root, "config", configFileName),
		LogDir:     filepath.Join(root, "logs"),
		OutputDir:  filepath.Join(root, "output"),
		CacheDir:   filepath.Join(root, "cache"),
	}
}

func workdirPaths() Paths {
	return Paths{
		Layout:     LayoutWorkdir,
		ConfigFile: filepath.Join("config", configFileName),
		LogDir:     ".",
		OutputDir:  "output",
		CacheDir:   "cache",
	}
}

// userPaths follows the XDG split: config, cache (with logs) and data.
func userPaths(e env) (Paths, error) {
	configRoot, err := nonEmpty("config", e.userConfigDir)
	if err != nil {
		return Paths{}, err
	}
	cacheRoot, err := nonEmpty("cache", e.userCacheDir)
	if err != nil {
		return Paths{}, err
	}

	dataRoot := strings.TrimSpace(e.getenv("XDG_DATA_HOME"))
	if dataRoot == "" {
		home, err := nonEmpty("home", e.userHomeDir)
		if err != nil {
			return Paths{}, err
		}
		dataRoot = filepath.Join(home, ".local", "share")
	}

	cacheDir := filepath.Join(cacheRoot, appDirName)
	return Paths{
		Layout:     LayoutUser,
		ConfigFile: filepath.Join(configRoot, appDirName, configFileName),
		LogDir:     filepath.Join(cacheDir, "logs"),
		OutputDir:  filepath.Join(dataRoot, appDirName),
		CacheDir:   cacheDir,
	}, nil
}

func nonEmpty(kind string, fn func() (string, error)) (string, error) {
	dir, err := fn()
	if err != nil {
		return "", fmt.Errorf("user %s dir: %w", kind, err)
	}
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("user %s dir is empty", kind)
	}
	return dir, nil
}
