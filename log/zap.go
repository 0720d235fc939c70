package log

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"captionflow/internal/appdirs"
)

var (
	Logger *zap.Logger
	mu     sync.RWMutex
)

const logFileName = "app.log"

var appDirsResolver = appdirs.Resolve

// Options tunes the logger. Zero value logs debug to file and info to console.
type Options struct {
	Level        string
	ConsoleLevel string
}

func InitLogger() {
	InitLoggerWith(Options{})
}

func InitLoggerWith(opts Options) {
	logDir, err := ResolveLogDir()
	if err != nil {
		panic("无法解析日志目录: " + err.Error())
	}

	if err = os.MkdirAll(logDir, 0o755); err != nil {
		panic("无法创建日志目录: " + err.Error())
	}

	logFilePath := filepath.Join(logDir, logFileName)
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		panic("无法打开日志文件: " + err.Error())
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), parseLevel(opts.Level, zap.DebugLevel)),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), parseLevel(opts.ConsoleLevel, zap.InfoLevel)),
	)

	SetLogger(zap.New(core, zap.AddCaller()))
}

func parseLevel(level string, fallback zapcore.Level) zapcore.Level {
	if strings.TrimSpace(level) == "" {
		return fallback
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return fallback
	}
	return l
}

func ResolveLogDir() (string, error) {
	dirs, err := appDirsResolver()
	if err != nil {
		return "", err
	}

	logDir := strings.TrimSpace(dirs.LogDir)
	if logDir == "" {
		return ".", nil
	}

	return logDir, nil
}

func ResolveLogFilePath() (string, error) {
	logDir, err := ResolveLogDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logDir, logFileName), nil
}

// SetLogger replaces the global logger, e.g. with zap.NewNop in tests.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	Logger = l
	mu.Unlock()
}

// GetLogger returns the global logger, or a no-op logger before InitLogger.
func GetLogger() *zap.Logger {
	mu.RLock()
	l := Logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}
