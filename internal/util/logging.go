// Package util provides shared helper utilities.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
	colorGray   = "\x1b[90m"
)

// LogOptions configures the process-wide logger.
type LogOptions struct {
	Verbose    bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	NoColor    bool
}

var (
	logger  atomic.Pointer[zap.SugaredLogger]
	verbose atomic.Bool
	noColor atomic.Bool
)

func init() {
	logger.Store(newSugared(LogOptions{}, nil))
}

// InitLogging replaces the default console logger. When File is set, every
// line is also written to a size-rotated log file.
func InitLogging(opts LogOptions) error {
	var fileSink zapcore.WriteSyncer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return err
		}
		fileSink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    max(opts.MaxSizeMB, 1),
			MaxBackups: opts.MaxBackups,
		})
	}
	verbose.Store(opts.Verbose)
	noColor.Store(opts.NoColor)
	logger.Store(newSugared(opts, fileSink))
	return nil
}

// SyncLogging flushes buffered log output.
func SyncLogging() {
	_ = logger.Load().Sync()
}

// Verbose reports whether verbose logging is enabled.
func Verbose() bool {
	return verbose.Load()
}

func newSugared(opts LogOptions, fileSink zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000"),
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}
	if fileSink != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), fileSink, level))
	}
	return zap.New(zapcore.NewTee(cores...)).Sugar()
}

// Infof logs an info message.
func Infof(format string, args ...any) {
	logger.Load().Infof("%s %s", colorize(colorGreen, "INFO"), fmt.Sprintf(format, args...))
}

// Warnf logs a warning message.
func Warnf(format string, args ...any) {
	logger.Load().Warnf("%s %s", colorize(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	logger.Load().Errorf("%s %s", colorize(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Highlightf logs a highlighted message.
func Highlightf(format string, args ...any) {
	logger.Load().Infof("%s %s", colorize(colorBlue, "NOTE"), fmt.Sprintf(format, args...))
}

// Detailf logs a message only in verbose mode.
func Detailf(format string, args ...any) {
	if !verbose.Load() {
		return
	}
	logger.Load().Debugf("%s %s", colorize(colorGray, "DETAIL"), fmt.Sprintf(format, args...))
}

func colorize(color, msg string) string {
	if noColor.Load() {
		return msg
	}
	return color + msg + colorReset
}
