// Package log provides the shared logrus logger for the palm reader.
package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Fields is an alias so callers don't need to import logrus directly.
type Fields = logrus.Fields

// Options configures the global logger. It is only applied once.
type Options struct {
	Level string
	// Dir enables a rotated log file under Dir when non-empty.
	Dir string
}

// Init configures the global logger. Subsequent calls are no-ops.
func Init(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()

		level, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			TimestampFormat: "02 Jan 06 - 15:04:05",
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
			},
		})

		writers := []io.Writer{os.Stderr}
		if opts.Dir != "" && os.Getenv("APP_ENV") != "test" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, fmt.Sprintf("palmreader-%s.log", time.Now().Format("2006-01-02"))),
				LocalTime:  true,
				Compress:   true,
				MaxSize:    50,
				MaxAge:     7,
				MaxBackups: 3,
			})
		}

		logger.SetOutput(io.MultiWriter(writers...))
		logger.SetReportCaller(true)
	})
	return logger
}

// L returns the global logger, initializing it with defaults if needed.
func L() *logrus.Logger {
	return Init(Options{Level: "info"})
}

func Debug(fields Fields, msg string) {
	L().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	L().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	L().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	L().WithFields(fields).Error(msg)
}
