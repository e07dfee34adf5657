package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	// File enables rotating file output in addition to stderr.
	File     string `yaml:"file"`
	NoColors bool   `yaml:"no_colors"`
	Caller   bool   `yaml:"caller"`
}

// New builds the process logger. Components derive their own entries with
// WithField("component", ...).
func New(cfg Config) (*logrus.Logger, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	f := &formatter.Formatter{
		NoColors:        cfg.NoColors,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		FieldsOrder:     []string{"component", "session", "round", "request_id"},
	}
	if cfg.Caller {
		f.CallerFirst = true
		f.CustomCallerFormatter = func(frame *runtime.Frame) string {
			s := strings.Split(frame.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(frame.File), frame.Line, s[len(s)-1])
		}
		logger.SetReportCaller(true)
	}
	logger.SetFormatter(f)

	writers := []io.Writer{os.Stderr}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}

// Discard returns a logger that drops everything, for tests and tools.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
