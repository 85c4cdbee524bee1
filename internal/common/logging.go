package common

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog.Logger to provide a consistent interface
type Logger struct {
	zerolog.Logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a console logger with the specified level
func NewLogger(level string) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return NewLoggerWithOutput(level, output)
}

// NewLoggerWithOutput creates a logger writing to a specific output
func NewLoggerWithOutput(level string, w io.Writer) *Logger {
	logger := zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: logger}
}

// NewLoggerFromConfig builds a logger from the [logging] section. Console
// output honours the text/json format; file output is always JSON and
// rotated by size.
func NewLoggerFromConfig(cfg LoggingConfig) *Logger {
	lvl := parseLevel(cfg.Level)
	if lvl == zerolog.Disabled {
		return NewSilentLogger()
	}

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"console"}
	}

	var writers []io.Writer
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "console", "stderr":
			if strings.EqualFold(cfg.Format, "json") {
				writers = append(writers, os.Stderr)
			} else {
				writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
			}
		case "file":
			if cfg.FilePath == "" {
				continue
			}
			_ = os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755)
			maxSize := cfg.MaxSizeMB
			if maxSize <= 0 {
				maxSize = 100
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    maxSize,
				MaxBackups: cfg.MaxBackups,
				Compress:   true,
			})
		}
	}

	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: logger}
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger() *Logger {
	return NewLogger("info")
}

// NewSilentLogger creates a logger that discards all output
func NewSilentLogger() *Logger {
	logger := zerolog.New(io.Discard).Level(zerolog.Disabled)
	return &Logger{Logger: logger}
}

// WithCorrelationID returns a child logger tagged with a request correlation id.
func (l *Logger) WithCorrelationID(id string) *Logger {
	if id == "" {
		return l
	}
	return &Logger{Logger: l.Logger.With().Str("correlation_id", id).Logger()}
}
