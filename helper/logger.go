package helper

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type LogConfig struct {
	Level string // debug, info, warn, error
	File  string // JSON lines go here when set, console otherwise
}

var DefaultLogConfig = LogConfig{
	Level: "info",
}

// NewLogger builds the logger handed to one node. The returned closer must be
// called on shutdown when a log file was opened.
func NewLogger(config LogConfig, component string) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		out    io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		closer io.Closer = nopCloser{}
	)
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("create log directory: %w", err)
		}
		logfile, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		out, closer = logfile, logfile
	}

	logger := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("component", component).
		Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
