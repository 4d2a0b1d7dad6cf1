package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"soulbomber-arena/internal/config"
)

// newLogger writes to a timestamped file under the log directory and to
// stdout. The returned closer releases the file.
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("parse log level: %w", err)
	}

	if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("create log directory: %w", err)
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(cfg.Log.Dir, fmt.Sprintf("soulbomber_%s.log", timestamp))
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
	}

	var stdout io.Writer = os.Stdout
	if cfg.Log.Format == "text" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(logFile, stdout)).
		Level(level).
		With().
		Timestamp().
		Str("service", "soulbomber-arena").
		Logger()
	return logger, logFile, nil
}
