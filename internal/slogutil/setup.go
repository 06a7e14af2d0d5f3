package slogutil

import (
	"fmt"
	"io"
	"log/slog"

	"webrs/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the process logger from cfg. Records always go to console;
// when cfg.File is set they are also appended to that file, rotated by
// cfg.MaxSize and cfg.MaxBackups. The returned closer releases the file.
func Open(cfg config.LoggingConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	level := LevelFromString(cfg.Level)
	consoleHandler := NewLineHandler(console, &slog.HandlerOptions{Level: level})

	if cfg.File == "" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}

	rf, err := OpenRotatingFile(cfg.File, ParseSize(cfg.MaxSize), cfg.MaxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
	}
	fileHandler := NewLineHandler(rf, &slog.HandlerOptions{Level: level})
	return slog.New(NewTeeHandler(consoleHandler, fileHandler)), rf, nil
}
