// Package logger provides the structured slog logger of the notifier.
// Logs are written in JSON format to a size-rotated file:
//
//	<logDir>/system.log              application and delivery events
//	<logDir>/system-<time>.log.gz    rotated backups
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the system logger.
type Options struct {
	Dir   string
	Level slog.Level

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Console, when set, receives a copy of every record.
	Console io.Writer
}

// NewSystemLogger creates a JSON slog.Logger that writes to <Dir>/system.log
// through a rotating writer. The directory is created if it does not exist.
// The returned closer releases the log file.
func NewSystemLogger(opts Options) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(opts.Dir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory %q: %w", opts.Dir, err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "system.log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	var w io.Writer = rotator
	if opts.Console != nil {
		w = io.MultiWriter(rotator, opts.Console)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(handler), rotator, nil
}
