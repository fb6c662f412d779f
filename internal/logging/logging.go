// Package logging wires a rotating file sink (lumberjack) to a structured
// slog.Logger. The subsystems (Store, Migrator, Importer, Exporter,
// HealthCheck) take no logger and do not log through it; they report
// failures only through their returned errors.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating sink.
type Options struct {
	// AppDataDir is the per-user app data directory; logs land under
	// <AppDataDir>/logs/vaultcore.log.
	AppDataDir string
	// Level is the minimum level emitted. Defaults to slog.LevelInfo.
	Level slog.Leveler
	// AlsoStderr mirrors log lines to stderr in addition to the rotating
	// file, useful for the vaultctl CLI's foreground runs.
	AlsoStderr bool
}

// New builds a JSON-handler slog.Logger backed by a lumberjack rotating
// writer at <AppDataDir>/logs/vaultcore.log (10 MiB per file, 3 backups,
// 28-day retention, gzip-compressed).
func New(opts Options) (*slog.Logger, error) {
	logDir := filepath.Join(opts.AppDataDir, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "vaultcore.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	var dest io.Writer = rotator
	if opts.AlsoStderr {
		dest = io.MultiWriter(rotator, os.Stderr)
	}

	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(dest, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}

// Discard returns a logger that drops everything, for tests and for
// callers that haven't configured an app data directory yet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
