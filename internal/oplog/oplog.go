// Package oplog configures agentvcs's structured operational logging: a
// log/slog logger backed by a size- and age-rotated file, independent of
// the tamper-evident audit log in internal/audit, which records agent
// actions rather than process diagnostics.
package oplog

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating log file. A zero Options leaves file
// rotation disabled and logs to stderr only.
type Options struct {
	// Path is the log file to write and rotate. Empty disables file
	// output.
	Path string
	// MaxSizeMB is the size a log file reaches before it is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain.
	MaxBackups int
	// MaxAgeDays is the maximum age of a rotated file before deletion.
	MaxAgeDays int
	// Level sets the minimum level logged.
	Level slog.Level
}

// DefaultOptions is a reasonable rotation policy for a long-running agent
// process: 50MB files, 5 backups, 30 days.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Level:      slog.LevelInfo,
	}
}

// New builds a JSON slog.Logger. When opts.Path is empty, it writes to
// stderr; otherwise it writes to a lumberjack-rotated file.
func New(opts Options) *slog.Logger {
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	if opts.Path == "" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		writer := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		handler = slog.NewJSONHandler(writer, handlerOpts)
	}

	return slog.New(handler)
}
