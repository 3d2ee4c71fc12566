package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hearthhub/hearth-core/internal/infrastructure/config"
)

// Logger wraps slog.Logger so one concrete type satisfies the small
// per-package logging interfaces across the kernel: the bus, the state
// store, the registries and the script executor each declare the method
// subset they use (Debug, Warn, Error in varying combinations), and the
// promoted slog methods cover all of them.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the configuration.
// Format selects the handler (JSON unless "text"), output selects the
// stream (stdout unless "stderr"), and every record carries the service
// name and hearthd version so mixed log streams stay attributable.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "hearth"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel maps a configured level name to slog.Level. Unrecognised
// names fall back to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying additional default attributes.
// hearthd hands each subsystem a component-tagged child:
//
//	eventBus.SetLogger(log.With("component", "bus"))
//	states.SetLogger(log.With("component", "state"))
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns the bootstrap logger hearthd uses before the
// configuration file has been read: JSON to stdout at info level. Once
// config.Load succeeds it is replaced by New.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
