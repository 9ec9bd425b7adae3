package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configured level name onto a slog.Level. Unknown or empty
// values fall back to info so a bad config never silences the daemon.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// NewHandler builds the handler backing a service logger. Local runs get
// human-readable text output; every other environment emits JSON with the
// key names (timestamp, severity, message) log collectors index on.
func NewHandler(w io.Writer, env string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return slog.NewTextHandler(w, opts)
	}
	opts.ReplaceAttr = func(_ []string, attr slog.Attr) slog.Attr {
		switch attr.Key {
		case slog.TimeKey:
			attr.Key = "timestamp"
		case slog.LevelKey:
			return slog.String("severity", strings.ToUpper(attr.Value.String()))
		case slog.MessageKey:
			attr.Key = "message"
		}
		return attr
	}
	return slog.NewJSONHandler(w, opts)
}

// New builds a logger over w tagged with the service name and, when set, the
// environment. It does not touch process-wide defaults; Setup does.
func New(w io.Writer, service, env, level string) *slog.Logger {
	args := []any{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		args = append(args, slog.String("env", env))
	}
	return slog.New(NewHandler(w, env, ParseLevel(level))).With(args...)
}

// Setup builds the daemon logger on stdout, installs it as the slog default
// and routes the standard library logger through it so dependency log lines
// come out in the same shape.
func Setup(service, env, level string) *slog.Logger {
	logger := New(os.Stdout, service, env, level)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}
