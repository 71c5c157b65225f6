package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RedactedValue replaces the value of any attribute whose key names a secret.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = []string{"authorization", "token", "secret", "password", "jwt"}

// Options configures the process logger.
type Options struct {
	Service string
	Env     string
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// File switches output from stdout to a rotated file.
	File *FileOptions
}

// FileOptions controls lumberjack rotation.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs a JSON slog logger as the process default, bridges the
// standard library logger into it, and returns it. Every line carries the
// service and, when set, the environment.
func Setup(opts Options) *slog.Logger {
	var out io.Writer = os.Stdout
	if opts.File != nil && strings.TrimSpace(opts.File.Path) != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   true,
		}
	}
	return setup(out, opts)
}

func setup(out io.Writer, opts Options) *slog.Logger {
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: replaceAttr,
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(opts.Service))}
	if env := strings.TrimSpace(opts.Env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	withAttrs := handler.WithAttrs(attrs)

	base := slog.New(withAttrs)
	slog.SetDefault(base)

	bridge := slog.NewLogLogger(withAttrs, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func replaceAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			return slog.Attr{Key: "timestamp", Value: attr.Value}
		case slog.LevelKey:
			return slog.String("severity", strings.ToUpper(attr.Value.String()))
		case slog.MessageKey:
			return slog.Attr{Key: "message", Value: attr.Value}
		}
	}
	if IsSensitive(attr.Key) && attr.Value.Kind() != slog.KindGroup {
		if s := attr.Value.String(); strings.TrimSpace(s) != "" {
			return slog.String(attr.Key, RedactedValue)
		}
	}
	return attr
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveKeys {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
