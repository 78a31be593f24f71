// Package logging configures structured logging for GoBans.
//
// Log levels from most to least verbose: DEBUG, INFO, WARN, ERROR.
//
// Usage:
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json"})
//	slog.Info("ban issued", "ban_id", id, "subject", subjectID)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // where to write logs (default: os.Stdout)
}

// ParseLevel converts a string level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds a logger from opts without touching the global default.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, err
	}
	if err := ValidateFormat(opts.Format); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate returns an error if the level string is not recognized.
func Validate(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "":
		return nil
	default:
		return fmt.Errorf("logging: unknown log level %q (valid: %s)", level, LevelNames())
	}
}

// ValidateFormat returns an error if the format is neither text nor json.
func ValidateFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("logging: unknown log format %q (valid: text, json)", format)
	}
}
