// Package logging builds the process slog handler: colorized tint output on a
// terminal, JSON everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options selects the handler. Empty fields are auto-detected or defaulted.
type Options struct {
	// Format is "text", "json" or "" to pick text on a terminal.
	Format string
	Level  string
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// NewHandler returns the handler for out.
func NewHandler(out io.Writer, opts Options) slog.Handler {
	level := ParseLevel(opts.Level)

	if useText(out, opts.Format) {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		})
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
}

// Setup installs the handler as the slog default and returns the logger.
func Setup(opts Options) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, opts))
	slog.SetDefault(logger)
	return logger
}

func useText(out io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case "json":
		return false
	case "text", "pretty":
		return true
	default:
		return isTerminal(out)
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
