// Package logging builds the structured logger shared by every command.
package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	// Home, when set, is shown as "~" in logged paths.
	Home string
}

// New returns a logger writing to w. Reports go to stdout, so w is normally
// stderr.
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if opts.Home != "" && a.Value.Kind() == slog.KindString {
				if v, ok := shortenHome(a.Value.String(), opts.Home); ok {
					return slog.String(a.Key, v)
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// shortenHome rewrites home, or a path under it, with a leading "~".
func shortenHome(v, home string) (string, bool) {
	home = strings.TrimRight(home, string(filepath.Separator))
	if home == "" {
		return v, false
	}
	if v == home {
		return "~", true
	}
	if rest, ok := strings.CutPrefix(v, home+string(filepath.Separator)); ok {
		return "~" + string(filepath.Separator) + rest, true
	}
	return v, false
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
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
