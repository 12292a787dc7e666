// Package logging builds the process logger and supplies the nil-safe
// helpers every component uses to accept an optional *slog.Logger.
//
// Loggers are injected, never global. main builds one logger through New
// and hands it down; each component scopes it once with
// With("component", name) so per-component levels can be changed at
// runtime through ComponentFilterHandler. Hot paths (block decoding,
// sorting, posting reads) do not log.
package logging

import (
	"io"
	"log/slog"
)

// Options selects the output format and levels for New.
type Options struct {
	Level      string // debug, info, warn or error
	Format     string // text or json
	Components map[string]string
}

// New returns a logger writing to w, and the filter that controls its
// per-component levels.
func New(w io.Writer, opts Options) (*slog.Logger, *ComponentFilterHandler) {
	// The base handler passes everything; the filter decides.
	hopts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	if opts.Format == "json" {
		base = slog.NewJSONHandler(w, hopts)
	} else {
		base = slog.NewTextHandler(w, hopts)
	}
	filter := NewComponentFilterHandler(base, ParseLevel(opts.Level))
	for component, level := range opts.Components {
		filter.SetLevel(component, ParseLevel(level))
	}
	return slog.New(filter), filter
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Default returns logger, or a discard logger when it is nil:
//
//	func Open(dir string, opts Options) (*Index, error) {
//	    logger := logging.Default(opts.Logger).With("component", "reverse-index")
//	    ...
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ParseLevel maps a config string onto a slog level. Unknown values are INFO.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
