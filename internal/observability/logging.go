// Package observability holds the process logger and Prometheus metrics.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger returns a zerolog Logger writing to w.
// env "dev" (or "development") uses a human-friendly console writer.
// An unparseable level falls back to info.
func NewLogger(w io.Writer, env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	out := w
	if env == "dev" || env == "development" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Setup installs the logger as the global zerolog logger on stderr.
func Setup(env, level string) zerolog.Logger {
	l := NewLogger(os.Stderr, env, level)
	log.Logger = l
	return l
}
