// Package logx builds the zerolog loggers used by the CLI and the server.
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "QUILL_LOG_LEVEL"

type Options struct {
	Level string
	// JSON selects newline-delimited JSON instead of the console writer.
	JSON    bool
	NoColor bool
	App     string
}

// ParseLevel accepts zerolog level names plus "off".
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, nil
	case "off", "none", "disabled":
		return zerolog.Disabled, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", raw)
	}
	return lvl, nil
}

// New returns a logger writing to w. The environment override wins over
// opts.Level.
func New(w io.Writer, opts Options) (zerolog.Logger, error) {
	raw := opts.Level
	if env := os.Getenv(EnvLogLevel); env != "" {
		raw = env
	}
	lvl, err := ParseLevel(raw)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := w
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}
	ctx := zerolog.New(out).Level(lvl).With().Timestamp()
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	return ctx.Logger(), nil
}
