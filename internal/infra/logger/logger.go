package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"sqlite-glue/internal/infra/config"
)

// New creates a configured *slog.Logger. The returned closer releases a file output
// and should be deferred.
//
// Attributes whose key is "addr" or ends in "_addr" are rendered as hex addresses.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: hexAddresses,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func hexAddresses(_ []string, a slog.Attr) slog.Attr {
	if a.Key != "addr" && !strings.HasSuffix(a.Key, "_addr") {
		return a
	}
	if a.Value.Kind() == slog.KindUint64 {
		return slog.String(a.Key, fmt.Sprintf("%#x", a.Value.Uint64()))
	}
	return a
}

// openOutput maps an output target to a writer. "discard" drops output.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	case "discard":
		return io.Discard, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
