// Package logging constructs the slog handle the gateway components receive
// at construction time. There is no package-level logger to mutate mid-run.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/agentgate-io/agentgate/internal/config"
)

// New builds a logger from configuration. Level precedence: explicit level
// beats the debug flag, which beats the info default. The sink is stderr
// unless a file is configured.
func New(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	if cfg.Level != "" {
		parsed, err := parseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		level = parsed
	}

	var sink io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.File != "" {
		// #nosec G304 -- path is operator-configured log file.
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		sink = f
		closer = f.Close
	}

	logger := slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
