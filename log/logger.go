package log

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/godamri/helix-activity/pkg/telemetry"
	"github.com/lmittmann/tint"
)

type Config struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT" validate:"omitempty,oneof=json console"`
}

func (c *Config) SetDefaults() {
	c.Level = "info"
	c.Format = "json"
}

func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds the service logger on top of w. Every record goes through the
// OTel handler so log lines carry trace_id/span_id when a span is active.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	var handler slog.Handler

	if cfg.Format == "console" {
		// Pretty Print for Local Development
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(telemetry.NewOTelHandler(handler))
}

func ParseLevel(s string) slog.Level {
	switch s {
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
