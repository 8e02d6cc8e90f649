package app

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/plugforge/internal/config"
)

// NewLogger builds the process logger. A nil output writes to stderr.
func NewLogger(cfg config.LoggingConfig, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "plugforge",
		Level:      level,
		Output:     output,
		JSONFormat: cfg.JSON,
	})
}
