// Package logging builds the process-wide zap logger from CLI flags.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr at level ("debug", "info",
// "warn", "error") in format ("json" or "text").
func New(level, format string, opts ...zap.Option) (*zap.Logger, error) {
	cfg, err := Config(level, format)
	if err != nil {
		return nil, err
	}
	return cfg.Build(opts...)
}

// Config returns the zap configuration New builds from.
func Config(level, format string) (*zap.Config, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var encoding string
	switch strings.ToLower(format) {
	case "json", "":
		encoding = "json"
	case "text", "console":
		encoding = "console"
	default:
		return nil, fmt.Errorf("invalid log format %q (expected json or text)", format)
	}

	// Copied from NewProductionConfig
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	return &zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         encoding,
		EncoderConfig:    ec,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
	}, nil
}
