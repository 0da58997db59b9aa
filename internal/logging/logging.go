// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the zap logger shared by the CLI and the library
// packages.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/research-triage/pkg/types"
)

// New returns a logger writing to stderr. Format "json" selects the
// production encoder; anything else the development console encoder.
func New(cfg types.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unsupported log format %q: use json or console", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
