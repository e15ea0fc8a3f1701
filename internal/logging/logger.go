// Package logging builds the process logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared zap logger. mode "production" (or "prod") writes JSON
// to stderr; "development" (or "dev") writes human-readable console lines.
// level is any zapcore level name; empty means info.
func New(mode, level string, opts ...zap.Option) (*zap.SugaredLogger, error) {
	cfg, err := Config(mode, level)
	if err != nil {
		return nil, err
	}
	l, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.Sugar(), nil
}

// Config returns the zap configuration New would build.
func Config(mode, level string) (zap.Config, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production", "":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		return zap.Config{}, fmt.Errorf("unknown log mode %q", mode)
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.Config{}, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg, nil
}
