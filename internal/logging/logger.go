// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder flavor and minimum level.
type Config struct {
	// Development switches to the colored console encoder and debug level.
	Development bool
	// Level overrides the minimum level ("debug", "info", "warn", "error").
	Level string
	// Service is attached to every entry when set.
	Service string
}

// New builds a zap.Logger configured for development or production.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = false
	}
	zcfg.EncoderConfig.TimeKey = "ts"

	if lvl := strings.TrimSpace(cfg.Level); lvl != "" {
		level, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	if cfg.Service != "" {
		zcfg.InitialFields = map[string]any{"service": cfg.Service}
	}

	logger, err := zcfg.Build()
	if err != nil {
		if cfg.Development {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
