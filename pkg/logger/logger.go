// Package logger wraps zap with the service-wide defaults used across eventfabric.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how New builds the underlying zap logger.
type Config struct {
	Environment string // "production" or "development"
	LogLevel    string // "debug", "info", "warn", "error"
	ServiceName string
}

// DefaultConfig returns development-friendly defaults.
func DefaultConfig() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		ServiceName: "eventfabric",
	}
}

// New builds a *zap.Logger from cfg. Production uses JSON encoding; development
// uses a colorized console encoder.
func New(cfg Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if strings.EqualFold(cfg.Environment, "production") {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.Encoding = "console"
	}

	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.LogLevel))
	if cfg.ServiceName != "" {
		zapCfg.InitialFields = map[string]interface{}{"service": cfg.ServiceName}
	}

	log, err := zapCfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}

// NewDefault builds a logger with DefaultConfig, suitable for tests and tools.
func NewDefault() *zap.Logger {
	log, err := New(DefaultConfig())
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}
