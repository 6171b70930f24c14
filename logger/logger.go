package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/codearena/config"
)

// ServiceName is attached to every entry written by NewFromConfig.
const ServiceName = "codearena"

// NewFromConfig builds the logger from the logging section of cfg. On the
// stdio transport stdout carries MCP frames, so all output goes to stderr.
func NewFromConfig(cfg *config.Config, opts ...zap.Option) (*zap.Logger, error) {
	zcfg, err := newConfig(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Transport == "stdio" {
		zcfg.OutputPaths = []string{"stderr"}
		zcfg.ErrorOutputPaths = []string{"stderr"}
	}

	opts = append(opts, zap.Fields(
		zap.String("service", ServiceName),
		zap.String("backend", cfg.Sandbox.Backend),
		zap.String("transport", cfg.Server.Transport),
	))
	return zcfg.Build(opts...)
}

// New creates a logger for mode (production or development) at level
func New(mode, level string, opts ...zap.Option) (*zap.Logger, error) {
	zcfg, err := newConfig(mode, level)
	if err != nil {
		return nil, err
	}
	return zcfg.Build(opts...)
}

func newConfig(mode, level string) (zap.Config, error) {
	var zcfg zap.Config

	switch mode {
	case "development":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// Sandbox runs are rare and slow; every entry is kept.
		zcfg.Sampling = nil
	default:
		return zap.Config{}, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	zcfg.Level = zap.NewAtomicLevelAt(logLevel)

	return zcfg, nil
}
