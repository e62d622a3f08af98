// Package samlog builds the zap loggers used across the segmentation
// pipeline components.
package samlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON zap.Logger tagged with the given component name.
// environment selects development-friendly stack traces; level parses via
// zapcore.ParseLevel and defaults to info on error.
func New(environment, level, component string) *zap.Logger {
	if environment == "" {
		environment = "production"
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      environment == "development",
		Encoding:         "json",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		// zap.Config.Build only fails on a malformed config; fall back to
		// a nop logger rather than panicking a library caller.
		return zap.NewNop()
	}

	return logger.With(zap.String("component", component), zap.String("environment", environment))
}

// Nop returns a logger that discards everything, used as the default when
// callers don't inject one.
func Nop() *zap.Logger { return zap.NewNop() }
