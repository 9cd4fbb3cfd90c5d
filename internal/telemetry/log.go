// Package telemetry builds the process-wide logger and metrics registry
// and hands scoped children down to each component at construction time,
// rather than letting components reach for a global (spec §9).
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger at the given level, writing structured
// console output, matching the teacher's default logging setup before
// any custom sink is configured.
func NewLogger(level zapcore.Level, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Named returns a child logger scoped to a component name with extra
// fields, the pattern every component in this core uses instead of a
// package-global logger.
func Named(base *zap.Logger, name string, fields ...zap.Field) *zap.Logger {
	return base.Named(name).With(fields...)
}
