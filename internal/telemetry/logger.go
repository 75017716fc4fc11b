// Package telemetry wires up the ambient observability stack shared by
// every server process: a zap logger, prometheus metrics, and the chi-based
// HTTP control surface (/healthz, /metrics, and process-specific routes).
package telemetry

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production-style zap logger at the given level
// ("debug", "info", "warn", "error"), tagged with the process's service/
// instance identity so log aggregation can filter by either.
func NewLogger(level, serviceID, instanceID string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("telemetry: invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("telemetry: build logger: %w", err)
	}
	fields := []zap.Field{}
	if serviceID != "" {
		fields = append(fields, zap.String("service", serviceID))
	}
	if instanceID != "" {
		fields = append(fields, zap.String("instance", instanceID))
	}
	return logger.With(fields...), nil
}
