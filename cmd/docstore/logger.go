package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initLogger builds a JSON logger at level, falling back to info for unknown
// levels. Logs go to stderr so command output on stdout stays machine readable.
func initLogger(level string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}
