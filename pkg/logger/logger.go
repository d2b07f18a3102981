// Package logger builds the structured zap logger shared by every subsystem
// in the database. Centralizing construction here keeps field names (like
// "service") consistent across the engine, storage, index, and CLI layers.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a SugaredLogger tagged with the given service name. It honors
// TSISAX_LOG_LEVEL ("debug", "info", "warn", "error"; default "info") and
// TSISAX_LOG_FORMAT ("console" or "json"; default "console") so operators can
// switch formats without recompiling.
func New(service string) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if lvl, err := zapcore.ParseLevel(os.Getenv("TSISAX_LOG_LEVEL")); err == nil {
		level = lvl
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "ts"

	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	if os.Getenv("TSISAX_LOG_FORMAT") == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	base := zap.New(core, zap.AddCaller())

	return base.Sugar().With("service", service)
}

// Noop returns a logger that discards everything, useful for tests that
// don't want log output cluttering -v runs.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
