package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the construction of the global logger.
type Config struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	// Defaults to "info".
	Level string

	// File is an optional path for rotated file output. When empty, logs go
	// to stderr only.
	File string

	// Rotation settings for the file output, in the units lumberjack uses.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	initOnce sync.Once
	global   *zap.Logger
)

// Initialize sets up the global logger with default settings.
func Initialize() {
	InitializeWith(Config{})
}

// InitializeWith sets up the global logger from the given config.
// The first initialization wins; later calls are no-ops.
func InitializeWith(cfg Config) {
	initOnce.Do(func() {
		level := zapcore.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		}

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder := zapcore.NewJSONEncoder(encoderConfig)

		sink := zapcore.AddSync(os.Stderr)
		if cfg.File != "" {
			rotated := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
			})
			sink = zapcore.NewMultiWriteSyncer(sink, rotated)
		}

		global = zap.New(zapcore.NewCore(encoder, sink, level))
		zap.ReplaceGlobals(global)
	})
}

// For returns a component-specific sugared logger. Components should use the
// name constants from this package.
func For(component string) *zap.SugaredLogger {
	if global == nil {
		Initialize()
	}
	return global.Sugar().Named(component)
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}
