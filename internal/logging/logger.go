package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns a zap logger configured for structured production logging.
// When filePath is non-empty, output additionally goes to a size-rotated file.
func NewLogger(level, filePath string) (*zap.Logger, error) {
	atomicLevel := parseLevel(level)

	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel

	if strings.TrimSpace(filePath) == "" {
		return cfg.Build()
	}

	consoleLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	})
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		fileSink,
		atomicLevel,
	)

	return consoleLogger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func parseLevel(level string) zap.AtomicLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}
