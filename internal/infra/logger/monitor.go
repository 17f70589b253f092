package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// monitorEncoderConfig produces line-delimited JSON, since the monitor log
// is meant to be tailed/grepped/ingested rather than read on a terminal.
func monitorEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// NewActivityLogger builds a logger that writes to both the console (same
// core as Logger()) and a rotating on-disk file at path, independent of the
// console logger's level and destination. Used for dispatcher command
// activity: every command dispatched, its outcome and latency, kept around
// on disk even when the console is quiet at info level.
func NewActivityLogger(path string, maxSizeMB, maxBackups, maxAgeDays int) *zap.Logger {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}

	fileCore := newRedactingCore(zapcore.NewCore(
		zapcore.NewJSONEncoder(monitorEncoderConfig()),
		zapcore.AddSync(rotator),
		zap.InfoLevel,
	))

	combined := zapcore.NewTee(Logger().Core(), fileCore)
	return zap.New(combined, zap.AddCaller())
}
