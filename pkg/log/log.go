// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface used throughout the module.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Sync() error
}

// zapLogger wraps a zap.Logger
type zapLogger struct {
	log *zap.Logger
}

// New creates a new logger at info level
func New() Logger {
	return NewWithLevel("info")
}

// NewWithLevel creates a new logger with specific level
func NewWithLevel(level string) Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"

	l, err := cfg.Build()
	if err != nil {
		return &noOpLogger{}
	}

	return &zapLogger{log: l}
}

// NoOp returns a no-op logger
func NoOp() Logger {
	return &noOpLogger{}
}

// NoLog is a no-op logger instance
var NoLog = NoOp()

// NewLogger creates a new logger with a name field attached
func NewLogger(name string) Logger {
	base := NewWithLevel("info")
	if z, ok := base.(*zapLogger); ok {
		return &zapLogger{log: z.log.With(zap.String("component", name))}
	}
	return base
}

// Debug logs a debug message
func (l *zapLogger) Debug(msg string) {
	l.log.Debug(msg)
}

// Info logs an info message
func (l *zapLogger) Info(msg string) {
	l.log.Info(msg)
}

// Warn logs a warning message
func (l *zapLogger) Warn(msg string) {
	l.log.Warn(msg)
}

// Error logs an error message
func (l *zapLogger) Error(msg string) {
	l.log.Error(msg)
}

// Fatal logs a fatal message and exits
func (l *zapLogger) Fatal(msg string) {
	l.log.Fatal(msg)
}

// Sync flushes any buffered log entries
func (l *zapLogger) Sync() error {
	return l.log.Sync()
}

// noOpLogger is a logger that does nothing
type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string) {}
func (n *noOpLogger) Info(msg string)  {}
func (n *noOpLogger) Warn(msg string)  {}
func (n *noOpLogger) Error(msg string) {}
func (n *noOpLogger) Fatal(msg string) {}
func (n *noOpLogger) Sync() error      { return nil }

// For compatibility with zap.Field usage in some places
func String(key, val string) zap.Field {
	return zap.String(key, val)
}

func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func Error(err error) zap.Field {
	return zap.Error(err)
}
