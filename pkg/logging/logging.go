// Package logging provides the structured logger shared by every package in
// this module, wrapping zap the same way the transport layer does.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger = l
}

// SetLogger replaces the package-level logger. Tests typically install a
// zaptest or observer-backed logger here.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a child logger carrying the given structured fields, for
// callers that want to build up context across several calls.
func With(fields ...zap.Field) *zap.Logger {
	return current().With(fields...)
}

func Debug(msg string, fields ...zap.Field) {
	current().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	current().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	current().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	current().Error(msg, fields...)
}
