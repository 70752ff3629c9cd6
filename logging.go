// logging.go: Pluggable logging interface for the modshell library
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"context"
	"sync"
)

// loggerContextKey is a custom type for context keys to avoid collisions
type loggerContextKey string

const loggerKey loggerContextKey = "logger"

// Logger defines the pluggable logging interface used throughout modshell.
//
// The host application provides the concrete implementation; the library
// itself carries no logging backend. Adapters exist for charmbracelet/log
// (see NewCharmLogAdapter); any structured key-value logger can be wrapped
// the same way.
//
// Design principles:
//   - Zero backend dependencies in the core package
//   - Structured args: key-value pairs for structured logging
//   - With() returns a derived logger carrying persistent context
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NoOpLogger discards every log message. Used as the default when the
// host does not supply a logger, and in tests that don't inspect output.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

// Debug implements Logger (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger (no-op)
func (n *NoOpLogger) With(args ...any) Logger { return n }

// DefaultLogger returns the library default logger (a NoOpLogger).
// Hosts are expected to provide their own Logger implementation.
func DefaultLogger() Logger { return NewNoOpLogger() }

// TestLogger captures log messages for assertions in tests.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new capturing test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{Messages: make([]TestLogMessage, 0)}
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{Level: level, Message: msg, Args: args})
}

// Debug implements Logger (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }

// Info implements Logger (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.record("INFO", msg, args) }

// Warn implements Logger (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.record("WARN", msg, args) }

// Error implements Logger (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With implements Logger; context chaining is not needed for tests, so the
// same instance is returned and keeps capturing.
func (t *TestLogger) With(args ...any) Logger { return t }

// HasMessage checks if the logger captured a message with the given level
// and exact text.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// LoggerFromContext extracts a logger from context if available, falling
// back to DefaultLogger.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
