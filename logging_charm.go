// logging_charm.go: charmbracelet/log adapter for the Logger interface
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	charmlog "github.com/charmbracelet/log"
)

// CharmLogAdapter wraps a *charmlog.Logger so it satisfies the modshell
// Logger interface. cmd/modhost uses this as its concrete logger.
type CharmLogAdapter struct {
	logger *charmlog.Logger
}

// NewCharmLogAdapter wraps an existing charmbracelet logger.
func NewCharmLogAdapter(logger *charmlog.Logger) *CharmLogAdapter {
	return &CharmLogAdapter{logger: logger}
}

// Debug implements Logger
func (c *CharmLogAdapter) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }

// Info implements Logger
func (c *CharmLogAdapter) Info(msg string, args ...any) { c.logger.Info(msg, args...) }

// Warn implements Logger
func (c *CharmLogAdapter) Warn(msg string, args ...any) { c.logger.Warn(msg, args...) }

// Error implements Logger
func (c *CharmLogAdapter) Error(msg string, args ...any) { c.logger.Error(msg, args...) }

// With implements Logger
func (c *CharmLogAdapter) With(args ...any) Logger {
	return &CharmLogAdapter{logger: c.logger.With(args...)}
}
