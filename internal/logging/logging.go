// Package logging builds the logr loggers used across douki, backed by zap.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logr's V.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// NewLogger returns a zap-backed logger. level is one of "info", "debug" or
// "trace"; development switches to zap's human-readable console encoder.
func NewLogger(level string, development bool) (logr.Logger, error) {
	var v int
	switch level {
	case "", "info":
		v = INFO
	case "debug":
		v = DEBUG
	case "trace":
		v = TRACE
	default:
		return logr.Discard(), fmt.Errorf("unknown log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	// logr verbosity n maps to zap level -n.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-v))
	z, err := cfg.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("build zap logger: %w", err)
	}
	return zapr.NewLogger(z), nil
}

// NewTestLogger returns a development logger at DEBUG verbosity.
func NewTestLogger() logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-DEBUG))
	z, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

// Discard returns a logger that drops everything.
func Discard() logr.Logger { return logr.Discard() }
