// Package logging builds the process logger.
//
// Components take a logr.Logger; the concrete backend is zap, bridged with
// zapr. Verbosity follows logr conventions: V(1) is debug.
package logging

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel converts a config level name to a zap level
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a logger at the given level. Development mode switches to the
// console encoder with stack traces on warnings.
func New(level string, development bool) (logr.Logger, func(), error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("build logger: %w", err)
	}

	sync := func() { _ = zl.Sync() }
	return zapr.NewLogger(zl), sync, nil
}

// NewTestLogger creates a development logger for tests
func NewTestLogger() logr.Logger {
	zl, err := zap.NewDevelopment()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}
