// Package logger builds the zap logger used across the service.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LevelNone disables logging
	LevelNone = "none"

	// FormatJSON emits one JSON object per line
	FormatJSON = "json"

	// FormatConsole emits human readable lines
	FormatConsole = "console"
)

// New returns a zap logger with the given level and encoding.
// An empty level means info, an empty format means json.
func New(level, format string) (*zap.Logger, error) {
	if level == LevelNone {
		return zap.NewNop(), nil
	}
	if level == "" {
		level = "info"
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "", FormatJSON:
		cfg = zap.NewProductionConfig()
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// MustNew is New but panics on error
func MustNew(level, format string) *zap.Logger {
	l, err := New(level, format)
	if err != nil {
		panic(err)
	}
	return l
}
