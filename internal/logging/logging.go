// ABOUTME: Structured zap logger for the CLI and MCP server.
// ABOUTME: Tees a rotated JSON file core with a console core on stderr.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level and outputs.
type Config struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// File is the JSON log path. Empty disables the file core.
	File string
	// Console receives human-readable output. Nil means stderr; use
	// io.Discard to silence it, as the MCP server does on stdio.
	Console io.Writer
	// ConsoleLevel raises the console threshold above Level. Empty means Level.
	ConsoleLevel string
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	consoleLevel := level
	if cfg.ConsoleLevel != "" {
		if err := consoleLevel.Set(cfg.ConsoleLevel); err != nil {
			return nil, fmt.Errorf("parse console log level %q: %w", cfg.ConsoleLevel, err)
		}
		if consoleLevel < level {
			consoleLevel = level
		}
	}

	var cores []zapcore.Core

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		))
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	if console != io.Discard {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.Lock(zapcore.AddSync(console)),
			consoleLevel,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return enc
}
