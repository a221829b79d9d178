// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logger builds the process-wide zap logger. Console output is
// human-readable for interactive use; the rotating file keeps structured
// JSON for fleet log collection.
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options control logger construction.
type Options struct {
	Level string // debug, info, warn, error
	Path  string // log file path; empty disables the file core
}

// New builds the logger. Errors creating the log directory fall back to
// console-only logging rather than failing startup.
func New(opts Options) *zap.Logger {
	level := parseLevel(opts.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(os.Stderr), level),
	}

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   opts.Path,
				MaxSize:    20, // MB
				MaxAge:     30, // days
				MaxBackups: 5,
				Compress:   true,
			}
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encCfg),
				zapcore.AddSync(fileWriter), level))
		}
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
