// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/athena-flow/athena/lib/config"
)

// newLogger builds the process logger. In auto format it writes text
// when output is a terminal and JSON otherwise.
func newLogger(cfg config.LogConfig, output *os.File) *slog.Logger {
	format := cfg.Format
	if format == "auto" || format == "" {
		format = "json"
		if term.IsTerminal(int(output.Fd())) {
			format = "text"
		}
	}
	return slog.New(newHandler(format, parseLevel(cfg.Level), output))
}

func newHandler(format string, level slog.Level, output io.Writer) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(output, options)
	}
	return slog.NewJSONHandler(output, options)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
