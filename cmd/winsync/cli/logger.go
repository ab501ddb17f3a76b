// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger for a command.
//
// format is "text", "json", or "auto". Auto uses slog.TextHandler when
// w is a terminal and slog.JSONHandler otherwise, so piped output
// stays machine-parseable.
//
// Callers scope the logger with command context via With():
//
//	logger := cli.NewLogger(os.Stderr, level, format).With("command", "run")
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if useText(w, format) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

func useText(w io.Writer, format string) bool {
	switch format {
	case "text":
		return true
	case "json":
		return false
	}
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
