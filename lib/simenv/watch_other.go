// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package simenv

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watch applies path through player every time its modification time
// changes, until ctx is done. Platforms without inotify poll twice a
// second.
func Watch(ctx context.Context, path string, player *Player, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher := &reloader{path: path, player: player, logger: logger.With("component", "scenario-watch")}

	var lastModified time.Time
	if info, err := os.Stat(path); err == nil {
		lastModified = info.ModTime()
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().After(lastModified) {
			continue
		}
		lastModified = info.ModTime()
		watcher.reload()
	}
}
