// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simenv

import (
	"log/slog"
	"sync"
)

// reloader re-reads a scenario file and applies it. Reload is
// serialized so overlapping change notifications apply in order.
type reloader struct {
	path   string
	player *Player
	logger *slog.Logger
	mu     sync.Mutex
}

func (r *reloader) reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	scenario, err := LoadScenario(r.path)
	if err != nil {
		// The file may be mid-write; the completing write triggers
		// another reload.
		r.logger.Warn("scenario reload failed", "path", r.path, "error", err)
		return
	}
	if err := r.player.Apply(scenario); err != nil {
		r.logger.Error("applying scenario", "path", r.path, "error", err)
		return
	}
	r.logger.Info("scenario reloaded", "path", r.path, "applications", len(scenario.Applications))
}
