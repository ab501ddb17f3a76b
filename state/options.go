// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"log/slog"
	"time"

	"github.com/bureau-foundation/winsync/lib/clock"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// Options configures a State.
type Options struct {
	Logger *slog.Logger

	// Clock measures operation timeouts and retry delays. Nil means
	// the real clock.
	Clock clock.Clock

	// OperationTimeout bounds every remote read or write made on
	// behalf of a property. Zero disables the bound.
	OperationTimeout time.Duration

	// DiscoveryRetries is how many times construction of one
	// application is retried after a transient failure.
	DiscoveryRetries int

	// RetryDelay separates discovery retries.
	RetryDelay time.Duration

	// Strict panics when the environment returns an error outside the
	// remote error taxonomy.
	Strict bool

	// Recorder, when set, receives every notice and every dispatched
	// event.
	Recorder Recorder
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		OperationTimeout: 2 * time.Second,
		DiscoveryRetries: 3,
		RetryDelay:       100 * time.Millisecond,
	}
}

// Recorder receives a diagnostic copy of the notice stream and the
// event stream. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordNotice(at time.Time, notice remote.Notice) error
	RecordEvent(at time.Time, kind string, external bool, detail map[string]any) error
}
