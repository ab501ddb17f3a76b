// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/winsync/lib/loop"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// EntityLookup resolves a handle to a tracked entity. Lookup is only
// ever called on the owning loop.
type EntityLookup[E comparable] interface {
	Lookup(ctx context.Context, handle remote.Handle) (E, bool)
}

// LookupFunc adapts a function to EntityLookup.
type LookupFunc[E comparable] func(ctx context.Context, handle remote.Handle) (E, bool)

func (f LookupFunc[E]) Lookup(ctx context.Context, handle remote.Handle) (E, bool) {
	return f(ctx, handle)
}

// RefDelegate presents a handle-valued attribute as a reference to a
// tracked entity. A handle with no tracked entity reads as the zero E.
// Writes are rejected: changing which element an attribute refers to
// needs a write on the target element, which callers supply through
// [WithWriter].
type RefDelegate[E comparable] struct {
	handles Delegate[remote.Handle]
	lookup  EntityLookup[E]
	loop    *loop.Loop
	logger  *slog.Logger
}

// NewRefDelegate wraps handles.
func NewRefDelegate[E comparable](handles Delegate[remote.Handle], lookup EntityLookup[E], owner *loop.Loop, logger *slog.Logger) *RefDelegate[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefDelegate[E]{handles: handles, lookup: lookup, loop: owner, logger: logger}
}

// Read fetches the handle and resolves it on the loop.
func (d *RefDelegate[E]) Read(ctx context.Context) (E, error) {
	var zero E
	handle, err := d.handles.Read(ctx)
	if err != nil {
		return zero, err
	}
	return d.Resolve(ctx, handle)
}

// Resolve looks handle up on the loop, blocking until the lookup has
// run when called off the loop.
func (d *RefDelegate[E]) Resolve(ctx context.Context, handle remote.Handle) (E, error) {
	var zero E
	if handle == 0 {
		return zero, nil
	}
	var (
		entity E
		found  bool
	)
	err := d.loop.Call(ctx, func(loopCtx context.Context) error {
		entity, found = d.lookup.Lookup(loopCtx, handle)
		return nil
	})
	if err != nil {
		return zero, remote.Failure(err)
	}
	if !found {
		d.logger.Debug("reference to untracked element", "handle", handle)
		return zero, nil
	}
	return entity, nil
}

// Write always fails with ErrIllegalValue.
func (d *RefDelegate[E]) Write(context.Context, E) error {
	return remote.ErrIllegalValue
}
