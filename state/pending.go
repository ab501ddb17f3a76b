// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import "context"

// pendingTable tracks entities under construction and the work that
// arrived for them before they were ready. Each entry is consumed
// exactly once: replayed by complete or dropped by abandon. It is only
// touched on the owning loop.
type pendingTable[K comparable] struct {
	entries map[K][]func(ctx context.Context)
}

func newPendingTable[K comparable]() pendingTable[K] {
	return pendingTable[K]{entries: make(map[K][]func(ctx context.Context))}
}

// begin marks key as under construction. It returns false if key was
// already pending.
func (t pendingTable[K]) begin(key K) bool {
	if _, exists := t.entries[key]; exists {
		return false
	}
	t.entries[key] = nil
	return true
}

func (t pendingTable[K]) has(key K) bool {
	_, exists := t.entries[key]
	return exists
}

// hold defers continuation until key completes. It returns false when
// key is not pending.
func (t pendingTable[K]) hold(key K, continuation func(ctx context.Context)) bool {
	continuations, exists := t.entries[key]
	if !exists {
		return false
	}
	t.entries[key] = append(continuations, continuation)
	return true
}

// complete removes key and runs its continuations in arrival order. It
// returns false when key was not pending, meaning construction was
// abandoned in the meantime.
func (t pendingTable[K]) complete(ctx context.Context, key K) bool {
	continuations, exists := t.entries[key]
	if !exists {
		return false
	}
	delete(t.entries, key)
	for _, continuation := range continuations {
		continuation(ctx)
	}
	return true
}

// abandon removes key and drops its continuations. It returns the
// number dropped, or -1 when key was not pending.
func (t pendingTable[K]) abandon(key K) int {
	continuations, exists := t.entries[key]
	if !exists {
		return -1
	}
	delete(t.entries, key)
	return len(continuations)
}

func (t pendingTable[K]) keys() []K {
	keys := make([]K, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	return keys
}
