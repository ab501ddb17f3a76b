// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package property implements the cached, asynchronously refreshed
// attribute cell at the heart of winsync.
//
// A [Property] mirrors one remote attribute. [Property.Value] returns
// the cached value without blocking. [Property.Refresh] and
// [Property.Set] go to the remote side on a background goroutine and
// return a [future.Future] that completes once the result has been
// applied to the cache on the owning [loop.Loop]. When the applied
// value differs from the previous one (by the cell's [Spec.Equal]) the
// cell reports a [Change] through its hooks, also on the loop. Changes
// caused by Set carry External=false; everything else is external.
//
// Operations on one cell form a FIFO chain: each waits for its
// predecessor to finish and apply before starting, so results are
// applied strictly in submission order. Operations on different cells
// run concurrently. The first slot in every chain is held by
// initialization, so calls made on a freshly built cell queue behind
// [Property.Initialize].
//
// Remote calls go through a [Delegate]. [AttributeDelegate] maps a
// [Spec] onto a [remote.AttributeStore]; [RefDelegate] turns a handle
// valued attribute into a reference to an already tracked entity.
package property
