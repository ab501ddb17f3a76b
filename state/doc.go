// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package state maintains the in-process model of running
// applications, their windows, and the screen layout.
//
// [New] discovers everything the environment currently reports and
// returns a [State] that stays in sync with the environment's push
// notices for as long as it is open. Every mutation of the model, and
// every event dispatch, runs on one owning [loop.Loop], so subscribers
// registered with [On] see events in a single total order that is
// consistent with the model they can read from the callback.
//
// Entities become visible only after they are fully constructed: an
// application or window appears in the model (and its created event
// fires) only once every property has its initial value. Notices that
// arrive for an entity still under construction are held in a pending
// table and replayed, in arrival order, once it is ready. Entities that
// fail construction are logged and never appear.
//
// Reading the model ([State.RunningApplications], [Window.Frame] and
// so on) is safe from any goroutine and never blocks on the
// environment.
package state
