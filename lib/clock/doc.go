// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for winsync. Anything that waits
// (operation timeouts, discovery retry delays, scenario polling) takes
// a [Clock] instead of calling the time package, so tests can drive
// deadlines deterministically.
//
// Production code uses [Real]. Tests use [Fake] and move time with
// [FakeClock.Advance]. A goroutine that is about to wait registers a
// pending timer first; [FakeClock.BlockUntil] lets a test wait for that
// registration before advancing, which removes the race between "the
// worker started waiting" and "the test moved the clock".
package clock
