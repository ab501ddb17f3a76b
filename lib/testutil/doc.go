// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by winsync tests.
//
// [RequireReceive], [RequireClosed] and [RequireNoReceive] wrap the
// select-with-timeout pattern so tests never block forever on a
// channel that an engine goroutine was supposed to feed. They are the
// only place tests touch the wall clock.
//
// [SocketDir] returns a short directory under /tmp for unix sockets,
// whose paths are limited to 108 bytes.
//
// [UniqueID] returns monotonically increasing identifiers.
package testutil
