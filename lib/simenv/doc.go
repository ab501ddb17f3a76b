// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package simenv is an in-memory [remote.Environment].
//
// An [Environment] holds applications, windows, and screens as plain
// attribute maps and behaves the way a platform accessibility helper
// does: writes may be coerced, every change (including ones made
// through the remote interface) produces the notices an observer has
// subscribed to, and workspace notices are always delivered. Tests and
// the "winsync simulate" command drive it through the mutation methods
// (Launch, CreateWindow, SetAttribute, ...) to play the part of the
// outside world, and through [Fault] injection and latency to play the
// part of an unreliable one.
//
// Scenario files describe an initial world in JSONC. [Watch] reloads a
// scenario file whenever it changes on disk and applies the difference
// as external changes.
package simenv
