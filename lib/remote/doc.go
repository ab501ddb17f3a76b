// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote defines the contract between the winsync engine and
// the live windowing environment it mirrors.
//
// The environment is owned by someone else: a platform accessibility
// helper, the bridge client talking to one, or the simulated
// environment used in tests. The engine only ever sees it through
// [Environment], which combines three capabilities:
//
//   - [AttributeStore]: point reads and writes of named attributes on a
//     [Handle]. Reads of absent attributes fail with [ErrMissingValue];
//     ReadMany returns whatever subset exists without failing.
//   - [Workspace]: enumeration of running applications and screens, the
//     frontmost process, and creation of one [Observer] per application.
//   - Notices: a single stream of push [Notice] values. Exactly one
//     consumer (the engine's pump) reads it.
//
// # Error taxonomy
//
// Every error an environment returns must be one of five kinds:
// [ErrIllegalValue], [*TimeoutError], [ErrMissingValue],
// [*InvalidObjectError], or [*FailureError]. [Classify] maps an error
// to its [ErrorKind]; anything else is a defect in the environment
// implementation and is reported as [KindDefect].
package remote
