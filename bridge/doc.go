// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge carries a [remote.Environment] across a Unix socket.
//
// The platform accessibility helper runs out of process. [Server]
// exposes any Environment on a socket; [Client] implements Environment
// against that socket, so the state engine runs unchanged whether the
// environment is in-process or behind the bridge.
//
// The protocol is CBOR (see lib/codec). Every operation uses its own
// connection: the client writes one request map carrying an "action"
// field, the server writes one response and closes. The exception is
// the "notices" action, which keeps its connection open and streams
// [remote.Notice] values until either side goes away.
//
// Attribute values travel as a tagged [WireValue]. Errors travel as an
// envelope of {kind, cause, message, timeout} and are rebuilt on the
// client into the same taxonomy the server's environment produced, so
// remote.Classify gives identical answers on both sides. Connection
// failures on the client surface as remote.FailureError.
package bridge
