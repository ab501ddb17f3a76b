// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace records what the state engine saw and did, for
// diagnosing synchronization problems after the fact.
//
// A trace file starts with an 8-byte magic followed by a CBOR
// [Header] (format version, recording ID, start time, compression).
// The rest of the file is a sequence of CBOR blocks. Each block holds a
// run of CBOR-encoded [Record] values, compressed with the block's own
// algorithm and protected by a BLAKE3 digest of the uncompressed bytes.
// A block whose compressed form is not smaller than its input is
// stored uncompressed regardless of the file's configured compression.
//
// [Writer] implements state.Recorder, so a trace is attached by setting
// state.Options.Recorder. [Reader] walks the blocks and verifies every
// digest before yielding records.
package trace
