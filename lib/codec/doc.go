// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds winsync's CBOR configuration. The environment
// bridge and the trace format both encode through it, so a value
// produces the same bytes regardless of which side wrote it.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2). Decoding
// ignores unknown fields so that a newer bridge helper can add fields
// without breaking an older engine.
//
// Types that only ever travel as CBOR use `cbor` struct tags. Types
// that are also printed as JSON (trace dump output) use `json` tags,
// which fxamacker/cbor reads as a fallback. Never both on one field.
package codec
