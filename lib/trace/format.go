// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"time"

	"github.com/bureau-foundation/winsync/lib/remote"
)

// magic opens every trace file.
var magic = [8]byte{'W', 'S', 'T', 'R', 'A', 'C', 'E', 0}

// FormatVersion is the version written by this package. Readers reject
// other versions.
const FormatVersion = 1

// Header describes a recording.
type Header struct {
	Version     int         `cbor:"version" json:"version"`
	Recording   string      `cbor:"recording" json:"recording"`
	Started     time.Time   `cbor:"started" json:"started"`
	Compression Compression `cbor:"compression" json:"compression"`
}

// block is one compressed run of records.
type block struct {
	Compression Compression `cbor:"compression"`
	Records     int         `cbor:"records"`
	Size        int         `cbor:"size"`
	Digest      []byte      `cbor:"digest"`
	Payload     []byte      `cbor:"payload"`
}

// RecordType distinguishes what a Record holds.
type RecordType string

const (
	// RecordNotice is a notification received from the environment.
	RecordNotice RecordType = "notice"
	// RecordEvent is an event dispatched to handlers.
	RecordEvent RecordType = "event"
)

// Record is one traced occurrence.
type Record struct {
	Type RecordType `cbor:"type" json:"type"`
	At   time.Time  `cbor:"at" json:"at"`

	// Notice is set for RecordNotice.
	Notice *remote.Notice `cbor:"notice,omitempty" json:"notice,omitempty"`

	// Kind, External, and Detail are set for RecordEvent.
	Kind     string         `cbor:"kind,omitempty" json:"kind,omitempty"`
	External bool           `cbor:"external,omitempty" json:"external,omitempty"`
	Detail   map[string]any `cbor:"detail,omitempty" json:"detail,omitempty"`
}
