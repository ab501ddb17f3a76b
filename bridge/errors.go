// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/winsync/lib/remote"
)

// errorEnvelope is the wire form of an error. Kind is the outermost
// taxonomy class; Cause records a sentinel underneath it, so
// InvalidObject(MissingValue) survives the trip.
type errorEnvelope struct {
	Kind    remote.ErrorKind `cbor:"kind"`
	Cause   remote.ErrorKind `cbor:"cause,omitempty"`
	Message string           `cbor:"message"`
	Timeout time.Duration    `cbor:"timeout,omitempty"`
}

func envelopeFor(err error) *errorEnvelope {
	envelope := &errorEnvelope{Kind: remote.Classify(err), Message: err.Error()}
	switch {
	case errors.Is(err, remote.ErrMissingValue):
		envelope.Cause = remote.KindMissingValue
	case errors.Is(err, remote.ErrIllegalValue):
		envelope.Cause = remote.KindIllegalValue
	}
	var timeout *remote.TimeoutError
	if errors.As(err, &timeout) {
		envelope.Timeout = timeout.Duration
	}
	return envelope
}

// RemoteError is an error raised by the environment on the far side of
// the bridge. Its Unwrap chain holds the sentinel the far side wrapped,
// if any.
type RemoteError struct {
	Action  string
	Message string
	cause   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge %s: %s", e.Action, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.cause }

// rebuild turns an envelope back into an error that classifies the way
// the original did.
func (e *errorEnvelope) rebuild(action string) error {
	base := &RemoteError{Action: action, Message: e.Message}
	switch e.Cause {
	case remote.KindMissingValue:
		base.cause = remote.ErrMissingValue
	case remote.KindIllegalValue:
		base.cause = remote.ErrIllegalValue
	}

	switch e.Kind {
	case remote.KindInvalidObject:
		return remote.Invalid(base)
	case remote.KindTimeout:
		return &remote.TimeoutError{Duration: e.Timeout}
	case remote.KindFailure:
		return remote.Failure(base)
	default:
		// Sentinel kinds classify through base.cause; defects stay
		// unclassified so the engine's strict mode sees them.
		return base
	}
}
