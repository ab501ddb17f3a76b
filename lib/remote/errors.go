// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrIllegalValue reports a write the environment rejected, or a write
// to something that cannot be written.
var ErrIllegalValue = errors.New("illegal value")

// ErrMissingValue reports an attribute that is absent on the element.
var ErrMissingValue = errors.New("missing value")

// TimeoutError reports an operation that did not finish within its
// deadline. The element may still be alive.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v", e.Duration)
}

// InvalidObjectError reports that the element no longer exists, or
// never qualified as the object the caller expected. It is permanent.
type InvalidObjectError struct {
	Cause error
}

func (e *InvalidObjectError) Error() string {
	if e.Cause == nil {
		return "invalid object"
	}
	return "invalid object: " + e.Cause.Error()
}

func (e *InvalidObjectError) Unwrap() error { return e.Cause }

// FailureError reports any other failure. It is presumed transient.
type FailureError struct {
	Cause error
}

func (e *FailureError) Error() string {
	if e.Cause == nil {
		return "failure"
	}
	return "failure: " + e.Cause.Error()
}

func (e *FailureError) Unwrap() error { return e.Cause }

// Invalid wraps cause as an InvalidObjectError.
func Invalid(cause error) error { return &InvalidObjectError{Cause: cause} }

// Failure wraps cause as a FailureError.
func Failure(cause error) error { return &FailureError{Cause: cause} }

// ErrorKind is the taxonomy class of an error.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindIllegalValue  ErrorKind = "illegal_value"
	KindTimeout       ErrorKind = "timeout"
	KindMissingValue  ErrorKind = "missing_value"
	KindInvalidObject ErrorKind = "invalid_object"
	KindFailure       ErrorKind = "failure"

	// KindDefect marks an error outside the taxonomy.
	KindDefect ErrorKind = "defect"
)

// Classify returns the taxonomy class of err. The outermost taxonomy
// type wins, so InvalidObjectError{Cause: ErrMissingValue} classifies as
// KindInvalidObject.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		switch typed := current.(type) {
		case *InvalidObjectError:
			return KindInvalidObject
		case *TimeoutError:
			return KindTimeout
		case *FailureError:
			return KindFailure
		default:
			if typed == ErrIllegalValue {
				return KindIllegalValue
			}
			if typed == ErrMissingValue {
				return KindMissingValue
			}
		}
	}
	return KindDefect
}

// IsPermanent reports whether err means the element is gone.
func IsPermanent(err error) bool {
	return Classify(err) == KindInvalidObject
}

// IsTransient reports whether retrying the operation may succeed.
func IsTransient(err error) bool {
	kind := Classify(err)
	return kind == KindTimeout || kind == KindFailure
}

// Sanitize returns err unchanged when it belongs to the taxonomy. An
// error outside it is an environment defect: in strict mode Sanitize
// panics, otherwise it logs the defect and returns it wrapped as a
// FailureError.
func Sanitize(err error, strict bool, logger *slog.Logger) error {
	if Classify(err) != KindDefect {
		return err
	}
	if strict {
		panic(fmt.Sprintf("remote: error outside the taxonomy: %v (%T)", err, err))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("environment returned an unclassified error", "error", err)
	return Failure(err)
}
