// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"fmt"

	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// Spec declares how one attribute maps onto a typed cell.
type Spec[T any] struct {
	// Attribute is the remote attribute name.
	Attribute remote.Attribute

	// Required attributes must be present. A missing required
	// attribute means the element is not what the caller believed it
	// was and is reported as InvalidObjectError{Cause: ErrMissingValue}.
	// A missing optional attribute reads as the zero value.
	Required bool

	// Writable cells accept Set.
	Writable bool

	// Decode converts a wire value into T.
	Decode func(raw any) (T, error)

	// Encode converts T into a wire value. Nil means the value is
	// written as-is.
	Encode func(value T) (any, error)

	// Equal decides whether an applied value is a change.
	Equal func(a, b T) bool
}

// DecodeAs is the Decode function for attributes whose wire type is T
// itself.
func DecodeAs[T any](raw any) (T, error) {
	value, ok := raw.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("attribute value has type %T, want %T", raw, zero)
	}
	return value, nil
}

// Equals is the Equal function for comparable types.
func Equals[T comparable](a, b T) bool { return a == b }

// Simple returns a spec for a comparable attribute carried on the wire
// as T.
func Simple[T comparable](attribute remote.Attribute, required, writable bool) Spec[T] {
	return Spec[T]{
		Attribute: attribute,
		Required:  required,
		Writable:  writable,
		Decode:    DecodeAs[T],
		Equal:     Equals[T],
	}
}

// Bool returns a spec for a boolean attribute.
func Bool(attribute remote.Attribute, required, writable bool) Spec[bool] {
	return Simple[bool](attribute, required, writable)
}

// String returns a spec for a string attribute.
func String(attribute remote.Attribute, required, writable bool) Spec[string] {
	return Simple[string](attribute, required, writable)
}

// Handle returns a spec for an attribute holding a single element
// handle.
func Handle(attribute remote.Attribute, required bool) Spec[remote.Handle] {
	return Simple[remote.Handle](attribute, required, false)
}

// HandleList returns a spec for an attribute holding element handles.
func HandleList(attribute remote.Attribute) Spec[[]remote.Handle] {
	return Spec[[]remote.Handle]{
		Attribute: attribute,
		Decode:    DecodeAs[[]remote.Handle],
		Equal: func(a, b []remote.Handle) bool {
			if len(a) != len(b) {
				return false
			}
			for index := range a {
				if a[index] != b[index] {
					return false
				}
			}
			return true
		},
	}
}

// Point returns a spec for a point attribute.
func Point(attribute remote.Attribute, required, writable bool) Spec[geometry.Point] {
	return Simple[geometry.Point](attribute, required, writable)
}

// Size returns a spec for a size attribute.
func Size(attribute remote.Attribute, required, writable bool) Spec[geometry.Size] {
	return Simple[geometry.Size](attribute, required, writable)
}

func (s Spec[T]) encode(value T) (any, error) {
	if s.Encode == nil {
		return value, nil
	}
	return s.Encode(value)
}
