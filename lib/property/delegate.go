// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/winsync/lib/remote"
)

// Delegate performs the remote side of a cell. Both methods may block;
// they are only ever called from background goroutines.
type Delegate[T any] interface {
	Read(ctx context.Context) (T, error)
	Write(ctx context.Context, value T) error
}

// AttributeDelegate reads and writes one attribute of one element.
type AttributeDelegate[T any] struct {
	store  remote.AttributeStore
	handle remote.Handle
	spec   Spec[T]
}

// NewAttributeDelegate binds spec to handle in store.
func NewAttributeDelegate[T any](store remote.AttributeStore, handle remote.Handle, spec Spec[T]) *AttributeDelegate[T] {
	return &AttributeDelegate[T]{store: store, handle: handle, spec: spec}
}

// Read fetches and decodes the attribute.
func (d *AttributeDelegate[T]) Read(ctx context.Context) (T, error) {
	raw, err := d.store.Read(ctx, d.handle, d.spec.Attribute)
	return d.resolve(raw, err)
}

// Write encodes and stores value.
func (d *AttributeDelegate[T]) Write(ctx context.Context, value T) error {
	if !d.spec.Writable {
		return remote.ErrIllegalValue
	}
	raw, err := d.spec.encode(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", d.spec.Attribute, remote.ErrIllegalValue)
	}
	return d.store.Write(ctx, d.handle, d.spec.Attribute, raw)
}

// Initial decodes the attribute from a ReadMany result. It applies the
// same required/optional rules as Read.
func (d *AttributeDelegate[T]) Initial(fetched map[remote.Attribute]any) (T, error) {
	raw, present := fetched[d.spec.Attribute]
	if !present {
		return d.resolve(nil, remote.ErrMissingValue)
	}
	return d.resolve(raw, nil)
}

func (d *AttributeDelegate[T]) resolve(raw any, err error) (T, error) {
	var zero T
	switch {
	case remote.Classify(err) == remote.KindMissingValue, err == nil && raw == nil:
		if d.spec.Required {
			return zero, remote.Invalid(remote.ErrMissingValue)
		}
		return zero, nil
	case err != nil:
		return zero, err
	}
	value, err := d.spec.Decode(raw)
	if err != nil {
		return zero, remote.Failure(fmt.Errorf("decoding %s: %w", d.spec.Attribute, err))
	}
	return value, nil
}

// withWriter replaces the write path of a delegate.
type withWriter[T any] struct {
	Delegate[T]
	write func(ctx context.Context, value T) error
}

func (d withWriter[T]) Write(ctx context.Context, value T) error { return d.write(ctx, value) }

// WithWriter returns a delegate that reads through base and writes
// through write.
func WithWriter[T any](base Delegate[T], write func(ctx context.Context, value T) error) Delegate[T] {
	return withWriter[T]{Delegate: base, write: write}
}
