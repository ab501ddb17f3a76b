// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package future provides a single-assignment result container and a
// fan-out/fan-in join over many of them.
//
// A [Future] is completed exactly once, by [Future.Resolve] or
// [Future.Reject]; later completions are ignored. Readers either block
// with [Future.Wait], select on [Future.Done], or register a callback
// with [Future.Then]. Callbacks run on the goroutine that completes the
// future, or immediately on the registering goroutine if the future is
// already complete, so they must not block.
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned by [Future.Peek] before completion.
var ErrPending = errors.New("future: not complete")

// Future holds the eventual outcome of one asynchronous operation.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// New returns an incomplete future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with value.
func Resolved[T any](value T) *Future[T] {
	future := New[T]()
	future.Resolve(value)
	return future
}

// Rejected returns a future already completed with err.
func Rejected[T any](err error) *Future[T] {
	future := New[T]()
	future.Reject(err)
	return future
}

// Go runs fn on a new goroutine and returns a future for its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	future := New[T]()
	go func() {
		future.Complete(fn())
	}()
	return future
}

// Resolve completes the future successfully. It reports whether this
// call completed it.
func (f *Future[T]) Resolve(value T) bool {
	return f.Complete(value, nil)
}

// Reject completes the future with err. A nil err is replaced with a
// generic error so a rejected future is never mistaken for a resolved
// one.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = errors.New("future: rejected with nil error")
	}
	var zero T
	return f.Complete(zero, err)
}

// Complete resolves with value when err is nil and rejects otherwise.
// On rejection value is discarded.
func (f *Future[T]) Complete(value T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	if err != nil {
		var zero T
		value = zero
	}
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, callback := range callbacks {
		callback(value, err)
	}
	return true
}

// Done is closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Peek returns the outcome without blocking, or ErrPending.
func (f *Future[T]) Peek() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.completed {
		var zero T
		return zero, ErrPending
	}
	return f.value, f.err
}

// Wait blocks until the future completes or ctx is done. Abandoning a
// wait does not cancel the underlying operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers callback to receive the outcome.
func (f *Future[T]) Then(callback func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, callback)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	callback(value, err)
}

// Map returns a future completed with transform applied to f's value,
// or with f's error.
func Map[T, U any](f *Future[T], transform func(T) (U, error)) *Future[U] {
	mapped := New[U]()
	f.Then(func(value T, err error) {
		if err != nil {
			mapped.Reject(err)
			return
		}
		mapped.Complete(transform(value))
	})
	return mapped
}
