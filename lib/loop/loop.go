// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package loop provides the single goroutine that owns winsync's model.
//
// A [Loop] is an unbounded FIFO of closures drained by exactly one
// goroutine ([Loop.Run]). Everything that touches entity collections,
// routes notifications, or dispatches events runs as a closure on the
// loop, which gives the whole model a total order without any locks of
// its own. Background goroutines hand results back with [Loop.Post]
// (fire and forget) or [Loop.Call] (block until the closure has run).
//
// Closures receive a context marked as "on the loop". [Loop.Call] with
// such a context runs the closure inline instead of queueing it, so
// code that may run either on or off the loop can always use Call
// without deadlocking.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by [Loop.Call] once the loop has stopped.
var ErrStopped = errors.New("loop: stopped")

type onLoopKey struct{}

// Loop is a single-consumer work queue.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func(context.Context)
	started bool
	stopped bool

	// wake has capacity one: a pending signal means "queue may be
	// non-empty", so producers never block.
	wake chan struct{}
	done chan struct{}
}

// New returns a loop that is not yet running.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger.With("component", "loop"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post enqueues fn. It never blocks. Closures posted after the loop
// stops are dropped.
func (l *Loop) Post(fn func(ctx context.Context)) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.logger.Debug("dropping closure posted after stop")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and returns its error. When ctx is already
// on this loop fn runs inline. Otherwise Call queues fn and blocks
// until it has run, ctx is done, or the loop stops. If Call returns
// because ctx is done, fn may still run later.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.OnLoop(ctx) {
		return fn(ctx)
	}

	result := make(chan error, 1)
	l.Post(func(loopCtx context.Context) {
		result <- fn(loopCtx)
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The closure may have run just before the loop stopped.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Sync blocks until every closure posted before the call has run.
func (l *Loop) Sync(ctx context.Context) error {
	return l.Call(ctx, func(context.Context) error { return nil })
}

// OnLoop reports whether ctx belongs to a closure running on l.
func (l *Loop) OnLoop(ctx context.Context) bool {
	owner, _ := ctx.Value(onLoopKey{}).(*Loop)
	return owner == l
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run drains the queue until ctx is done. Closures still queued at that
// point are discarded. Run may be called only once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("loop: Run called twice")
	}
	l.started = true
	l.mu.Unlock()

	loopCtx := context.WithValue(ctx, onLoopKey{}, l)
	defer func() {
		l.mu.Lock()
		l.stopped = true
		discarded := len(l.queue)
		l.queue = nil
		l.mu.Unlock()
		if discarded > 0 {
			l.logger.Debug("loop stopped with queued closures", "discarded", discarded)
		}
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for index, fn := range batch {
			if ctx.Err() != nil {
				l.requeue(batch[index:])
				return ctx.Err()
			}
			fn(loopCtx)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// requeue puts unrun closures back at the head of the queue so the
// discard count in Run's exit path is accurate.
func (l *Loop) requeue(remaining []func(context.Context)) {
	l.mu.Lock()
	l.queue = append(remaining, l.queue...)
	l.mu.Unlock()
}
