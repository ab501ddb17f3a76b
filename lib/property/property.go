// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package property

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/winsync/lib/clock"
	"github.com/bureau-foundation/winsync/lib/future"
	"github.com/bureau-foundation/winsync/lib/loop"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// ErrAbandoned rejects operations queued on a cell whose entity never
// finished construction.
var ErrAbandoned = errors.New("property: entity construction abandoned")

// Runtime is what every cell of an entity shares.
type Runtime struct {
	Loop  *loop.Loop
	Clock clock.Clock

	// Timeout bounds each remote operation. Zero disables it.
	Timeout time.Duration

	Logger *slog.Logger

	// Strict panics on errors outside the remote taxonomy instead of
	// converting them to FailureError.
	Strict bool
}

// Change is one applied value transition. Old and New always differ.
type Change[T any] struct {
	Old T
	New T

	// External is false when the change was caused by this process's
	// own Set.
	External bool
}

// Hooks receive cell notifications. Both run on the owning loop.
type Hooks[T any] struct {
	// OnChange is called after the cache has been updated.
	OnChange func(ctx context.Context, change Change[T])

	// OnInvalid is called when the remote side reports that the
	// element no longer exists, before the failing future rejects.
	OnInvalid func(ctx context.Context, err error)
}

// Property is a cached remote attribute.
type Property[T any] struct {
	name     string
	equal    func(a, b T) bool
	writable bool
	delegate Delegate[T]
	hooks    Hooks[T]
	runtime  Runtime
	logger   *slog.Logger

	valueMu sync.RWMutex
	value   T

	chainMu sync.Mutex
	// tail is closed when the most recently queued operation's remote
	// call has returned and its result has been applied, even if its
	// future was already rejected by a timeout.
	tail chan struct{}
	// initGate is the chain's first slot, released by Initialize or
	// Abandon.
	initGate   chan struct{}
	initOnce   sync.Once
	abandonErr error
}

// New builds an uninitialized cell. Until Initialize is called, Value
// returns the zero T and every operation waits.
func New[T any](spec Spec[T], delegate Delegate[T], hooks Hooks[T], runtime Runtime) *Property[T] {
	if spec.Equal == nil {
		panic("property: Spec.Equal is required for " + string(spec.Attribute))
	}
	if runtime.Logger == nil {
		runtime.Logger = slog.Default()
	}
	if runtime.Clock == nil {
		runtime.Clock = clock.Real()
	}
	gate := make(chan struct{})
	return &Property[T]{
		name:     string(spec.Attribute),
		equal:    spec.Equal,
		writable: spec.Writable,
		delegate: delegate,
		hooks:    hooks,
		runtime:  runtime,
		logger:   runtime.Logger.With("attribute", string(spec.Attribute)),
		tail:     gate,
		initGate: gate,
	}
}

// Initialize sets the first value without reporting a change and
// releases queued operations. Calls after the first are ignored.
func (p *Property[T]) Initialize(value T) {
	p.initOnce.Do(func() {
		p.valueMu.Lock()
		p.value = value
		p.valueMu.Unlock()
		close(p.initGate)
	})
}

// Abandon releases queued operations with err (ErrAbandoned if nil).
// It has no effect after Initialize.
func (p *Property[T]) Abandon(err error) {
	if err == nil {
		err = ErrAbandoned
	}
	p.initOnce.Do(func() {
		p.chainMu.Lock()
		p.abandonErr = err
		p.chainMu.Unlock()
		close(p.initGate)
	})
}

// Writable reports whether Set is supported.
func (p *Property[T]) Writable() bool { return p.writable }

// Value returns the most recently applied value.
func (p *Property[T]) Value() T {
	p.valueMu.RLock()
	defer p.valueMu.RUnlock()
	return p.value
}

// Refresh re-reads the attribute. The future resolves to the applied
// value; a change is reported as external.
func (p *Property[T]) Refresh() *future.Future[T] {
	return p.enqueue("refresh", p.delegate.Read, true)
}

// Set writes value and reads it back. The cache and the future take
// the read-back value, which may differ from value when the remote side
// coerces it. A change is reported as internal.
func (p *Property[T]) Set(value T) *future.Future[T] {
	if !p.writable {
		return future.Rejected[T](remote.ErrIllegalValue)
	}
	return p.enqueue("set", func(ctx context.Context) (T, error) {
		if err := p.delegate.Write(ctx, value); err != nil {
			var zero T
			return zero, err
		}
		return p.delegate.Read(ctx)
	}, false)
}

// RefreshWait is Refresh followed by Wait.
func (p *Property[T]) RefreshWait(ctx context.Context) (T, error) {
	return p.Refresh().Wait(ctx)
}

// SetWait is Set followed by Wait.
func (p *Property[T]) SetWait(ctx context.Context, value T) (T, error) {
	return p.Set(value).Wait(ctx)
}

func (p *Property[T]) enqueue(operation string, run func(ctx context.Context) (T, error), external bool) *future.Future[T] {
	result := future.New[T]()

	p.chainMu.Lock()
	previous := p.tail
	slot := make(chan struct{})
	p.tail = slot
	p.chainMu.Unlock()

	go func() {
		defer close(slot)
		<-previous

		p.chainMu.Lock()
		abandoned := p.abandonErr
		p.chainMu.Unlock()
		if abandoned != nil {
			result.Reject(abandoned)
			return
		}

		value, err := p.runBounded(run, result)
		if err != nil {
			err = remote.Sanitize(err, p.runtime.Strict, p.logger)
			p.logger.Debug("operation failed", "operation", operation, "error", err)
			if remote.IsPermanent(err) && p.hooks.OnInvalid != nil {
				p.runtime.Loop.Call(context.Background(), func(ctx context.Context) error {
					p.hooks.OnInvalid(ctx, err)
					return nil
				})
			}
			result.Reject(err)
			return
		}

		applyErr := p.runtime.Loop.Call(context.Background(), func(ctx context.Context) error {
			p.apply(ctx, value, external)
			return nil
		})
		if applyErr != nil {
			result.Reject(remote.Failure(applyErr))
			return
		}
		result.Resolve(value)
	}()
	return result
}

// runBounded runs fn with a context that the runtime timeout cancels.
// When the timeout fires, result is rejected with a TimeoutError at
// once, but runBounded still waits for fn: the chain slot stays held
// and a late value is applied like any other.
func (p *Property[T]) runBounded(fn func(ctx context.Context) (T, error), result *future.Future[T]) (T, error) {
	if p.runtime.Timeout <= 0 {
		return fn(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	expired := &remote.TimeoutError{Duration: p.runtime.Timeout}
	var timedOut atomic.Bool
	timer := p.runtime.Clock.AfterFunc(p.runtime.Timeout, func() {
		timedOut.Store(true)
		cancel()
		if result.Reject(expired) {
			p.logger.Debug("operation timed out", "timeout", p.runtime.Timeout)
		}
	})
	value, err := fn(ctx)
	timer.Stop()
	if err != nil && timedOut.Load() && errors.Is(err, context.Canceled) {
		err = expired
	}
	return value, err
}

func (p *Property[T]) apply(ctx context.Context, value T, external bool) {
	p.valueMu.Lock()
	old := p.value
	p.value = value
	p.valueMu.Unlock()

	if p.equal(old, value) {
		return
	}
	if p.hooks.OnChange != nil {
		p.hooks.OnChange(ctx, Change[T]{Old: old, New: value, External: external})
	}
}
