// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"sync"
)

type handlerEntry struct {
	call func(Event)
}

// dispatcher fans events out to registered handlers. Registration is
// safe from any goroutine; dispatch happens on the owning loop.
type dispatcher struct {
	mu       sync.Mutex
	handlers map[EventKind][]*handlerEntry
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[EventKind][]*handlerEntry)}
}

func (d *dispatcher) add(kind EventKind, call func(Event)) func() {
	entry := &handlerEntry{call: call}
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], entry)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		entries := d.handlers[kind]
		for index, candidate := range entries {
			if candidate == entry {
				d.handlers[kind] = append(entries[:index:index], entries[index+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) dispatch(_ context.Context, event Event) {
	d.mu.Lock()
	entries := d.handlers[event.Kind()]
	d.mu.Unlock()
	for _, entry := range entries {
		entry.call(event)
	}
}

// On registers handler for every event of type E and returns a function
// that removes it. Handlers run on the owning loop in registration
// order and must not block; they may read the model freely.
//
//	state.On(model, func(event state.WindowCreatedEvent) {
//		logger.Info("window created", "title", event.Window.Title().Value())
//	})
func On[E Event](s *State, handler func(E)) (remove func()) {
	var zero E
	return s.dispatcher.add(zero.Kind(), func(event Event) {
		if typed, ok := event.(E); ok {
			handler(typed)
		}
	})
}

// OnAny registers handler for every event.
func OnAny(s *State, handler func(Event)) (remove func()) {
	removers := make([]func(), 0, len(allKinds))
	for _, kind := range allKinds {
		removers = append(removers, s.dispatcher.add(kind, handler))
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

var allKinds = []EventKind{
	KindApplicationLaunched,
	KindApplicationTerminated,
	KindFrontmostApplicationChanged,
	KindApplicationIsHiddenChanged,
	KindApplicationMainWindowChanged,
	KindApplicationFocusedChanged,
	KindWindowCreated,
	KindWindowDestroyed,
	KindWindowFrameChanged,
	KindWindowTitleChanged,
	KindWindowMinimizedChanged,
	KindWindowFullscreenChanged,
	KindScreenLayoutChanged,
	KindSpaceWillChange,
	KindSpaceDidChange,
}
