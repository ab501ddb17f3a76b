// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simenv

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/winsync/lib/clock"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// noticeBuffer bounds the notice channel. A consumer that falls this
// far behind loses notices, as it would against a real helper.
const noticeBuffer = 4096

type element struct {
	handle     remote.Handle
	pid        remote.ProcessID
	attributes map[remote.Attribute]any
}

type subscription struct {
	handle remote.Handle
	kind   remote.Notification
}

// Environment is a simulated windowing environment. All methods are
// safe for concurrent use.
type Environment struct {
	logger *slog.Logger
	clock  clock.Clock

	mu           sync.Mutex
	nextHandle   remote.Handle
	nextPID      remote.ProcessID
	applications map[remote.ProcessID]remote.Handle
	elements     map[remote.Handle]*element
	screens      []remote.ScreenInfo
	frontmost    remote.ProcessID
	observers    map[*observer]struct{}
	coercions    map[remote.Attribute]func(handle remote.Handle, value any) any
	faults       []*Fault
	latency      time.Duration
	closed       bool

	observersCreated int

	notices chan remote.Notice
}

// New returns an empty environment.
func New(logger *slog.Logger, clk clock.Clock) *Environment {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Environment{
		logger:       logger.With("component", "simenv"),
		clock:        clk,
		nextHandle:   1,
		nextPID:      100,
		applications: make(map[remote.ProcessID]remote.Handle),
		elements:     make(map[remote.Handle]*element),
		observers:    make(map[*observer]struct{}),
		coercions:    make(map[remote.Attribute]func(remote.Handle, any) any),
		notices:      make(chan remote.Notice, noticeBuffer),
	}
}

var _ remote.Environment = (*Environment)(nil)

// Notices implements remote.Environment.
func (e *Environment) Notices() <-chan remote.Notice { return e.notices }

// Close closes the notice stream. The environment stays readable.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.notices)
	}
	return nil
}

func (e *Environment) delay() {
	e.mu.Lock()
	latency := e.latency
	e.mu.Unlock()
	if latency > 0 {
		e.clock.Sleep(latency)
	}
}

func (e *Environment) lookupLocked(handle remote.Handle) (*element, error) {
	found := e.elements[handle]
	if found == nil {
		return nil, remote.Invalid(fmt.Errorf("no element %v", handle))
	}
	return found, nil
}

// Read implements remote.AttributeStore.
func (e *Environment) Read(ctx context.Context, handle remote.Handle, name remote.Attribute) (any, error) {
	e.delay()
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpRead, handle, name); err != nil {
		return nil, err
	}
	found, err := e.lookupLocked(handle)
	if err != nil {
		return nil, err
	}
	value, ok := found.attributes[name]
	if !ok {
		return nil, remote.ErrMissingValue
	}
	return copyValue(value), nil
}

// ReadMany implements remote.AttributeStore.
func (e *Environment) ReadMany(ctx context.Context, handle remote.Handle, names []remote.Attribute) (map[remote.Attribute]any, error) {
	e.delay()
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpReadMany, handle, ""); err != nil {
		return nil, err
	}
	found, err := e.lookupLocked(handle)
	if err != nil {
		return nil, err
	}
	result := make(map[remote.Attribute]any, len(names))
	for _, name := range names {
		if e.faultLocked(OpRead, handle, name) != nil {
			continue
		}
		if value, ok := found.attributes[name]; ok {
			result[name] = copyValue(value)
		}
	}
	return result, nil
}

// writable lists the attributes the environment accepts writes for,
// keyed by the role of the element written.
var writable = map[string]map[remote.Attribute]bool{
	remote.RoleWindow: {
		remote.AttrPosition:   true,
		remote.AttrSize:       true,
		remote.AttrMinimized:  true,
		remote.AttrFullscreen: true,
		remote.AttrMain:       true,
	},
	remote.RoleApplication: {
		remote.AttrHidden:    true,
		remote.AttrFrontmost: true,
	},
}

// Write implements remote.AttributeStore. Writes go through coercion
// rules and produce the same notices as external changes.
func (e *Environment) Write(ctx context.Context, handle remote.Handle, name remote.Attribute, value any) error {
	e.delay()
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpWrite, handle, name); err != nil {
		return err
	}
	found, err := e.lookupLocked(handle)
	if err != nil {
		return err
	}
	role, _ := found.attributes[remote.AttrRole].(string)
	if !writable[role][name] {
		return fmt.Errorf("%s is not writable on %s %v: %w", name, role, handle, remote.ErrIllegalValue)
	}
	if !sameType(found.attributes[name], value, name) {
		return fmt.Errorf("writing %T to %s: %w", value, name, remote.ErrIllegalValue)
	}
	if coerce := e.coercions[name]; coerce != nil {
		value = coerce(handle, value)
	}

	switch name {
	case remote.AttrMain:
		if promote, _ := value.(bool); promote {
			e.setLocked(e.applications[found.pid], remote.AttrMainWindow, handle)
		}
		return nil
	case remote.AttrFrontmost:
		if promote, _ := value.(bool); promote {
			e.setFrontmostLocked(found.pid)
		}
		return nil
	}
	e.setLocked(handle, name, value)
	return nil
}

// sameType reports whether value may replace current. Attributes the
// element does not have yet accept the types their names imply.
func sameType(current, value any, name remote.Attribute) bool {
	if current == nil {
		switch name {
		case remote.AttrMain, remote.AttrFrontmost, remote.AttrHidden, remote.AttrMinimized, remote.AttrFullscreen:
			_, ok := value.(bool)
			return ok
		}
		return true
	}
	return fmt.Sprintf("%T", current) == fmt.Sprintf("%T", value)
}

// RunningApplications implements remote.Workspace.
func (e *Environment) RunningApplications(ctx context.Context) ([]remote.ProcessID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpRunningApplications, 0, ""); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(e.applications)), nil
}

// ApplicationHandle implements remote.Workspace.
func (e *Environment) ApplicationHandle(ctx context.Context, pid remote.ProcessID) (remote.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpApplicationHandle, e.applications[pid], ""); err != nil {
		return 0, err
	}
	handle, ok := e.applications[pid]
	if !ok {
		return 0, remote.Invalid(fmt.Errorf("no process %d", pid))
	}
	return handle, nil
}

// FrontmostApplication implements remote.Workspace.
func (e *Environment) FrontmostApplication(ctx context.Context) (remote.ProcessID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpFrontmostApplication, 0, ""); err != nil {
		return 0, err
	}
	return e.frontmost, nil
}

// Screens implements remote.Workspace.
func (e *Environment) Screens(ctx context.Context) ([]remote.ScreenInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpScreens, 0, ""); err != nil {
		return nil, err
	}
	return slices.Clone(e.screens), nil
}

// Observe implements remote.Workspace.
func (e *Environment) Observe(ctx context.Context, pid remote.ProcessID) (remote.Observer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.faultLocked(OpObserve, e.applications[pid], ""); err != nil {
		return nil, err
	}
	if _, ok := e.applications[pid]; !ok {
		return nil, remote.Invalid(fmt.Errorf("no process %d", pid))
	}
	created := &observer{
		environment:   e,
		pid:           pid,
		subscriptions: make(map[subscription]struct{}),
	}
	e.observers[created] = struct{}{}
	e.observersCreated++
	return created, nil
}

// observer is one observation session.
type observer struct {
	environment   *Environment
	pid           remote.ProcessID
	subscriptions map[subscription]struct{} // guarded by environment.mu
	closed        bool
}

func (o *observer) Subscribe(ctx context.Context, handle remote.Handle, kind remote.Notification) error {
	e := o.environment
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.closed {
		return remote.Failure(fmt.Errorf("observer for %d is closed", o.pid))
	}
	if err := e.faultLocked(OpSubscribe, handle, ""); err != nil {
		return err
	}
	if _, err := e.lookupLocked(handle); err != nil {
		return err
	}
	o.subscriptions[subscription{handle: handle, kind: kind}] = struct{}{}
	return nil
}

func (o *observer) Unsubscribe(ctx context.Context, handle remote.Handle, kind remote.Notification) error {
	e := o.environment
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(o.subscriptions, subscription{handle: handle, kind: kind})
	return nil
}

func (o *observer) Close() error {
	e := o.environment
	e.mu.Lock()
	defer e.mu.Unlock()
	o.closed = true
	o.subscriptions = make(map[subscription]struct{})
	delete(e.observers, o)
	return nil
}

// notifyLocked delivers an element notice to pid's observers if any of
// them subscribed kind on registered. The notice carries subject.
func (e *Environment) notifyLocked(pid remote.ProcessID, registered remote.Handle, kind remote.Notification, subject remote.Handle) {
	for candidate := range e.observers {
		if candidate.pid != pid {
			continue
		}
		if _, ok := candidate.subscriptions[subscription{handle: registered, kind: kind}]; ok {
			e.sendLocked(remote.Notice{PID: pid, Handle: subject, Kind: kind})
			return
		}
	}
}

func (e *Environment) sendLocked(notice remote.Notice) {
	if e.closed {
		return
	}
	select {
	case e.notices <- notice:
	default:
		e.logger.Warn("notice buffer full, dropping notice", "kind", notice.Kind, "handle", notice.Handle)
	}
}

func copyValue(value any) any {
	if handles, ok := value.([]remote.Handle); ok {
		return slices.Clone(handles)
	}
	return value
}
