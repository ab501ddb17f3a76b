// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simenv

import (
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// ApplicationSpec describes an application to add.
type ApplicationSpec struct {
	// PID is assigned by the environment when zero.
	PID      remote.ProcessID
	BundleID string
	Hidden   bool
}

// WindowSpec describes a window to add.
type WindowSpec struct {
	Title      string
	Frame      geometry.Rect
	Minimized  bool
	Fullscreen bool

	// Role defaults to a window and Subrole to a standard window.
	Role    string
	Subrole string

	// Main and Focused make the window the application's main or
	// focused window.
	Main    bool
	Focused bool

	// Omit lists attributes the element should not have at all.
	Omit []remote.Attribute
}

// AddApplication adds a running application without announcing it.
// Use it to build the world before a State is created.
func (e *Environment) AddApplication(spec ApplicationSpec) (remote.ProcessID, remote.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addApplicationLocked(spec)
}

// Launch adds an application and sends ApplicationLaunched.
func (e *Environment) Launch(spec ApplicationSpec) (remote.ProcessID, remote.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pid, handle := e.addApplicationLocked(spec)
	e.sendLocked(remote.Notice{PID: pid, Kind: remote.NotifyApplicationLaunched})
	return pid, handle
}

func (e *Environment) addApplicationLocked(spec ApplicationSpec) (remote.ProcessID, remote.Handle) {
	pid := spec.PID
	if pid == 0 {
		for e.applications[e.nextPID] != 0 {
			e.nextPID++
		}
		pid = e.nextPID
		e.nextPID++
	}
	handle := e.allocateLocked()
	attributes := map[remote.Attribute]any{
		remote.AttrRole:          remote.RoleApplication,
		remote.AttrHidden:        spec.Hidden,
		remote.AttrWindows:       []remote.Handle{},
		remote.AttrMainWindow:    remote.Handle(0),
		remote.AttrFocusedWindow: remote.Handle(0),
	}
	if spec.BundleID != "" {
		attributes[remote.AttrBundleID] = spec.BundleID
	}
	e.elements[handle] = &element{handle: handle, pid: pid, attributes: attributes}
	e.applications[pid] = handle
	return pid, handle
}

func (e *Environment) allocateLocked() remote.Handle {
	handle := e.nextHandle
	e.nextHandle++
	return handle
}

// AddWindow adds a window without announcing it.
func (e *Environment) AddWindow(pid remote.ProcessID, spec WindowSpec) (remote.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addWindowLocked(pid, spec, false)
}

// CreateWindow adds a window and sends WindowCreated to observers
// subscribed on the application.
func (e *Environment) CreateWindow(pid remote.ProcessID, spec WindowSpec) (remote.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addWindowLocked(pid, spec, true)
}

func (e *Environment) addWindowLocked(pid remote.ProcessID, spec WindowSpec, announce bool) (remote.Handle, error) {
	applicationHandle, ok := e.applications[pid]
	if !ok {
		return 0, fmt.Errorf("no process %d", pid)
	}
	role := spec.Role
	if role == "" {
		role = remote.RoleWindow
	}
	subrole := spec.Subrole
	if subrole == "" {
		subrole = remote.SubroleStandard
	}
	handle := e.allocateLocked()
	attributes := map[remote.Attribute]any{
		remote.AttrRole:       role,
		remote.AttrSubrole:    subrole,
		remote.AttrTitle:      spec.Title,
		remote.AttrPosition:   spec.Frame.Origin,
		remote.AttrSize:       spec.Frame.Size,
		remote.AttrMinimized:  spec.Minimized,
		remote.AttrFullscreen: spec.Fullscreen,
	}
	for _, omitted := range spec.Omit {
		delete(attributes, omitted)
	}
	e.elements[handle] = &element{handle: handle, pid: pid, attributes: attributes}

	application := e.elements[applicationHandle]
	windows, _ := application.attributes[remote.AttrWindows].([]remote.Handle)
	application.attributes[remote.AttrWindows] = append(slices.Clone(windows), handle)

	if announce {
		e.notifyLocked(pid, applicationHandle, remote.NotifyWindowCreated, handle)
	}
	if spec.Main {
		e.setApplicationAttributeLocked(application, remote.AttrMainWindow, handle, announce)
	}
	if spec.Focused {
		e.setApplicationAttributeLocked(application, remote.AttrFocusedWindow, handle, announce)
	}
	return handle, nil
}

func (e *Environment) setApplicationAttributeLocked(application *element, name remote.Attribute, value any, announce bool) {
	if announce {
		e.setLocked(application.handle, name, value)
		return
	}
	application.attributes[name] = value
}

// DestroyWindow removes a window. Observers subscribed to its
// destruction are told, and the application's window references that
// named it are cleared.
func (e *Environment) DestroyWindow(handle remote.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	found, err := e.lookupLocked(handle)
	if err != nil {
		return err
	}
	e.notifyLocked(found.pid, handle, remote.NotifyElementDestroyed, handle)
	delete(e.elements, handle)
	for candidate := range e.observers {
		for key := range candidate.subscriptions {
			if key.handle == handle {
				delete(candidate.subscriptions, key)
			}
		}
	}

	application := e.elements[e.applications[found.pid]]
	if application == nil {
		return nil
	}
	windows, _ := application.attributes[remote.AttrWindows].([]remote.Handle)
	application.attributes[remote.AttrWindows] = slices.DeleteFunc(slices.Clone(windows), func(candidate remote.Handle) bool {
		return candidate == handle
	})
	for _, name := range []remote.Attribute{remote.AttrMainWindow, remote.AttrFocusedWindow} {
		if application.attributes[name] == handle {
			e.setLocked(application.handle, name, remote.Handle(0))
		}
	}
	return nil
}

// Terminate removes an application and its windows and sends
// ApplicationTerminated.
func (e *Environment) Terminate(pid remote.ProcessID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.applications[pid]; !ok {
		return fmt.Errorf("no process %d", pid)
	}
	for handle, candidate := range e.elements {
		if candidate.pid == pid {
			delete(e.elements, handle)
		}
	}
	delete(e.applications, pid)
	e.sendLocked(remote.Notice{PID: pid, Kind: remote.NotifyApplicationTerminated})
	if e.frontmost == pid {
		e.setFrontmostLocked(0)
	}
	return nil
}

// SetAttribute changes an attribute as the outside world would,
// notifying subscribed observers. A nil value removes the attribute.
func (e *Environment) SetAttribute(handle remote.Handle, name remote.Attribute, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.lookupLocked(handle); err != nil {
		return err
	}
	if value == nil {
		delete(e.elements[handle].attributes, name)
		return nil
	}
	e.setLocked(handle, name, value)
	return nil
}

// Attribute returns the current value of an attribute.
func (e *Environment) Attribute(handle remote.Handle, name remote.Attribute) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := e.elements[handle]
	if found == nil {
		return nil, false
	}
	value, ok := found.attributes[name]
	return copyValue(value), ok
}

// setLocked stores value and sends the notice the change implies.
// Unchanged values send nothing.
func (e *Environment) setLocked(handle remote.Handle, name remote.Attribute, value any) {
	found := e.elements[handle]
	if found == nil {
		return
	}
	previous, had := found.attributes[name]
	found.attributes[name] = value
	if had && equalValues(previous, value) {
		return
	}

	pid := found.pid
	switch name {
	case remote.AttrPosition:
		e.notifyLocked(pid, handle, remote.NotifyWindowMoved, handle)
	case remote.AttrSize, remote.AttrFullscreen:
		e.notifyLocked(pid, handle, remote.NotifyWindowResized, handle)
	case remote.AttrTitle:
		e.notifyLocked(pid, handle, remote.NotifyTitleChanged, handle)
	case remote.AttrMinimized:
		if minimized, _ := value.(bool); minimized {
			e.notifyLocked(pid, handle, remote.NotifyWindowMiniaturized, handle)
		} else {
			e.notifyLocked(pid, handle, remote.NotifyWindowDeminiaturized, handle)
		}
	case remote.AttrMainWindow, remote.AttrFocusedWindow:
		kind := remote.NotifyMainWindowChanged
		if name == remote.AttrFocusedWindow {
			kind = remote.NotifyFocusedWindowChanged
		}
		subject, _ := value.(remote.Handle)
		if subject == 0 {
			subject = handle
		}
		e.notifyLocked(pid, handle, kind, subject)
	case remote.AttrHidden:
		if hidden, _ := value.(bool); hidden {
			e.notifyLocked(pid, handle, remote.NotifyApplicationHidden, handle)
		} else {
			e.notifyLocked(pid, handle, remote.NotifyApplicationShown, handle)
		}
	}
}

func equalValues(a, b any) bool {
	handlesA, okA := a.([]remote.Handle)
	handlesB, okB := b.([]remote.Handle)
	if okA || okB {
		return okA && okB && slices.Equal(handlesA, handlesB)
	}
	return a == b
}

// SetFrontmost makes pid frontmost (zero for none) and sends
// FrontmostApplicationChanged.
func (e *Environment) SetFrontmost(pid remote.ProcessID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.applications[pid]; !ok && pid != 0 {
		return fmt.Errorf("no process %d", pid)
	}
	e.setFrontmostLocked(pid)
	return nil
}

// Frontmost returns the frontmost process.
func (e *Environment) Frontmost() remote.ProcessID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frontmost
}

func (e *Environment) setFrontmostLocked(pid remote.ProcessID) {
	if e.frontmost == pid {
		return
	}
	e.frontmost = pid
	e.sendLocked(remote.Notice{PID: pid, Kind: remote.NotifyFrontmostApplicationChanged})
}

// SetScreens replaces the display layout and sends ScreenLayoutChanged.
// When a display that stays connected shows a different space, the
// layout notice is bracketed by SpaceWillChange and SpaceChanged.
func (e *Environment) SetScreens(screens []remote.ScreenInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switched := spaceSwitched(e.screens, screens)
	if switched {
		e.sendLocked(remote.Notice{Kind: remote.NotifySpaceWillChange})
	}
	e.screens = slices.Clone(screens)
	e.sendLocked(remote.Notice{Kind: remote.NotifyScreenLayoutChanged})
	if switched {
		e.sendLocked(remote.Notice{Kind: remote.NotifySpaceChanged})
	}
}

func spaceSwitched(before, after []remote.ScreenInfo) bool {
	spaces := make(map[uint32]int, len(before))
	for _, screen := range before {
		spaces[screen.ID] = screen.SpaceID
	}
	for _, screen := range after {
		if space, ok := spaces[screen.ID]; ok && space != screen.SpaceID {
			return true
		}
	}
	return false
}

// InitScreens sets the display layout without announcing it.
func (e *Environment) InitScreens(screens []remote.ScreenInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.screens = slices.Clone(screens)
}

// SetSpace switches the space shown on screen. It sends SpaceWillChange
// before the switch and SpaceChanged after it.
func (e *Environment) SetSpace(screenID uint32, spaceID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for index := range e.screens {
		if e.screens[index].ID == screenID {
			e.sendLocked(remote.Notice{Kind: remote.NotifySpaceWillChange})
			e.screens[index].SpaceID = spaceID
			e.sendLocked(remote.Notice{Kind: remote.NotifySpaceChanged})
			return nil
		}
	}
	return fmt.Errorf("no screen %d", screenID)
}

// Emit sends notice as-is, bypassing subscriptions. Tests use it to
// deliver notices out of order or for elements that do not exist.
func (e *Environment) Emit(notice remote.Notice) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendLocked(notice)
}

// Coerce installs a rule applied to every write of name. The rule
// returns the value actually stored.
func (e *Environment) Coerce(name remote.Attribute, rule func(handle remote.Handle, value any) any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rule == nil {
		delete(e.coercions, name)
		return
	}
	e.coercions[name] = rule
}

// SetLatency delays every attribute read and write by latency, measured
// on the environment's clock.
func (e *Environment) SetLatency(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = latency
}

// ObserverCount returns the number of open observers.
func (e *Environment) ObserverCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observers)
}

// ObserversCreated returns how many observers were ever created.
func (e *Environment) ObserversCreated() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observersCreated
}

// Subscribed reports whether any open observer has subscribed kind on
// handle.
func (e *Environment) Subscribed(handle remote.Handle, kind remote.Notification) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for candidate := range e.observers {
		if _, ok := candidate.subscriptions[subscription{handle: handle, kind: kind}]; ok {
			return true
		}
	}
	return false
}

// Windows returns pid's window handles in creation order.
func (e *Environment) Windows(pid remote.ProcessID) []remote.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	application := e.elements[e.applications[pid]]
	if application == nil {
		return nil
	}
	windows, _ := application.attributes[remote.AttrWindows].([]remote.Handle)
	return slices.Clone(windows)
}
