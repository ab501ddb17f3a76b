// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"github.com/bureau-foundation/winsync/lib/geometry"
)

// EventKind names an event type.
type EventKind string

const (
	KindApplicationLaunched          EventKind = "application_launched"
	KindApplicationTerminated        EventKind = "application_terminated"
	KindFrontmostApplicationChanged  EventKind = "frontmost_application_changed"
	KindApplicationIsHiddenChanged   EventKind = "application_is_hidden_changed"
	KindApplicationMainWindowChanged EventKind = "application_main_window_changed"
	KindApplicationFocusedChanged    EventKind = "application_focused_window_changed"
	KindWindowCreated                EventKind = "window_created"
	KindWindowDestroyed              EventKind = "window_destroyed"
	KindWindowFrameChanged           EventKind = "window_frame_changed"
	KindWindowTitleChanged           EventKind = "window_title_changed"
	KindWindowMinimizedChanged       EventKind = "window_minimized_changed"
	KindWindowFullscreenChanged      EventKind = "window_fullscreen_changed"
	KindScreenLayoutChanged          EventKind = "screen_layout_changed"
	KindSpaceWillChange              EventKind = "space_will_change"
	KindSpaceDidChange               EventKind = "space_did_change"
)

// Event is implemented by every event type in this package. The set is
// closed.
type Event interface {
	Kind() EventKind

	// IsExternal is false only for property changes caused by this
	// process's own writes.
	IsExternal() bool

	detail() map[string]any
}

// ApplicationLaunchedEvent fires once a newly launched application is
// fully constructed. Applications found by initial discovery do not
// produce it.
type ApplicationLaunchedEvent struct {
	Application *Application
}

func (ApplicationLaunchedEvent) Kind() EventKind  { return KindApplicationLaunched }
func (ApplicationLaunchedEvent) IsExternal() bool { return true }
func (e ApplicationLaunchedEvent) detail() map[string]any {
	return applicationDetail(e.Application)
}

// ApplicationTerminatedEvent fires when a tracked application goes
// away. Its windows are invalidated without individual events.
type ApplicationTerminatedEvent struct {
	Application *Application
}

func (ApplicationTerminatedEvent) Kind() EventKind  { return KindApplicationTerminated }
func (ApplicationTerminatedEvent) IsExternal() bool { return true }
func (e ApplicationTerminatedEvent) detail() map[string]any {
	return applicationDetail(e.Application)
}

// FrontmostApplicationChangedEvent reports a new frontmost application.
// Either side may be nil when the frontmost process is not tracked.
type FrontmostApplicationChangedEvent struct {
	External bool
	Old, New *Application
}

func (FrontmostApplicationChangedEvent) Kind() EventKind    { return KindFrontmostApplicationChanged }
func (e FrontmostApplicationChangedEvent) IsExternal() bool { return e.External }
func (e FrontmostApplicationChangedEvent) detail() map[string]any {
	return map[string]any{"old": applicationPID(e.Old), "new": applicationPID(e.New)}
}

type ApplicationIsHiddenChangedEvent struct {
	External    bool
	Application *Application
	Old, New    bool
}

func (ApplicationIsHiddenChangedEvent) Kind() EventKind    { return KindApplicationIsHiddenChanged }
func (e ApplicationIsHiddenChangedEvent) IsExternal() bool { return e.External }
func (e ApplicationIsHiddenChangedEvent) detail() map[string]any {
	return withChange(applicationDetail(e.Application), e.Old, e.New)
}

type ApplicationMainWindowChangedEvent struct {
	External    bool
	Application *Application
	Old, New    *Window
}

func (ApplicationMainWindowChangedEvent) Kind() EventKind    { return KindApplicationMainWindowChanged }
func (e ApplicationMainWindowChangedEvent) IsExternal() bool { return e.External }
func (e ApplicationMainWindowChangedEvent) detail() map[string]any {
	return withChange(applicationDetail(e.Application), windowHandle(e.Old), windowHandle(e.New))
}

type ApplicationFocusedWindowChangedEvent struct {
	External    bool
	Application *Application
	Old, New    *Window
}

func (ApplicationFocusedWindowChangedEvent) Kind() EventKind    { return KindApplicationFocusedChanged }
func (e ApplicationFocusedWindowChangedEvent) IsExternal() bool { return e.External }
func (e ApplicationFocusedWindowChangedEvent) detail() map[string]any {
	return withChange(applicationDetail(e.Application), windowHandle(e.Old), windowHandle(e.New))
}

// WindowCreatedEvent fires once a new window is fully constructed.
// Every property of Window already holds its current value.
type WindowCreatedEvent struct {
	Window *Window
}

func (WindowCreatedEvent) Kind() EventKind          { return KindWindowCreated }
func (WindowCreatedEvent) IsExternal() bool         { return true }
func (e WindowCreatedEvent) detail() map[string]any { return windowDetail(e.Window) }

// WindowDestroyedEvent is the last event for a window. Window.IsValid
// is already false when it fires.
type WindowDestroyedEvent struct {
	Window *Window
}

func (WindowDestroyedEvent) Kind() EventKind          { return KindWindowDestroyed }
func (WindowDestroyedEvent) IsExternal() bool         { return true }
func (e WindowDestroyedEvent) detail() map[string]any { return windowDetail(e.Window) }

type WindowFrameChangedEvent struct {
	External bool
	Window   *Window
	Old, New geometry.Rect
}

func (WindowFrameChangedEvent) Kind() EventKind    { return KindWindowFrameChanged }
func (e WindowFrameChangedEvent) IsExternal() bool { return e.External }
func (e WindowFrameChangedEvent) detail() map[string]any {
	return withChange(windowDetail(e.Window), e.Old.String(), e.New.String())
}

type WindowTitleChangedEvent struct {
	External bool
	Window   *Window
	Old, New string
}

func (WindowTitleChangedEvent) Kind() EventKind    { return KindWindowTitleChanged }
func (e WindowTitleChangedEvent) IsExternal() bool { return e.External }
func (e WindowTitleChangedEvent) detail() map[string]any {
	return withChange(windowDetail(e.Window), e.Old, e.New)
}

type WindowMinimizedChangedEvent struct {
	External bool
	Window   *Window
	Old, New bool
}

func (WindowMinimizedChangedEvent) Kind() EventKind    { return KindWindowMinimizedChanged }
func (e WindowMinimizedChangedEvent) IsExternal() bool { return e.External }
func (e WindowMinimizedChangedEvent) detail() map[string]any {
	return withChange(windowDetail(e.Window), e.Old, e.New)
}

type WindowFullscreenChangedEvent struct {
	External bool
	Window   *Window
	Old, New bool
}

func (WindowFullscreenChangedEvent) Kind() EventKind    { return KindWindowFullscreenChanged }
func (e WindowFullscreenChangedEvent) IsExternal() bool { return e.External }
func (e WindowFullscreenChangedEvent) detail() map[string]any {
	return withChange(windowDetail(e.Window), e.Old, e.New)
}

// ScreenLayoutChangedEvent reports a display configuration change.
// Changed holds the new Screen values for displays whose frame or
// description differ. Space switches are reported separately.
type ScreenLayoutChangedEvent struct {
	Added, Removed, Changed []*Screen
}

func (ScreenLayoutChangedEvent) Kind() EventKind  { return KindScreenLayoutChanged }
func (ScreenLayoutChangedEvent) IsExternal() bool { return true }
func (e ScreenLayoutChangedEvent) detail() map[string]any {
	return map[string]any{
		"added":   screenIDs(e.Added),
		"removed": screenIDs(e.Removed),
		"changed": screenIDs(e.Changed),
	}
}

// SpaceWillChangeEvent is emitted when the environment announces a
// space switch, before it is applied. SpaceIDs are the spaces being
// left, indexed like State.Screens.
type SpaceWillChangeEvent struct {
	SpaceIDs []int
}

func (SpaceWillChangeEvent) Kind() EventKind          { return KindSpaceWillChange }
func (SpaceWillChangeEvent) IsExternal() bool         { return true }
func (e SpaceWillChangeEvent) detail() map[string]any { return map[string]any{"space_ids": e.SpaceIDs} }

// SpaceDidChangeEvent reports that the visible space changed on at
// least one screen. SpaceIDs is indexed like State.Screens.
type SpaceDidChangeEvent struct {
	SpaceIDs []int
}

func (SpaceDidChangeEvent) Kind() EventKind          { return KindSpaceDidChange }
func (SpaceDidChangeEvent) IsExternal() bool         { return true }
func (e SpaceDidChangeEvent) detail() map[string]any { return map[string]any{"space_ids": e.SpaceIDs} }

func applicationPID(application *Application) int64 {
	if application == nil {
		return 0
	}
	return int64(application.pid)
}

func applicationDetail(application *Application) map[string]any {
	return map[string]any{"pid": applicationPID(application)}
}

func windowHandle(window *Window) uint64 {
	if window == nil {
		return 0
	}
	return uint64(window.handle)
}

func windowDetail(window *Window) map[string]any {
	return map[string]any{
		"pid":    applicationPID(window.application),
		"window": windowHandle(window),
	}
}

func withChange(detail map[string]any, before, after any) map[string]any {
	detail["old"] = before
	detail["new"] = after
	return detail
}

func screenIDs(screens []*Screen) []uint32 {
	ids := make([]uint32, 0, len(screens))
	for _, screen := range screens {
		ids = append(ids, screen.id)
	}
	return ids
}
