// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/winsync/lib/future"
	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/property"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// errNotWindow marks an element that does not qualify as a tracked
// window. Such elements are skipped without logging above debug.
var errNotWindow = errors.New("element is not a standard window")

var windowNotifications = []remote.Notification{
	remote.NotifyElementDestroyed,
	remote.NotifyWindowMoved,
	remote.NotifyWindowResized,
	remote.NotifyTitleChanged,
	remote.NotifyWindowMiniaturized,
	remote.NotifyWindowDeminiaturized,
}

var windowAttributes = []remote.Attribute{
	remote.AttrRole,
	remote.AttrSubrole,
	remote.AttrPosition,
	remote.AttrSize,
	remote.AttrTitle,
	remote.AttrMinimized,
	remote.AttrFullscreen,
}

var (
	titleSpec      = property.String(remote.AttrTitle, false, false)
	minimizedSpec  = property.Bool(remote.AttrMinimized, true, true)
	fullscreenSpec = property.Bool(remote.AttrFullscreen, false, true)
	frameSpec      = property.Spec[geometry.Rect]{
		Attribute: "frame",
		Required:  true,
		Writable:  true,
		Equal:     property.Equals[geometry.Rect],
	}
)

// Window is a top-level window of a tracked application.
type Window struct {
	state       *State
	application *Application
	handle      remote.Handle
	valid       atomic.Bool

	frame      *property.Property[geometry.Rect]
	title      *property.Property[string]
	minimized  *property.Property[bool]
	fullscreen *property.Property[bool]
}

// Application returns the owning application. It stays set after the
// window is destroyed.
func (w *Window) Application() *Application { return w.application }

// Handle returns the environment handle of the window.
func (w *Window) Handle() remote.Handle { return w.handle }

// IsValid reports whether the window is still tracked. Once false it
// never becomes true again.
func (w *Window) IsValid() bool { return w.valid.Load() }

// Frame is the window rectangle in global coordinates.
func (w *Window) Frame() *property.Property[geometry.Rect] { return w.frame }

// Title is empty for untitled windows.
func (w *Window) Title() *property.Property[string] { return w.title }

func (w *Window) IsMinimized() *property.Property[bool] { return w.minimized }

func (w *Window) IsFullscreen() *property.Property[bool] { return w.fullscreen }

// SetPosition moves the window, keeping its current size.
func (w *Window) SetPosition(position geometry.Point) *future.Future[geometry.Rect] {
	return w.frame.Set(geometry.Rect{Origin: position, Size: w.frame.Value().Size})
}

// SetSize resizes the window, keeping its current position.
func (w *Window) SetSize(size geometry.Size) *future.Future[geometry.Rect] {
	return w.frame.Set(geometry.Rect{Origin: w.frame.Value().Origin, Size: size})
}

// Screen returns the screen showing most of the window, or nil.
func (w *Window) Screen() *Screen {
	return screenFor(w.state.Screens(), w.frame.Value())
}

func (w *Window) String() string {
	return fmt.Sprintf("window %v of %d", w.handle, w.application.pid)
}

// buildWindow constructs a window off the loop: subscribe first, then
// fetch, then initialize every cell. The window is returned invalid;
// the caller makes it visible on the loop.
func buildWindow(ctx context.Context, application *Application, handle remote.Handle) (*Window, error) {
	s := application.state
	for _, kind := range windowNotifications {
		if err := application.observer.Subscribe(ctx, handle, kind); err != nil {
			unsubscribeWindow(application, handle)
			return nil, fmt.Errorf("subscribing %s on %v: %w", kind, handle, err)
		}
	}

	fetched, err := s.env.ReadMany(ctx, handle, windowAttributes)
	if err != nil {
		unsubscribeWindow(application, handle)
		return nil, fmt.Errorf("reading window %v: %w", handle, err)
	}
	role, _ := fetched[remote.AttrRole].(string)
	subrole, _ := fetched[remote.AttrSubrole].(string)
	if role != remote.RoleWindow || subrole == remote.SubroleUnknown {
		unsubscribeWindow(application, handle)
		return nil, fmt.Errorf("%v has role %q subrole %q: %w", handle, role, subrole, errNotWindow)
	}

	window := &Window{state: s, application: application, handle: handle}

	frames := &frameDelegate{store: s.env, handle: handle}
	titles := property.NewAttributeDelegate(s.env, handle, titleSpec)
	minimizes := property.NewAttributeDelegate(s.env, handle, minimizedSpec)
	fullscreens := property.NewAttributeDelegate(s.env, handle, fullscreenSpec)

	runtime := s.runtimeFor(s.logger.With("window", handle, "pid", application.pid))
	window.frame = property.New[geometry.Rect](frameSpec, frames, property.Hooks[geometry.Rect]{
		OnChange: func(ctx context.Context, change property.Change[geometry.Rect]) {
			window.emit(ctx, WindowFrameChangedEvent{External: change.External, Window: window, Old: change.Old, New: change.New})
		},
		OnInvalid: window.invalidated,
	}, runtime)
	window.title = property.New[string](titleSpec, titles, property.Hooks[string]{
		OnChange: func(ctx context.Context, change property.Change[string]) {
			window.emit(ctx, WindowTitleChangedEvent{External: change.External, Window: window, Old: change.Old, New: change.New})
		},
		OnInvalid: window.invalidated,
	}, runtime)
	window.minimized = property.New[bool](minimizedSpec, minimizes, property.Hooks[bool]{
		OnChange: func(ctx context.Context, change property.Change[bool]) {
			window.emit(ctx, WindowMinimizedChangedEvent{External: change.External, Window: window, Old: change.Old, New: change.New})
		},
		OnInvalid: window.invalidated,
	}, runtime)
	window.fullscreen = property.New[bool](fullscreenSpec, fullscreens, property.Hooks[bool]{
		OnChange: func(ctx context.Context, change property.Change[bool]) {
			window.emit(ctx, WindowFullscreenChangedEvent{External: change.External, Window: window, Old: change.Old, New: change.New})
		},
		OnInvalid: window.invalidated,
	}, runtime)

	frame, frameErr := frames.Initial(fetched)
	title, titleErr := titles.Initial(fetched)
	minimized, minimizedErr := minimizes.Initial(fetched)
	fullscreen, fullscreenErr := fullscreens.Initial(fetched)
	if err := firstError(frameErr, titleErr, minimizedErr, fullscreenErr); err != nil {
		window.abandon(err)
		unsubscribeWindow(application, handle)
		return nil, fmt.Errorf("initializing window %v: %w", handle, err)
	}
	window.frame.Initialize(frame)
	window.title.Initialize(title)
	window.minimized.Initialize(minimized)
	window.fullscreen.Initialize(fullscreen)
	return window, nil
}

func (w *Window) abandon(err error) {
	w.frame.Abandon(err)
	w.title.Abandon(err)
	w.minimized.Abandon(err)
	w.fullscreen.Abandon(err)
}

// handleNotice runs on the loop.
func (w *Window) handleNotice(ctx context.Context, notice remote.Notice) {
	switch notice.Kind {
	case remote.NotifyWindowMoved:
		w.frame.Refresh()
	case remote.NotifyWindowResized:
		w.frame.Refresh()
		w.fullscreen.Refresh()
	case remote.NotifyTitleChanged:
		w.title.Refresh()
	case remote.NotifyWindowMiniaturized, remote.NotifyWindowDeminiaturized:
		w.minimized.Refresh()
	case remote.NotifyElementDestroyed:
		w.destroy(ctx)
	default:
		w.state.logger.Debug("unhandled window notice", "window", w.handle, "kind", notice.Kind)
	}
}

func (w *Window) invalidated(ctx context.Context, err error) {
	w.state.logger.Debug("window reported invalid", "window", w.handle, "error", err)
	w.destroy(ctx)
}

// destroy runs on the loop and is idempotent.
func (w *Window) destroy(ctx context.Context) {
	if !w.valid.CompareAndSwap(true, false) {
		return
	}
	w.state.removeWindow(w)
	go unsubscribeWindow(w.application, w.handle)
	w.state.emit(ctx, WindowDestroyedEvent{Window: w})
}

func (w *Window) emit(ctx context.Context, event Event) {
	if !w.IsValid() {
		return
	}
	w.state.emit(ctx, event)
}

// unsubscribeWindow drops the window's registrations. Failures are
// expected for elements that are already gone.
func unsubscribeWindow(application *Application, handle remote.Handle) {
	ctx := application.state.ctx
	for _, kind := range windowNotifications {
		if err := application.observer.Unsubscribe(ctx, handle, kind); err != nil {
			application.state.logger.Debug("unsubscribe failed", "window", handle, "kind", kind, "error", err)
			return
		}
	}
}

// frameDelegate presents position and size as one rectangle.
type frameDelegate struct {
	store  remote.AttributeStore
	handle remote.Handle
}

var frameAttributes = []remote.Attribute{remote.AttrPosition, remote.AttrSize}

func (d *frameDelegate) Read(ctx context.Context) (geometry.Rect, error) {
	fetched, err := d.store.ReadMany(ctx, d.handle, frameAttributes)
	if err != nil {
		return geometry.Rect{}, err
	}
	return d.Initial(fetched)
}

func (d *frameDelegate) Write(ctx context.Context, frame geometry.Rect) error {
	if err := d.store.Write(ctx, d.handle, remote.AttrPosition, frame.Origin); err != nil {
		return err
	}
	return d.store.Write(ctx, d.handle, remote.AttrSize, frame.Size)
}

// Initial builds the frame from a fetch. Both halves are required.
func (d *frameDelegate) Initial(fetched map[remote.Attribute]any) (geometry.Rect, error) {
	position, positionOK := fetched[remote.AttrPosition].(geometry.Point)
	size, sizeOK := fetched[remote.AttrSize].(geometry.Size)
	if !positionOK || !sizeOK {
		return geometry.Rect{}, remote.Invalid(remote.ErrMissingValue)
	}
	return geometry.Rect{Origin: position, Size: size}, nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
