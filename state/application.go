// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/bureau-foundation/winsync/lib/future"
	"github.com/bureau-foundation/winsync/lib/property"
	"github.com/bureau-foundation/winsync/lib/remote"
)

var applicationNotifications = []remote.Notification{
	remote.NotifyWindowCreated,
	remote.NotifyMainWindowChanged,
	remote.NotifyFocusedWindowChanged,
	remote.NotifyApplicationHidden,
	remote.NotifyApplicationShown,
}

var applicationAttributes = []remote.Attribute{
	remote.AttrRole,
	remote.AttrBundleID,
	remote.AttrWindows,
	remote.AttrMainWindow,
	remote.AttrFocusedWindow,
	remote.AttrHidden,
}

var (
	hiddenSpec        = property.Bool(remote.AttrHidden, true, true)
	windowListSpec    = property.HandleList(remote.AttrWindows)
	mainHandleSpec    = property.Handle(remote.AttrMainWindow, false)
	focusedHandleSpec = property.Handle(remote.AttrFocusedWindow, false)
	mainWindowSpec    = property.Spec[*Window]{
		Attribute: remote.AttrMainWindow,
		Writable:  true,
		Equal:     property.Equals[*Window],
	}
	focusedWindowSpec = property.Spec[*Window]{
		Attribute: remote.AttrFocusedWindow,
		Equal:     property.Equals[*Window],
	}
)

// Application is a running application and its windows.
type Application struct {
	state    *State
	pid      remote.ProcessID
	handle   remote.Handle
	bundleID string
	observer remote.Observer
	valid    atomic.Bool

	mainWindow    *property.Property[*Window]
	focusedWindow *property.Property[*Window]
	hidden        *property.Property[bool]

	// windowHandles indexes the application's windows in the State's
	// window arena. Guarded by state.mu; written only on the loop.
	windowHandles []remote.Handle

	// pendingWindows is touched only on the loop.
	pendingWindows pendingTable[remote.Handle]
}

// ProcessID returns the application's process.
func (a *Application) ProcessID() remote.ProcessID { return a.pid }

// Handle returns the environment handle of the application element.
func (a *Application) Handle() remote.Handle { return a.handle }

// BundleIdentifier is empty when the environment does not report one.
func (a *Application) BundleIdentifier() string { return a.bundleID }

// IsValid reports whether the application is still running and
// tracked.
func (a *Application) IsValid() bool { return a.valid.Load() }

// MainWindow is the application's main window, or nil. Setting it
// makes the given window (which must belong to this application) main.
func (a *Application) MainWindow() *property.Property[*Window] { return a.mainWindow }

// FocusedWindow is the window with keyboard focus, or nil. Read-only.
func (a *Application) FocusedWindow() *property.Property[*Window] { return a.focusedWindow }

func (a *Application) IsHidden() *property.Property[bool] { return a.hidden }

// KnownWindows returns the application's tracked windows in discovery
// order.
func (a *Application) KnownWindows() []*Window {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	windows := make([]*Window, 0, len(a.windowHandles))
	for _, handle := range a.windowHandles {
		if window := a.state.windows[handle]; window != nil {
			windows = append(windows, window)
		}
	}
	return windows
}

func (a *Application) String() string {
	if a.bundleID != "" {
		return fmt.Sprintf("%s[%d]", a.bundleID, a.pid)
	}
	return fmt.Sprintf("pid %d", a.pid)
}

// buildApplication constructs an application and its initial windows
// off the loop. On success the observer is live and every cell is
// initialized; on failure the observer has been closed.
func buildApplication(ctx context.Context, s *State, pid remote.ProcessID) (*Application, []*Window, error) {
	handle, err := s.env.ApplicationHandle(ctx, pid)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving application %d: %w", pid, err)
	}
	observer, err := s.env.Observe(ctx, pid)
	if err != nil {
		return nil, nil, fmt.Errorf("observing application %d: %w", pid, err)
	}
	application := &Application{
		state:          s,
		pid:            pid,
		handle:         handle,
		observer:       observer,
		pendingWindows: newPendingTable[remote.Handle](),
	}
	fail := func(err error) (*Application, []*Window, error) {
		if closeErr := observer.Close(); closeErr != nil {
			s.logger.Debug("closing observer after failed construction", "pid", pid, "error", closeErr)
		}
		return nil, nil, err
	}

	for _, kind := range applicationNotifications {
		if err := observer.Subscribe(ctx, handle, kind); err != nil {
			return fail(fmt.Errorf("subscribing %s on application %d: %w", kind, pid, err))
		}
	}

	fetched, err := s.env.ReadMany(ctx, handle, applicationAttributes)
	if err != nil {
		return fail(fmt.Errorf("reading application %d: %w", pid, err))
	}
	if role, ok := fetched[remote.AttrRole].(string); ok && role != remote.RoleApplication {
		return fail(remote.Invalid(fmt.Errorf("element %v of process %d has role %q", handle, pid, role)))
	}
	application.bundleID, _ = fetched[remote.AttrBundleID].(string)

	windowHandles, err := property.NewAttributeDelegate(s.env, handle, windowListSpec).Initial(fetched)
	if err != nil {
		return fail(fmt.Errorf("reading windows of %d: %w", pid, err))
	}
	gathered, err := future.Gather(windowHandles, func(windowHandle remote.Handle) *future.Future[*Window] {
		return future.Go(func() (*Window, error) {
			return buildWindow(ctx, application, windowHandle)
		})
	}).Wait(ctx)
	if err != nil {
		return fail(err)
	}
	windows := make([]*Window, 0, len(gathered.Values))
	for _, outcome := range gathered.Values {
		windows = append(windows, outcome.Value)
	}
	for _, failure := range gathered.Failures {
		if errors.Is(failure.Err, errNotWindow) {
			s.logger.Debug("skipping element", "pid", pid, "element", failure.Key, "reason", failure.Err)
			continue
		}
		s.logger.Warn("window construction failed", "pid", pid, "window", failure.Key, "error", failure.Err)
	}

	application.createCells()

	hidden, hiddenErr := property.NewAttributeDelegate(s.env, handle, hiddenSpec).Initial(fetched)
	mainHandle, mainErr := property.NewAttributeDelegate(s.env, handle, mainHandleSpec).Initial(fetched)
	focusedHandle, focusedErr := property.NewAttributeDelegate(s.env, handle, focusedHandleSpec).Initial(fetched)
	if err := firstError(hiddenErr, mainErr, focusedErr); err != nil {
		application.abandon(err)
		for _, window := range windows {
			window.abandon(err)
		}
		return fail(fmt.Errorf("initializing application %d: %w", pid, err))
	}
	byHandle := func(target remote.Handle) *Window {
		for _, window := range windows {
			if window.handle == target {
				return window
			}
		}
		return nil
	}
	application.hidden.Initialize(hidden)
	application.mainWindow.Initialize(byHandle(mainHandle))
	application.focusedWindow.Initialize(byHandle(focusedHandle))
	return application, windows, nil
}

func (a *Application) createCells() {
	s := a.state
	runtime := s.runtimeFor(s.logger.With("pid", a.pid))
	lookup := property.LookupFunc[*Window](a.lookupWindow)

	mainRefs := property.NewRefDelegate[*Window](
		property.NewAttributeDelegate(s.env, a.handle, mainHandleSpec), lookup, s.loop, runtime.Logger)
	mainWindows := property.WithWriter[*Window](mainRefs, a.makeMain)
	focusedRefs := property.NewRefDelegate[*Window](
		property.NewAttributeDelegate(s.env, a.handle, focusedHandleSpec), lookup, s.loop, runtime.Logger)
	hiddens := property.NewAttributeDelegate(s.env, a.handle, hiddenSpec)

	a.mainWindow = property.New[*Window](mainWindowSpec, mainWindows, property.Hooks[*Window]{
		OnChange: func(ctx context.Context, change property.Change[*Window]) {
			a.emit(ctx, ApplicationMainWindowChangedEvent{External: change.External, Application: a, Old: change.Old, New: change.New})
		},
		OnInvalid: a.invalidated,
	}, runtime)
	a.focusedWindow = property.New[*Window](focusedWindowSpec, focusedRefs, property.Hooks[*Window]{
		OnChange: func(ctx context.Context, change property.Change[*Window]) {
			a.emit(ctx, ApplicationFocusedWindowChangedEvent{External: change.External, Application: a, Old: change.Old, New: change.New})
		},
		OnInvalid: a.invalidated,
	}, runtime)
	a.hidden = property.New[bool](hiddenSpec, hiddens, property.Hooks[bool]{
		OnChange: func(ctx context.Context, change property.Change[bool]) {
			a.emit(ctx, ApplicationIsHiddenChangedEvent{External: change.External, Application: a, Old: change.Old, New: change.New})
		},
		OnInvalid: a.invalidated,
	}, runtime)
}

func (a *Application) abandon(err error) {
	a.mainWindow.Abandon(err)
	a.focusedWindow.Abandon(err)
	a.hidden.Abandon(err)
}

// lookupWindow runs on the loop.
func (a *Application) lookupWindow(_ context.Context, handle remote.Handle) (*Window, bool) {
	window := a.state.windows[handle]
	if window == nil || window.application != a {
		return nil, false
	}
	return window, true
}

// makeMain is the write path of the main window cell: the environment
// only lets a window be promoted through its own attribute.
func (a *Application) makeMain(ctx context.Context, window *Window) error {
	if window == nil || window.application != a || !window.IsValid() {
		return remote.ErrIllegalValue
	}
	return a.state.env.Write(ctx, window.handle, remote.AttrMain, true)
}

// handleNotice runs on the loop.
func (a *Application) handleNotice(ctx context.Context, notice remote.Notice) {
	switch notice.Kind {
	case remote.NotifyWindowCreated:
		a.windowCreated(ctx, notice.Handle)
	case remote.NotifyMainWindowChanged:
		a.windowReference(ctx, notice.Handle, a.mainWindow)
	case remote.NotifyFocusedWindowChanged:
		a.windowReference(ctx, notice.Handle, a.focusedWindow)
	case remote.NotifyApplicationHidden, remote.NotifyApplicationShown:
		a.hidden.Refresh()
	default:
		a.routeToWindow(ctx, notice)
	}
}

func (a *Application) routeToWindow(ctx context.Context, notice remote.Notice) {
	if window, ok := a.lookupWindow(ctx, notice.Handle); ok {
		window.handleNotice(ctx, notice)
		return
	}
	if notice.Kind == remote.NotifyElementDestroyed {
		if dropped := a.pendingWindows.abandon(notice.Handle); dropped >= 0 {
			a.state.logger.Debug("window destroyed during construction", "pid", a.pid, "window", notice.Handle, "dropped", dropped)
		}
		return
	}
	if a.pendingWindows.hold(notice.Handle, func(ctx context.Context) { a.routeToWindow(ctx, notice) }) {
		return
	}
	a.state.logger.Debug("notice for untracked element", "pid", a.pid, "element", notice.Handle, "kind", notice.Kind)
}

func (a *Application) windowCreated(ctx context.Context, handle remote.Handle) {
	if _, known := a.lookupWindow(ctx, handle); known || a.pendingWindows.has(handle) {
		return
	}
	a.startWindow(handle)
}

// startWindow begins construction of handle. Runs on the loop.
func (a *Application) startWindow(handle remote.Handle) {
	s := a.state
	a.pendingWindows.begin(handle)
	go func() {
		window, err := bounded(s, func(ctx context.Context) (*Window, error) {
			return buildWindow(ctx, a, handle)
		}, func(late *Window) { go unsubscribeWindow(a, late.handle) })
		s.loop.Post(func(ctx context.Context) {
			a.finishWindow(ctx, handle, window, err)
		})
	}()
}

// finishWindow makes a constructed window visible. Runs on the loop.
func (a *Application) finishWindow(ctx context.Context, handle remote.Handle, window *Window, err error) {
	s := a.state
	if err != nil {
		a.pendingWindows.abandon(handle)
		if errors.Is(err, errNotWindow) {
			s.logger.Debug("skipping element", "pid", a.pid, "element", handle, "reason", err)
		} else {
			s.logger.Warn("window construction failed", "pid", a.pid, "window", handle, "error", err)
		}
		return
	}
	if !a.IsValid() || !a.pendingWindows.has(handle) {
		s.logger.Debug("discarding abandoned window", "pid", a.pid, "window", handle)
		go unsubscribeWindow(a, handle)
		return
	}

	window.valid.Store(true)
	s.mu.Lock()
	s.windows[handle] = window
	a.windowHandles = append(a.windowHandles, handle)
	s.mu.Unlock()

	s.emit(ctx, WindowCreatedEvent{Window: window})
	a.pendingWindows.complete(ctx, handle)
}

// windowReference handles a notice naming the new value of a window
// reference cell. Runs on the loop.
func (a *Application) windowReference(ctx context.Context, handle remote.Handle, cell *property.Property[*Window]) {
	if _, known := a.lookupWindow(ctx, handle); known || handle == 0 || handle == a.handle {
		cell.Refresh()
		return
	}
	if a.pendingWindows.hold(handle, func(context.Context) { cell.Refresh() }) {
		return
	}

	// Unknown handle: ask the environment what it is. It may be a
	// window whose creation notice never arrived.
	s := a.state
	go func() {
		role, err := s.env.Read(s.ctx, handle, remote.AttrRole)
		s.loop.Post(func(ctx context.Context) {
			a.resolveReference(ctx, handle, cell, role, err)
		})
	}()
}

func (a *Application) resolveReference(ctx context.Context, handle remote.Handle, cell *property.Property[*Window], role any, err error) {
	s := a.state
	if !a.IsValid() {
		return
	}
	if err != nil {
		s.logger.Debug("role check failed", "pid", a.pid, "element", handle, "error", err)
		return
	}
	switch role {
	case remote.RoleApplication:
		a.pendingWindows.abandon(handle)
		cell.Refresh()
	case remote.RoleWindow:
		if _, known := a.lookupWindow(ctx, handle); known {
			cell.Refresh()
			return
		}
		if !a.pendingWindows.has(handle) {
			a.startWindow(handle)
		}
		a.pendingWindows.hold(handle, func(context.Context) { cell.Refresh() })
	default:
		s.logger.Debug("reference to element of unexpected role", "pid", a.pid, "element", handle, "role", role)
	}
}

func (a *Application) invalidated(ctx context.Context, err error) {
	a.state.logger.Debug("application reported invalid", "pid", a.pid, "error", err)
	a.state.terminate(ctx, a)
}

func (a *Application) emit(ctx context.Context, event Event) {
	if !a.IsValid() {
		return
	}
	a.state.emit(ctx, event)
}

func (a *Application) removeWindowHandle(handle remote.Handle) {
	a.windowHandles = slices.DeleteFunc(a.windowHandles, func(candidate remote.Handle) bool {
		return candidate == handle
	})
}
