// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/winsync/lib/geometry"
)

// Handle identifies one element (application root, window, or other
// object) in the environment. Handles are stable for the element's
// lifetime and never reused while the environment runs. The zero
// Handle means "no element".
type Handle uint64

func (h Handle) String() string { return fmt.Sprintf("h%d", uint64(h)) }

// ProcessID identifies a running application.
type ProcessID int32

// Attribute names a readable (and possibly writable) value on an
// element.
type Attribute string

// Attributes read and written by the engine.
const (
	AttrRole          Attribute = "role"
	AttrSubrole       Attribute = "subrole"
	AttrTitle         Attribute = "title"
	AttrPosition      Attribute = "position"
	AttrSize          Attribute = "size"
	AttrMinimized     Attribute = "minimized"
	AttrFullscreen    Attribute = "fullscreen"
	AttrMain          Attribute = "main"
	AttrFocused       Attribute = "focused"
	AttrWindows       Attribute = "windows"
	AttrMainWindow    Attribute = "main_window"
	AttrFocusedWindow Attribute = "focused_window"
	AttrHidden        Attribute = "hidden"
	AttrFrontmost     Attribute = "frontmost"
	AttrBundleID      Attribute = "bundle_id"
)

// Role values reported by AttrRole.
const (
	RoleApplication = "application"
	RoleWindow      = "window"
)

// Subrole values reported by AttrSubrole.
const (
	SubroleStandard = "standard"
	SubroleDialog   = "dialog"
	SubroleUnknown  = "unknown"
)

// Notification is the kind of a push notice.
type Notification string

// Element-level notifications, subscribed per handle through an
// Observer.
const (
	NotifyWindowCreated        Notification = "window_created"
	NotifyMainWindowChanged    Notification = "main_window_changed"
	NotifyFocusedWindowChanged Notification = "focused_window_changed"
	NotifyApplicationHidden    Notification = "application_hidden"
	NotifyApplicationShown     Notification = "application_shown"
	NotifyElementDestroyed     Notification = "element_destroyed"
	NotifyWindowMoved          Notification = "window_moved"
	NotifyWindowResized        Notification = "window_resized"
	NotifyTitleChanged         Notification = "title_changed"
	NotifyWindowMiniaturized   Notification = "window_miniaturized"
	NotifyWindowDeminiaturized Notification = "window_deminiaturized"
)

// Workspace-level notifications. They are delivered without a
// subscription and carry a zero Handle.
const (
	NotifyApplicationLaunched         Notification = "application_launched"
	NotifyApplicationTerminated       Notification = "application_terminated"
	NotifyFrontmostApplicationChanged Notification = "frontmost_application_changed"
	NotifyScreenLayoutChanged         Notification = "screen_layout_changed"
	NotifySpaceWillChange             Notification = "space_will_change"
	NotifySpaceChanged                Notification = "space_changed"
)

// IsWorkspace reports whether n is a workspace-level notification.
func (n Notification) IsWorkspace() bool {
	switch n {
	case NotifyApplicationLaunched, NotifyApplicationTerminated,
		NotifyFrontmostApplicationChanged, NotifyScreenLayoutChanged,
		NotifySpaceWillChange, NotifySpaceChanged:
		return true
	}
	return false
}

// Notice is one push notification from the environment.
type Notice struct {
	// PID is the application the notice concerns. Screen and space
	// notices leave it zero.
	PID ProcessID `json:"pid,omitempty"`

	// Handle is the element the notification was registered on or that
	// it refers to. Zero for workspace notices.
	Handle Handle `json:"handle,omitempty"`

	Kind Notification `json:"kind"`

	// Info carries optional detail supplied by the environment. The
	// engine never depends on it.
	Info map[string]string `json:"info,omitempty"`
}

// ScreenInfo describes one physical display.
type ScreenInfo struct {
	ID          uint32        `json:"id"`
	Frame       geometry.Rect `json:"frame"`
	SpaceID     int           `json:"space_id"`
	Description string        `json:"description,omitempty"`
}

// AttributeStore performs point reads and writes. Implementations may
// block for unbounded time; the engine never calls them from its
// owning loop.
type AttributeStore interface {
	// Read returns the value of name on handle, or ErrMissingValue.
	Read(ctx context.Context, handle Handle, name Attribute) (any, error)

	// Write sets name on handle. The environment may coerce the value;
	// callers read it back to learn what was applied.
	Write(ctx context.Context, handle Handle, name Attribute, value any) error

	// ReadMany returns the subset of names present on handle. Missing
	// or unsupported names are omitted rather than failing the call.
	ReadMany(ctx context.Context, handle Handle, names []Attribute) (map[Attribute]any, error)
}

// Observer is one observation session, created per application.
type Observer interface {
	// Subscribe registers interest in kind on handle. Subscribing an
	// already-subscribed pair is not an error.
	Subscribe(ctx context.Context, handle Handle, kind Notification) error

	// Unsubscribe removes a registration. Removing an absent one is not
	// an error.
	Unsubscribe(ctx context.Context, handle Handle, kind Notification) error

	// Close ends the session and drops its registrations.
	Close() error
}

// Workspace enumerates top-level entities.
type Workspace interface {
	RunningApplications(ctx context.Context) ([]ProcessID, error)
	ApplicationHandle(ctx context.Context, pid ProcessID) (Handle, error)
	FrontmostApplication(ctx context.Context) (ProcessID, error)
	Screens(ctx context.Context) ([]ScreenInfo, error)
	Observe(ctx context.Context, pid ProcessID) (Observer, error)
}

// Environment is everything the engine needs from the outside world.
type Environment interface {
	AttributeStore
	Workspace

	// Notices returns the push notification stream. It has exactly one
	// consumer and is closed when the environment shuts down.
	Notices() <-chan Notice
}
