// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simenv

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/remote"
	"github.com/bureau-foundation/winsync/lib/testutil"
)

func TestReadAndReadMany(t *testing.T) {
	env := New(nil, nil)
	pid, _ := env.AddApplication(ApplicationSpec{BundleID: "org.example.a"})
	window, err := env.AddWindow(pid, WindowSpec{Title: "doc", Frame: geometry.NewRect(1, 2, 3, 4), Omit: []remote.Attribute{remote.AttrFullscreen}})
	if err != nil {
		t.Fatalf("AddWindow: %v", err)
	}
	ctx := context.Background()

	title, err := env.Read(ctx, window, remote.AttrTitle)
	if err != nil || title != "doc" {
		t.Fatalf("Read title = (%v, %v)", title, err)
	}
	if _, err := env.Read(ctx, window, remote.AttrFullscreen); !errors.Is(err, remote.ErrMissingValue) {
		t.Fatalf("Read omitted = %v, want ErrMissingValue", err)
	}
	if _, err := env.Read(ctx, 9999, remote.AttrTitle); !remote.IsPermanent(err) {
		t.Fatalf("Read unknown element = %v, want InvalidObject", err)
	}

	fetched, err := env.ReadMany(ctx, window, []remote.Attribute{remote.AttrPosition, remote.AttrFullscreen, remote.AttrSubrole})
	if err != nil {
		t.Fatalf("ReadMany: %v", err)
	}
	if len(fetched) != 2 || fetched[remote.AttrPosition] != (geometry.Point{X: 1, Y: 2}) {
		t.Errorf("ReadMany = %v", fetched)
	}
}

func TestWriteCoercionAndNotices(t *testing.T) {
	env := New(nil, nil)
	pid, _ := env.AddApplication(ApplicationSpec{})
	window, _ := env.AddWindow(pid, WindowSpec{Frame: geometry.NewRect(5, 5, 100, 100)})
	ctx := context.Background()

	observer, err := env.Observe(ctx, pid)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := observer.Subscribe(ctx, window, remote.NotifyWindowMoved); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	env.Coerce(remote.AttrPosition, func(remote.Handle, any) any { return geometry.Point{X: 50, Y: 75} })

	if err := env.Write(ctx, window, remote.AttrPosition, geometry.Point{X: 100, Y: 100}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	value, _ := env.Attribute(window, remote.AttrPosition)
	if value != (geometry.Point{X: 50, Y: 75}) {
		t.Errorf("stored %v, want coerced (50,75)", value)
	}
	notice := testutil.RequireReceive(t, env.Notices(), time.Second, "moved notice")
	if notice.Kind != remote.NotifyWindowMoved || notice.Handle != window || notice.PID != pid {
		t.Errorf("notice = %+v", notice)
	}

	// Unchanged values and unsubscribed kinds produce nothing.
	if err := env.Write(ctx, window, remote.AttrPosition, geometry.Point{X: 1, Y: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := env.SetAttribute(window, remote.AttrTitle, "renamed"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	testutil.RequireNoReceive(t, env.Notices(), 20*time.Millisecond, "no notice expected")
}

func TestWriteRejections(t *testing.T) {
	env := New(nil, nil)
	pid, _ := env.AddApplication(ApplicationSpec{})
	window, _ := env.AddWindow(pid, WindowSpec{})
	ctx := context.Background()

	if err := env.Write(ctx, window, remote.AttrTitle, "x"); !errors.Is(err, remote.ErrIllegalValue) {
		t.Errorf("write to title = %v, want ErrIllegalValue", err)
	}
	if err := env.Write(ctx, window, remote.AttrMinimized, "yes"); !errors.Is(err, remote.ErrIllegalValue) {
		t.Errorf("write of wrong type = %v, want ErrIllegalValue", err)
	}
}

func TestMainAndFrontmostWrites(t *testing.T) {
	env := New(nil, nil)
	pid, application := env.AddApplication(ApplicationSpec{})
	first, _ := env.AddWindow(pid, WindowSpec{Main: true})
	second, _ := env.AddWindow(pid, WindowSpec{})
	ctx := context.Background()

	if main, _ := env.Attribute(application, remote.AttrMainWindow); main != first {
		t.Fatalf("main window = %v, want %v", main, first)
	}
	if err := env.Write(ctx, second, remote.AttrMain, true); err != nil {
		t.Fatalf("Write main: %v", err)
	}
	if main, _ := env.Attribute(application, remote.AttrMainWindow); main != second {
		t.Fatalf("main window after write = %v, want %v", main, second)
	}

	if err := env.Write(ctx, application, remote.AttrFrontmost, true); err != nil {
		t.Fatalf("Write frontmost: %v", err)
	}
	if env.Frontmost() != pid {
		t.Errorf("frontmost = %d, want %d", env.Frontmost(), pid)
	}
	notice := testutil.RequireReceive(t, env.Notices(), time.Second, "frontmost notice")
	if notice.Kind != remote.NotifyFrontmostApplicationChanged || notice.PID != pid {
		t.Errorf("notice = %+v", notice)
	}
}

func TestDestroyWindowClearsReferences(t *testing.T) {
	env := New(nil, nil)
	pid, application := env.AddApplication(ApplicationSpec{})
	window, _ := env.AddWindow(pid, WindowSpec{Main: true, Focused: true})
	ctx := context.Background()
	observer, _ := env.Observe(ctx, pid)
	observer.Subscribe(ctx, window, remote.NotifyElementDestroyed)
	observer.Subscribe(ctx, application, remote.NotifyMainWindowChanged)

	if err := env.DestroyWindow(window); err != nil {
		t.Fatalf("DestroyWindow: %v", err)
	}
	destroyed := testutil.RequireReceive(t, env.Notices(), time.Second, "destroyed")
	if destroyed.Kind != remote.NotifyElementDestroyed || destroyed.Handle != window {
		t.Errorf("first notice = %+v", destroyed)
	}
	mainChanged := testutil.RequireReceive(t, env.Notices(), time.Second, "main changed")
	if mainChanged.Kind != remote.NotifyMainWindowChanged || mainChanged.Handle != application {
		t.Errorf("second notice = %+v", mainChanged)
	}
	if windows := env.Windows(pid); len(windows) != 0 {
		t.Errorf("windows after destroy = %v", windows)
	}
	if env.Subscribed(window, remote.NotifyElementDestroyed) {
		t.Error("subscription survived element destruction")
	}
}

func TestFaultInjection(t *testing.T) {
	env := New(nil, nil)
	pid, _ := env.AddApplication(ApplicationSpec{})
	window, _ := env.AddWindow(pid, WindowSpec{Title: "t"})
	ctx := context.Background()

	transient := remote.Failure(errors.New("helper busy"))
	env.InjectFault(Fault{Operation: OpRead, Handle: window, Attribute: remote.AttrTitle, Err: transient, Times: 1})

	if _, err := env.Read(ctx, window, remote.AttrTitle); !errors.Is(err, transient) {
		t.Fatalf("first Read = %v, want injected fault", err)
	}
	if title, err := env.Read(ctx, window, remote.AttrTitle); err != nil || title != "t" {
		t.Fatalf("second Read = (%v, %v), want fault exhausted", title, err)
	}

	env.InjectFault(Fault{Operation: OpRead, Attribute: remote.AttrTitle, Err: transient})
	fetched, err := env.ReadMany(ctx, window, []remote.Attribute{remote.AttrTitle, remote.AttrRole})
	if err != nil {
		t.Fatalf("ReadMany: %v", err)
	}
	if _, ok := fetched[remote.AttrTitle]; ok {
		t.Error("ReadMany returned a faulted attribute")
	}
	env.ClearFaults()
	if _, err := env.Read(ctx, window, remote.AttrTitle); err != nil {
		t.Fatalf("Read after ClearFaults: %v", err)
	}
}

func TestObserverLifecycle(t *testing.T) {
	env := New(nil, nil)
	pid, application := env.AddApplication(ApplicationSpec{})
	ctx := context.Background()

	observer, err := env.Observe(ctx, pid)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := observer.Subscribe(ctx, application, remote.NotifyWindowCreated); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := observer.Subscribe(ctx, application, remote.NotifyWindowCreated); err != nil {
		t.Fatalf("repeated Subscribe: %v", err)
	}
	if env.ObserverCount() != 1 || env.ObserversCreated() != 1 {
		t.Fatalf("observer counts = %d live, %d created", env.ObserverCount(), env.ObserversCreated())
	}

	window, _ := env.CreateWindow(pid, WindowSpec{})
	created := testutil.RequireReceive(t, env.Notices(), time.Second, "created")
	if created.Kind != remote.NotifyWindowCreated || created.Handle != window {
		t.Errorf("notice = %+v", created)
	}

	observer.Close()
	if env.ObserverCount() != 0 {
		t.Errorf("ObserverCount after Close = %d", env.ObserverCount())
	}
	if err := observer.Subscribe(ctx, application, remote.NotifyWindowCreated); !remote.IsTransient(err) {
		t.Errorf("Subscribe after Close = %v, want FailureError", err)
	}
	if _, err := env.Observe(ctx, 12345); !remote.IsPermanent(err) {
		t.Errorf("Observe unknown pid = %v, want InvalidObject", err)
	}
}

func TestWorkspaceNotices(t *testing.T) {
	env := New(nil, nil)
	pid, _ := env.Launch(ApplicationSpec{})
	launched := testutil.RequireReceive(t, env.Notices(), time.Second, "launched")
	if launched.Kind != remote.NotifyApplicationLaunched || launched.PID != pid || launched.Handle != 0 {
		t.Errorf("launch notice = %+v", launched)
	}

	env.SetScreens([]remote.ScreenInfo{{ID: 1, Frame: geometry.NewRect(0, 0, 100, 100), SpaceID: 1}})
	testutil.RequireReceive(t, env.Notices(), time.Second, "layout")
	if err := env.SetSpace(1, 2); err != nil {
		t.Fatalf("SetSpace: %v", err)
	}
	leaving := testutil.RequireReceive(t, env.Notices(), time.Second, "space will change")
	if leaving.Kind != remote.NotifySpaceWillChange || !leaving.Kind.IsWorkspace() {
		t.Errorf("first space notice = %+v", leaving)
	}
	space := testutil.RequireReceive(t, env.Notices(), time.Second, "space")
	if space.Kind != remote.NotifySpaceChanged {
		t.Errorf("space notice = %+v", space)
	}

	env.SetScreens([]remote.ScreenInfo{{ID: 1, Frame: geometry.NewRect(0, 0, 100, 100), SpaceID: 3}})
	var kinds []remote.Notification
	for range 3 {
		kinds = append(kinds, testutil.RequireReceive(t, env.Notices(), time.Second, "space switch by layout").Kind)
	}
	want := []remote.Notification{remote.NotifySpaceWillChange, remote.NotifyScreenLayoutChanged, remote.NotifySpaceChanged}
	if !slices.Equal(kinds, want) {
		t.Errorf("layout with a space switch sent %v, want %v", kinds, want)
	}

	if err := env.Terminate(pid); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	terminated := testutil.RequireReceive(t, env.Notices(), time.Second, "terminated")
	if terminated.Kind != remote.NotifyApplicationTerminated || terminated.PID != pid {
		t.Errorf("terminate notice = %+v", terminated)
	}
	running, _ := env.RunningApplications(context.Background())
	if len(running) != 0 {
		t.Errorf("running after terminate = %v", running)
	}
}
