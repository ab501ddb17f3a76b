// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/winsync/lib/future"
	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/remote"
	"github.com/bureau-foundation/winsync/lib/simenv"
	"github.com/bureau-foundation/winsync/lib/testutil"
)

const eventTimeout = 5 * time.Second

func testOptions() Options {
	return Options{
		OperationTimeout: 5 * time.Second,
		DiscoveryRetries: 3,
		RetryDelay:       time.Millisecond,
		Strict:           true,
	}
}

func startState(t *testing.T, env *simenv.Environment, options Options) *State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, env, options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// collect returns a channel receiving every event of type E.
func collect[E Event](t *testing.T, s *State) <-chan E {
	t.Helper()
	events := make(chan E, 100)
	On(s, func(event E) { events <- event })
	return events
}

// eventually polls condition until it holds or the test times out.
func eventually(t *testing.T, condition func() bool, description string) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func wait[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	return f.Wait(ctx)
}

func TestDiscoveryConstructsEachApplicationOnce(t *testing.T) {
	env := simenv.New(nil, nil)
	editor, _ := env.AddApplication(simenv.ApplicationSpec{BundleID: "org.example.editor"})
	terminal, _ := env.AddApplication(simenv.ApplicationSpec{BundleID: "org.example.terminal"})
	env.AddWindow(editor, simenv.WindowSpec{Title: "a", Main: true})
	env.AddWindow(editor, simenv.WindowSpec{Title: "b"})
	env.AddWindow(terminal, simenv.WindowSpec{Title: "c", Focused: true})

	s := startState(t, env, testOptions())

	applications := s.RunningApplications()
	if len(applications) != 2 {
		t.Fatalf("RunningApplications = %d, want 2", len(applications))
	}
	if env.ObserversCreated() != 2 || env.ObserverCount() != 2 {
		t.Errorf("observers: %d created, %d open; want one per application", env.ObserversCreated(), env.ObserverCount())
	}
	if applications[0].ProcessID() != editor || applications[0].BundleIdentifier() != "org.example.editor" {
		t.Errorf("first application = %v", applications[0])
	}
	if windows := applications[0].KnownWindows(); len(windows) != 2 {
		t.Errorf("editor windows = %d, want 2", len(windows))
	}
	if len(s.KnownWindows()) != 3 {
		t.Errorf("KnownWindows = %d, want 3", len(s.KnownWindows()))
	}

	mainWindow := applications[0].MainWindow().Value()
	if mainWindow == nil || mainWindow.Title().Value() != "a" {
		t.Errorf("editor main window = %v", mainWindow)
	}
	if focused := applications[1].FocusedWindow().Value(); focused == nil || focused.Title().Value() != "c" {
		t.Errorf("terminal focused window = %v", focused)
	}
	for _, window := range s.KnownWindows() {
		if !window.IsValid() {
			t.Errorf("%v not valid after discovery", window)
		}
	}
}

func TestDiscoveryRetriesTransientFailures(t *testing.T) {
	env := simenv.New(nil, nil)
	flaky, flakyHandle := env.AddApplication(simenv.ApplicationSpec{})
	env.InjectFault(simenv.Fault{
		Operation: simenv.OpObserve,
		Handle:    flakyHandle,
		Err:       remote.Failure(errors.New("helper not ready")),
		Times:     2,
	})

	s := startState(t, env, testOptions())
	if s.Application(flaky) == nil {
		t.Fatal("application with transient failures was not constructed")
	}
}

func TestDiscoveryOmitsBrokenApplications(t *testing.T) {
	env := simenv.New(nil, nil)
	healthy, _ := env.AddApplication(simenv.ApplicationSpec{})
	broken, brokenHandle := env.AddApplication(simenv.ApplicationSpec{})
	stuck, stuckHandle := env.AddApplication(simenv.ApplicationSpec{})
	env.InjectFault(simenv.Fault{Operation: simenv.OpObserve, Handle: brokenHandle, Err: remote.Invalid(errors.New("gone"))})
	env.InjectFault(simenv.Fault{Operation: simenv.OpObserve, Handle: stuckHandle, Err: &remote.TimeoutError{Duration: time.Second}})

	s := startState(t, env, testOptions())
	if s.Application(healthy) == nil {
		t.Error("healthy application missing")
	}
	if s.Application(broken) != nil {
		t.Error("application failing permanently was constructed")
	}
	if s.Application(stuck) != nil {
		t.Error("application failing every retry was constructed")
	}
}

func TestDiscoveryFailsWithoutEnumeration(t *testing.T) {
	env := simenv.New(nil, nil)
	env.InjectFault(simenv.Fault{Operation: simenv.OpRunningApplications, Err: remote.Failure(errors.New("no helper"))})
	if _, err := New(context.Background(), env, testOptions()); err == nil {
		t.Fatal("New succeeded without application enumeration")
	}
}

func TestLaunchAndTerminate(t *testing.T) {
	env := simenv.New(nil, nil)
	s := startState(t, env, testOptions())
	launched := collect[ApplicationLaunchedEvent](t, s)
	terminated := collect[ApplicationTerminatedEvent](t, s)

	pid, _ := env.Launch(simenv.ApplicationSpec{BundleID: "org.example.new"})
	event := testutil.RequireReceive(t, launched, eventTimeout, "launch")
	if event.Application.ProcessID() != pid || !event.Application.IsValid() {
		t.Fatalf("launched event = %+v", event)
	}
	if s.Application(pid) != event.Application {
		t.Error("launched application not in the model")
	}

	window, _ := env.CreateWindow(pid, simenv.WindowSpec{Title: "first"})
	eventually(t, func() bool { return s.Window(window) != nil }, "window creation")
	tracked := s.Window(window)

	if err := env.Terminate(pid); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	gone := testutil.RequireReceive(t, terminated, eventTimeout, "terminate")
	if gone.Application != event.Application || gone.Application.IsValid() {
		t.Fatalf("terminated event = %+v", gone)
	}
	if s.Application(pid) != nil || s.Window(window) != nil {
		t.Error("terminated application still in the model")
	}
	if tracked.IsValid() {
		t.Error("window of terminated application still valid")
	}
	eventually(t, func() bool { return env.ObserverCount() == 0 }, "observer close")
}

func TestTerminateDuringConstruction(t *testing.T) {
	env := simenv.New(nil, nil)
	s := startState(t, env, testOptions())
	launched := collect[ApplicationLaunchedEvent](t, s)
	terminated := collect[ApplicationTerminatedEvent](t, s)

	// Attribute reads stall, so the terminate notice is routed while the
	// application is still pending.
	env.SetLatency(50 * time.Millisecond)
	pid, _ := env.Launch(simenv.ApplicationSpec{})
	env.Emit(remote.Notice{PID: pid, Kind: remote.NotifyApplicationTerminated})

	eventually(t, func() bool { return env.ObserversCreated() == 1 && env.ObserverCount() == 0 }, "abandoned observer close")
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	testutil.RequireNoReceive(t, launched, 100*time.Millisecond, "launch of abandoned application")
	testutil.RequireNoReceive(t, terminated, 10*time.Millisecond, "terminate of never-visible application")
	if s.Application(pid) != nil {
		t.Error("abandoned application visible")
	}
}

func TestDuplicateLaunchIgnored(t *testing.T) {
	env := simenv.New(nil, nil)
	pid, _ := env.AddApplication(simenv.ApplicationSpec{})
	s := startState(t, env, testOptions())
	launched := collect[ApplicationLaunchedEvent](t, s)

	env.Emit(remote.Notice{PID: pid, Kind: remote.NotifyApplicationLaunched})
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	testutil.RequireNoReceive(t, launched, 100*time.Millisecond, "launch of known application")
	if env.ObserversCreated() != 1 {
		t.Errorf("ObserversCreated = %d, want 1", env.ObserversCreated())
	}
}

func TestFrontmostApplication(t *testing.T) {
	env := simenv.New(nil, nil)
	first, _ := env.AddApplication(simenv.ApplicationSpec{})
	second, _ := env.AddApplication(simenv.ApplicationSpec{})
	s := startState(t, env, testOptions())
	changes := collect[FrontmostApplicationChangedEvent](t, s)

	if s.FrontmostApplication().Value() != nil {
		t.Fatalf("frontmost = %v, want nil", s.FrontmostApplication().Value())
	}

	env.SetFrontmost(first)
	change := testutil.RequireReceive(t, changes, eventTimeout, "external activation")
	if !change.External || change.Old != nil || change.New.ProcessID() != first {
		t.Errorf("change = %+v", change)
	}

	activated, err := wait(t, s.SetFrontmostApplication(s.Application(second)))
	if err != nil || activated.ProcessID() != second {
		t.Fatalf("SetFrontmostApplication = (%v, %v)", activated, err)
	}
	change = testutil.RequireReceive(t, changes, eventTimeout, "local activation")
	if change.External || change.New.ProcessID() != second {
		t.Errorf("change = %+v", change)
	}
	if env.Frontmost() != second {
		t.Errorf("environment frontmost = %d", env.Frontmost())
	}
	testutil.RequireNoReceive(t, changes, 100*time.Millisecond, "echo of local activation")

	if _, err := wait(t, s.SetFrontmostApplication(nil)); !errors.Is(err, remote.ErrIllegalValue) {
		t.Errorf("SetFrontmostApplication(nil) = %v, want ErrIllegalValue", err)
	}
}

func TestScreensAndSpaces(t *testing.T) {
	env := simenv.New(nil, nil)
	builtin := remote.ScreenInfo{ID: 1, Frame: geometry.NewRect(0, 0, 1920, 1080), SpaceID: 1, Description: "built-in"}
	external := remote.ScreenInfo{ID: 2, Frame: geometry.NewRect(1920, 0, 1280, 1024), SpaceID: 3}
	env.InitScreens([]remote.ScreenInfo{builtin})
	pid, _ := env.AddApplication(simenv.ApplicationSpec{})
	window, _ := env.AddWindow(pid, simenv.WindowSpec{Frame: geometry.NewRect(1900, 10, 300, 300)})

	s := startState(t, env, testOptions())
	layouts := collect[ScreenLayoutChangedEvent](t, s)
	departures := collect[SpaceWillChangeEvent](t, s)
	spaces := collect[SpaceDidChangeEvent](t, s)

	if s.MainScreen() == nil || s.MainScreen().ID() != 1 {
		t.Fatalf("MainScreen = %v", s.MainScreen())
	}
	if screen := s.Window(window).Screen(); screen == nil || screen.ID() != 1 {
		t.Errorf("window screen = %v, want built-in", screen)
	}

	env.SetScreens([]remote.ScreenInfo{builtin, external})
	layout := testutil.RequireReceive(t, layouts, eventTimeout, "layout change")
	if len(layout.Added) != 1 || layout.Added[0].ID() != 2 || len(layout.Removed) != 0 || len(layout.Changed) != 0 {
		t.Errorf("layout = %+v", layout)
	}
	if screen := s.Window(window).Screen(); screen == nil || screen.ID() != 2 {
		t.Errorf("window screen = %v, want external (largest overlap)", screen)
	}

	if err := env.SetSpace(2, 7); err != nil {
		t.Fatalf("SetSpace: %v", err)
	}
	leaving := testutil.RequireReceive(t, departures, eventTimeout, "space will change")
	if !slices.Equal(leaving.SpaceIDs, []int{1, 3}) || !leaving.IsExternal() {
		t.Errorf("spaces being left = %v", leaving.SpaceIDs)
	}
	space := testutil.RequireReceive(t, spaces, eventTimeout, "space change")
	if !slices.Equal(space.SpaceIDs, []int{1, 7}) {
		t.Errorf("space ids = %v", space.SpaceIDs)
	}
	if s.Screens()[1].SpaceID() != 7 {
		t.Errorf("screen space = %d", s.Screens()[1].SpaceID())
	}
	testutil.RequireNoReceive(t, layouts, 50*time.Millisecond, "layout change from a space switch")
}

// gatedScreens holds every Screens call made after arm until the test
// releases it, so overlapping fetches can finish in any order.
type gatedScreens struct {
	*simenv.Environment
	armed atomic.Bool
	calls chan chan struct{}
}

func (g *gatedScreens) Screens(ctx context.Context) ([]remote.ScreenInfo, error) {
	if g.armed.Load() {
		release := make(chan struct{})
		g.calls <- release
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Environment.Screens(ctx)
}

func TestSpaceChangeSurvivesNewerLayoutFetch(t *testing.T) {
	env := simenv.New(nil, nil)
	builtin := remote.ScreenInfo{ID: 1, Frame: geometry.NewRect(0, 0, 1920, 1080), SpaceID: 1}
	external := remote.ScreenInfo{ID: 2, Frame: geometry.NewRect(1920, 0, 1280, 1024), SpaceID: 3}
	env.InitScreens([]remote.ScreenInfo{builtin})
	gated := &gatedScreens{Environment: env, calls: make(chan chan struct{}, 4)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, gated, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	departures := collect[SpaceWillChangeEvent](t, s)
	spaces := collect[SpaceDidChangeEvent](t, s)
	layouts := collect[ScreenLayoutChangedEvent](t, s)
	gated.armed.Store(true)

	if err := env.SetSpace(1, 5); err != nil {
		t.Fatalf("SetSpace: %v", err)
	}
	leaving := testutil.RequireReceive(t, departures, eventTimeout, "space will change")
	if !slices.Equal(leaving.SpaceIDs, []int{1}) {
		t.Errorf("spaces being left = %v", leaving.SpaceIDs)
	}
	spaceFetch := testutil.RequireReceive(t, gated.calls, eventTimeout, "fetch for the space switch")

	builtin.SpaceID = 5
	env.SetScreens([]remote.ScreenInfo{builtin, external})
	layoutFetch := testutil.RequireReceive(t, gated.calls, eventTimeout, "fetch for the layout change")

	close(layoutFetch)
	layout := testutil.RequireReceive(t, layouts, eventTimeout, "layout change")
	if len(layout.Added) != 1 || layout.Added[0].ID() != 2 || len(layout.Changed) != 0 {
		t.Errorf("layout = %+v", layout)
	}
	space := testutil.RequireReceive(t, spaces, eventTimeout, "space change carried by the newer fetch")
	if !slices.Equal(space.SpaceIDs, []int{5, 3}) {
		t.Errorf("space ids = %v", space.SpaceIDs)
	}

	close(spaceFetch)
	testutil.RequireNoReceive(t, spaces, 50*time.Millisecond, "second space change from the stale fetch")
	testutil.RequireNoReceive(t, layouts, 50*time.Millisecond, "layout change from the stale fetch")
	if screens := s.Screens(); len(screens) != 2 || screens[0].SpaceID() != 5 {
		t.Errorf("screens after stale fetch = %v", screens)
	}
}

type memoryRecorder struct {
	mu      sync.Mutex
	notices []remote.Notification
	events  []string
}

func (r *memoryRecorder) RecordNotice(at time.Time, notice remote.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice.Kind)
	return nil
}

func (r *memoryRecorder) RecordEvent(at time.Time, kind string, external bool, detail map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	return nil
}

func (r *memoryRecorder) snapshot() ([]remote.Notification, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]remote.Notification(nil), r.notices...), append([]string(nil), r.events...)
}

func TestRecorderSeesNoticesAndEvents(t *testing.T) {
	env := simenv.New(nil, nil)
	recorder := &memoryRecorder{}
	options := testOptions()
	options.Recorder = recorder
	s := startState(t, env, options)
	launched := collect[ApplicationLaunchedEvent](t, s)

	env.Launch(simenv.ApplicationSpec{})
	testutil.RequireReceive(t, launched, eventTimeout, "launch")

	notices, events := recorder.snapshot()
	if len(notices) == 0 || notices[0] != remote.NotifyApplicationLaunched {
		t.Errorf("recorded notices = %v", notices)
	}
	if len(events) == 0 || events[0] != string(KindApplicationLaunched) {
		t.Errorf("recorded events = %v", events)
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	env := simenv.New(nil, nil)
	s := startState(t, env, testOptions())

	var order []string
	done := make(chan struct{})
	On(s, func(ApplicationLaunchedEvent) { order = append(order, "first") })
	remove := On(s, func(ApplicationLaunchedEvent) { order = append(order, "removed") })
	OnAny(s, func(event Event) {
		if event.Kind() == KindApplicationLaunched {
			order = append(order, "any")
		}
	})
	On(s, func(ApplicationLaunchedEvent) {
		order = append(order, "last")
		close(done)
	})
	remove()

	env.Launch(simenv.ApplicationSpec{})
	testutil.RequireClosed(t, done, eventTimeout, "handlers")
	if len(order) != 3 || order[0] != "first" || order[1] != "any" || order[2] != "last" {
		t.Errorf("handler order = %v", order)
	}
}
