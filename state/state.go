// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/winsync/lib/clock"
	"github.com/bureau-foundation/winsync/lib/future"
	"github.com/bureau-foundation/winsync/lib/loop"
	"github.com/bureau-foundation/winsync/lib/property"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// ErrAbandoned rejects construction of an application that terminated
// before it was ready.
var ErrAbandoned = errors.New("construction abandoned")

// State is the synchronized model of one environment.
type State struct {
	env        remote.Environment
	options    Options
	logger     *slog.Logger
	clock      clock.Clock
	loop       *loop.Loop
	dispatcher *dispatcher

	// ctx bounds every background operation. Close cancels it.
	ctx      context.Context
	cancel   context.CancelFunc
	pumpDone chan struct{}

	// mu guards the collections below for readers on other goroutines.
	// They are only written on the loop.
	mu           sync.RWMutex
	applications map[remote.ProcessID]*Application
	windows      map[remote.Handle]*Window
	screens      []*Screen

	// pendingApplications is touched only on the loop.
	pendingApplications pendingTable[remote.ProcessID]

	// screenRequested and screenApplied order overlapping screen
	// fetches. Loop only.
	screenRequested uint64
	screenApplied   uint64
	// spacePending is set by a space notice and cleared by the next
	// fetch that applies, whichever notice requested it.
	spacePending bool

	frontmost *property.Property[*Application]

	closeOnce sync.Once
}

// New discovers the current applications, windows, and screens of env
// and returns a State that tracks them until Close. ctx bounds
// discovery only.
//
// Applications that cannot be constructed are logged and omitted;
// New fails only when the environment cannot enumerate applications at
// all.
func New(ctx context.Context, env remote.Environment, options Options) (*State, error) {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger.With("component", "state")

	lifetime, cancel := context.WithCancel(context.Background())
	s := &State{
		env:                 env,
		options:             options,
		logger:              logger,
		clock:               options.Clock,
		loop:                loop.New(logger),
		dispatcher:          newDispatcher(),
		ctx:                 lifetime,
		cancel:              cancel,
		pumpDone:            make(chan struct{}),
		applications:        make(map[remote.ProcessID]*Application),
		windows:             make(map[remote.Handle]*Window),
		pendingApplications: newPendingTable[remote.ProcessID](),
	}
	s.frontmost = property.New[*Application](frontmostSpec, &frontmostDelegate{state: s}, property.Hooks[*Application]{
		OnChange: func(ctx context.Context, change property.Change[*Application]) {
			s.emit(ctx, FrontmostApplicationChangedEvent{External: change.External, Old: change.Old, New: change.New})
		},
	}, s.runtimeFor(logger))

	go s.loop.Run(lifetime)
	go s.pump()

	if err := s.discover(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops tracking and closes every observer. The model remains
// readable but no longer changes.
func (s *State) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.loop.Done()
		<-s.pumpDone

		s.mu.RLock()
		applications := make([]*Application, 0, len(s.applications))
		for _, application := range s.applications {
			applications = append(applications, application)
		}
		s.mu.RUnlock()
		for _, application := range applications {
			if err := application.observer.Close(); err != nil {
				s.logger.Debug("closing observer", "pid", application.pid, "error", err)
			}
		}
		s.logger.Info("state closed", "applications", len(applications))
	})
	return nil
}

// Sync blocks until every notice received so far has been routed and
// every event it caused so far has been dispatched.
func (s *State) Sync(ctx context.Context) error {
	return s.loop.Sync(ctx)
}

// RunningApplications returns the tracked applications ordered by
// process ID.
func (s *State) RunningApplications() []*Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	applications := make([]*Application, 0, len(s.applications))
	for _, application := range s.applications {
		applications = append(applications, application)
	}
	slices.SortFunc(applications, func(a, b *Application) int { return cmp.Compare(a.pid, b.pid) })
	return applications
}

// Application returns the tracked application for pid, or nil.
func (s *State) Application(pid remote.ProcessID) *Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applications[pid]
}

// KnownWindows returns every tracked window ordered by handle.
func (s *State) KnownWindows() []*Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	windows := make([]*Window, 0, len(s.windows))
	for _, window := range s.windows {
		windows = append(windows, window)
	}
	slices.SortFunc(windows, func(a, b *Window) int { return cmp.Compare(a.handle, b.handle) })
	return windows
}

// Window returns the tracked window with handle, or nil.
func (s *State) Window(handle remote.Handle) *Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windows[handle]
}

// Screens returns the current display layout in environment order.
func (s *State) Screens() []*Screen {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.screens)
}

// MainScreen returns the first screen reported by the environment,
// which is the one holding the menu bar, or nil with no displays.
func (s *State) MainScreen() *Screen {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.screens) == 0 {
		return nil
	}
	return s.screens[0]
}

// FrontmostApplication is the application receiving keyboard input, or
// nil when that process is not tracked.
func (s *State) FrontmostApplication() *property.Property[*Application] {
	return s.frontmost
}

// SetFrontmostApplication activates application.
func (s *State) SetFrontmostApplication(application *Application) *future.Future[*Application] {
	return s.frontmost.Set(application)
}

func (s *State) runtimeFor(logger *slog.Logger) property.Runtime {
	return property.Runtime{
		Loop:    s.loop,
		Clock:   s.clock,
		Timeout: s.options.OperationTimeout,
		Logger:  logger,
		Strict:  s.options.Strict,
	}
}

func (s *State) discover(ctx context.Context) error {
	infos, err := s.env.Screens(ctx)
	if err != nil {
		s.logger.Warn("screen enumeration failed", "error", err)
	}
	screens := make([]*Screen, 0, len(infos))
	for _, info := range infos {
		screens = append(screens, newScreen(info))
	}

	pids, err := s.env.RunningApplications(ctx)
	if err != nil {
		return fmt.Errorf("enumerating applications: %w", err)
	}

	var started []remote.ProcessID
	err = s.loop.Call(ctx, func(context.Context) error {
		s.mu.Lock()
		s.screens = screens
		s.mu.Unlock()
		for _, pid := range pids {
			if s.pendingApplications.begin(pid) {
				started = append(started, pid)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}

	gathered, err := future.Gather(started, func(pid remote.ProcessID) *future.Future[*Application] {
		return s.construct(pid, false)
	}).Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for discovery: %w", err)
	}
	for _, failure := range gathered.Failures {
		s.logger.Warn("application omitted", "pid", failure.Key, "error", failure.Err)
	}

	frontmost, err := (&frontmostDelegate{state: s}).Read(ctx)
	if err != nil {
		s.logger.Warn("reading frontmost application", "error", err)
	}
	s.frontmost.Initialize(frontmost)

	s.logger.Info("discovery complete",
		"applications", len(gathered.Values),
		"omitted", len(gathered.Failures),
		"windows", len(s.KnownWindows()),
		"screens", len(screens),
	)
	return nil
}

// construct builds pid, which must already be pending, retrying
// transient failures. The returned future completes after the
// application has been made visible on the loop.
func (s *State) construct(pid remote.ProcessID, launched bool) *future.Future[*Application] {
	result := future.New[*Application]()
	go func() {
		application, windows, err := s.buildWithRetry(pid)
		s.loop.Post(func(ctx context.Context) {
			s.finishApplication(ctx, pid, application, windows, err, launched, result)
		})
	}()
	return result
}

type builtApplication struct {
	application *Application
	windows     []*Window
}

func (s *State) buildWithRetry(pid remote.ProcessID) (*Application, []*Window, error) {
	for attempt := 0; ; attempt++ {
		built, err := bounded(s, func(ctx context.Context) (builtApplication, error) {
			application, windows, err := buildApplication(ctx, s, pid)
			return builtApplication{application, windows}, err
		}, func(late builtApplication) {
			if late.application != nil {
				late.application.observer.Close()
			}
		})
		if err == nil {
			return built.application, built.windows, nil
		}
		err = remote.Sanitize(err, s.options.Strict, s.logger)
		if !remote.IsTransient(err) || attempt >= s.options.DiscoveryRetries {
			return nil, nil, err
		}
		s.logger.Debug("retrying application construction", "pid", pid, "attempt", attempt+1, "error", err)
		select {
		case <-s.clock.After(s.options.RetryDelay):
		case <-s.ctx.Done():
			return nil, nil, s.ctx.Err()
		}
	}
}

// finishApplication runs on the loop.
func (s *State) finishApplication(ctx context.Context, pid remote.ProcessID, application *Application, windows []*Window, err error, launched bool, result *future.Future[*Application]) {
	if err != nil {
		s.pendingApplications.abandon(pid)
		result.Reject(err)
		return
	}
	if !s.pendingApplications.has(pid) {
		s.logger.Debug("discarding application that terminated during construction", "pid", pid)
		go application.observer.Close()
		result.Reject(ErrAbandoned)
		return
	}

	application.valid.Store(true)
	s.mu.Lock()
	s.applications[pid] = application
	for _, window := range windows {
		window.valid.Store(true)
		s.windows[window.handle] = window
		application.windowHandles = append(application.windowHandles, window.handle)
	}
	s.mu.Unlock()

	if launched {
		s.logger.Info("application launched", "pid", pid, "bundle_id", application.bundleID, "windows", len(windows))
		s.emit(ctx, ApplicationLaunchedEvent{Application: application})
		if s.frontmost.Value() == nil {
			s.frontmost.Refresh()
		}
	}
	s.pendingApplications.complete(ctx, pid)
	result.Resolve(application)
}

// pump moves notices from the environment onto the loop.
func (s *State) pump() {
	defer close(s.pumpDone)
	notices := s.env.Notices()
	for {
		select {
		case <-s.ctx.Done():
			return
		case notice, ok := <-notices:
			if !ok {
				s.logger.Info("environment notice stream closed")
				return
			}
			if s.options.Recorder != nil {
				if err := s.options.Recorder.RecordNotice(s.clock.Now(), notice); err != nil {
					s.logger.Warn("recording notice", "error", err)
				}
			}
			s.loop.Post(func(ctx context.Context) { s.handleNotice(ctx, notice) })
		}
	}
}

// handleNotice routes one notice. Runs on the loop.
func (s *State) handleNotice(ctx context.Context, notice remote.Notice) {
	switch notice.Kind {
	case remote.NotifyApplicationLaunched:
		s.launch(notice.PID)
	case remote.NotifyApplicationTerminated:
		if application := s.applications[notice.PID]; application != nil {
			s.terminate(ctx, application)
		} else if dropped := s.pendingApplications.abandon(notice.PID); dropped >= 0 {
			s.logger.Debug("application terminated during construction", "pid", notice.PID, "dropped", dropped)
		}
	case remote.NotifyFrontmostApplicationChanged:
		s.frontmost.Refresh()
	case remote.NotifyScreenLayoutChanged:
		s.refreshScreens(false)
	case remote.NotifySpaceWillChange:
		s.emit(ctx, SpaceWillChangeEvent{SpaceIDs: spaceIDs(s.screens)})
	case remote.NotifySpaceChanged:
		s.refreshScreens(true)
	default:
		if application := s.applications[notice.PID]; application != nil {
			application.handleNotice(ctx, notice)
			return
		}
		if s.pendingApplications.hold(notice.PID, func(ctx context.Context) { s.handleNotice(ctx, notice) }) {
			return
		}
		s.logger.Debug("notice for untracked application", "pid", notice.PID, "kind", notice.Kind)
	}
}

func (s *State) launch(pid remote.ProcessID) {
	if s.applications[pid] != nil || !s.pendingApplications.begin(pid) {
		s.logger.Debug("ignoring launch of known application", "pid", pid)
		return
	}
	s.construct(pid, true).Then(func(_ *Application, err error) {
		if err != nil && !errors.Is(err, ErrAbandoned) {
			s.logger.Warn("launched application omitted", "pid", pid, "error", err)
		}
	})
}

// terminate removes application and its windows. Runs on the loop and
// is idempotent.
func (s *State) terminate(ctx context.Context, application *Application) {
	if !application.valid.CompareAndSwap(true, false) {
		return
	}
	s.mu.Lock()
	delete(s.applications, application.pid)
	for _, handle := range application.windowHandles {
		if window := s.windows[handle]; window != nil {
			window.valid.Store(false)
			delete(s.windows, handle)
		}
	}
	application.windowHandles = nil
	s.mu.Unlock()

	for _, handle := range application.pendingWindows.keys() {
		application.pendingWindows.abandon(handle)
	}
	go func() {
		if err := application.observer.Close(); err != nil {
			s.logger.Debug("closing observer", "pid", application.pid, "error", err)
		}
	}()

	s.logger.Info("application terminated", "pid", application.pid, "bundle_id", application.bundleID)
	s.emit(ctx, ApplicationTerminatedEvent{Application: application})
	if s.frontmost.Value() == application {
		s.frontmost.Refresh()
	}
}

func (s *State) removeWindow(window *Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windows[window.handle] == window {
		delete(s.windows, window.handle)
	}
	window.application.removeWindowHandle(window.handle)
}

// refreshScreens re-enumerates displays off the loop and applies the
// result on it. Runs on the loop.
func (s *State) refreshScreens(spaceChange bool) {
	s.screenRequested++
	generation := s.screenRequested
	if spaceChange {
		s.spacePending = true
	}
	go func() {
		infos, err := s.env.Screens(s.ctx)
		s.loop.Post(func(ctx context.Context) {
			if err != nil {
				s.logger.Warn("screen enumeration failed", "error", err)
				return
			}
			if generation < s.screenApplied {
				return
			}
			s.screenApplied = generation
			spaceChanged := s.spacePending
			s.spacePending = false
			s.applyScreens(ctx, infos, spaceChanged)
		})
	}()
}

func (s *State) applyScreens(ctx context.Context, infos []remote.ScreenInfo, spaceChanged bool) {
	screens := make([]*Screen, 0, len(infos))
	for _, info := range infos {
		screens = append(screens, newScreen(info))
	}
	s.mu.Lock()
	previous := s.screens
	s.screens = screens
	s.mu.Unlock()

	added, removed, changed := diffScreens(previous, screens)
	if len(added)+len(removed)+len(changed) > 0 {
		s.emit(ctx, ScreenLayoutChangedEvent{Added: added, Removed: removed, Changed: changed})
	}
	if spaceChanged {
		s.emit(ctx, SpaceDidChangeEvent{SpaceIDs: spaceIDs(screens)})
	}
}

func spaceIDs(screens []*Screen) []int {
	ids := make([]int, 0, len(screens))
	for _, screen := range screens {
		ids = append(ids, screen.spaceID)
	}
	return ids
}

// emit records and dispatches event. Runs on the loop.
func (s *State) emit(ctx context.Context, event Event) {
	if s.options.Recorder != nil {
		if err := s.options.Recorder.RecordEvent(s.clock.Now(), string(event.Kind()), event.IsExternal(), event.detail()); err != nil {
			s.logger.Warn("recording event", "kind", event.Kind(), "error", err)
		}
	}
	s.logger.Debug("event", "kind", event.Kind(), "external", event.IsExternal())
	s.dispatcher.dispatch(ctx, event)
}

// bounded runs fn with a context that the operation timeout cancels
// and waits for fn to return, so a retry never overlaps the attempt it
// replaces. A result that arrives after the timeout is handed to
// discard and the caller sees a TimeoutError.
func bounded[T any](s *State, fn func(ctx context.Context) (T, error), discard func(T)) (T, error) {
	if s.options.OperationTimeout <= 0 {
		return fn(s.ctx)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	var timedOut atomic.Bool
	timer := s.clock.AfterFunc(s.options.OperationTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	value, err := fn(ctx)
	timer.Stop()
	if !timedOut.Load() {
		return value, err
	}
	if err == nil {
		discard(value)
	}
	var zero T
	return zero, &remote.TimeoutError{Duration: s.options.OperationTimeout}
}

var frontmostSpec = property.Spec[*Application]{
	Attribute: remote.AttrFrontmost,
	Writable:  true,
	Equal:     property.Equals[*Application],
}

// frontmostDelegate resolves the frontmost process to a tracked
// application and activates applications by writing their frontmost
// attribute.
type frontmostDelegate struct {
	state *State
}

func (d *frontmostDelegate) Read(ctx context.Context) (*Application, error) {
	pid, err := d.state.env.FrontmostApplication(ctx)
	if err != nil || pid == 0 {
		return nil, err
	}
	var application *Application
	err = d.state.loop.Call(ctx, func(context.Context) error {
		application = d.state.applications[pid]
		return nil
	})
	if err != nil {
		return nil, remote.Failure(err)
	}
	return application, nil
}

func (d *frontmostDelegate) Write(ctx context.Context, application *Application) error {
	if application == nil || !application.IsValid() {
		return remote.ErrIllegalValue
	}
	return d.state.env.Write(ctx, application.handle, remote.AttrFrontmost, true)
}
