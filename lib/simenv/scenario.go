// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simenv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// Scenario describes a world: its screens, running applications, and
// their windows. Scenario files are JSONC:
//
//	{
//	  // one 1080p display
//	  "screens": [{"id": 1, "frame": {"origin": {"x": 0, "y": 0}, "size": {"width": 1920, "height": 1080}}, "space_id": 1}],
//	  "frontmost": 100,
//	  "applications": [{
//	    "pid": 100,
//	    "bundle_id": "org.example.editor",
//	    "windows": [{"id": "main", "title": "notes.txt", "main": true,
//	                 "frame": {"origin": {"x": 0, "y": 25}, "size": {"width": 800, "height": 600}}}],
//	  }],
//	}
type Scenario struct {
	Screens      []remote.ScreenInfo   `json:"screens"`
	Frontmost    remote.ProcessID      `json:"frontmost,omitempty"`
	Applications []ScenarioApplication `json:"applications"`
}

type ScenarioApplication struct {
	PID      remote.ProcessID `json:"pid"`
	BundleID string           `json:"bundle_id,omitempty"`
	Hidden   bool             `json:"hidden,omitempty"`
	Windows  []ScenarioWindow `json:"windows,omitempty"`
}

// ScenarioWindow is one window. ID names the window across reloads of
// the same scenario file; handles are assigned by the environment.
type ScenarioWindow struct {
	ID         string        `json:"id"`
	Title      string        `json:"title,omitempty"`
	Frame      geometry.Rect `json:"frame"`
	Minimized  bool          `json:"minimized,omitempty"`
	Fullscreen bool          `json:"fullscreen,omitempty"`
	Subrole    string        `json:"subrole,omitempty"`
	Main       bool          `json:"main,omitempty"`
	Focused    bool          `json:"focused,omitempty"`
}

// ParseScenario decodes JSONC scenario data. Unknown fields are
// rejected so typos fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	var scenario Scenario
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenario, nil
}

// Validate checks identifiers for uniqueness.
func (s *Scenario) Validate() error {
	pids := make(map[remote.ProcessID]bool)
	for _, application := range s.Applications {
		if application.PID <= 0 {
			return fmt.Errorf("application %q: pid must be positive", application.BundleID)
		}
		if pids[application.PID] {
			return fmt.Errorf("duplicate pid %d", application.PID)
		}
		pids[application.PID] = true
		ids := make(map[string]bool)
		mains, focused := 0, 0
		for _, window := range application.Windows {
			if window.ID == "" {
				return fmt.Errorf("application %d: window without id", application.PID)
			}
			if ids[window.ID] {
				return fmt.Errorf("application %d: duplicate window id %q", application.PID, window.ID)
			}
			ids[window.ID] = true
			if window.Main {
				mains++
			}
			if window.Focused {
				focused++
			}
		}
		if mains > 1 || focused > 1 {
			return fmt.Errorf("application %d: at most one main and one focused window", application.PID)
		}
	}
	if s.Frontmost != 0 && !pids[s.Frontmost] {
		return fmt.Errorf("frontmost pid %d is not a scenario application", s.Frontmost)
	}
	screenIDs := make(map[uint32]bool)
	for _, screen := range s.Screens {
		if screenIDs[screen.ID] {
			return fmt.Errorf("duplicate screen id %d", screen.ID)
		}
		screenIDs[screen.ID] = true
	}
	return nil
}

// Player applies successive scenarios to an environment, turning the
// difference between consecutive scenarios into external changes.
type Player struct {
	environment *Environment
	current     *Scenario
	applied     bool
	windows     map[remote.ProcessID]map[string]remote.Handle
}

// NewPlayer returns a player that has applied nothing yet.
func NewPlayer(environment *Environment) *Player {
	return &Player{
		environment: environment,
		current:     &Scenario{},
		windows:     make(map[remote.ProcessID]map[string]remote.Handle),
	}
}

// Apply moves the environment from the previous scenario to next. The
// first Apply builds the world silently; later ones announce every
// change through notices.
func (p *Player) Apply(next *Scenario) error {
	announce := p.applied
	environment := p.environment

	if !slices.Equal(p.current.Screens, next.Screens) {
		if announce {
			environment.SetScreens(next.Screens)
		} else {
			environment.InitScreens(next.Screens)
		}
	}

	previous := make(map[remote.ProcessID]ScenarioApplication)
	for _, application := range p.current.Applications {
		previous[application.PID] = application
	}
	wanted := make(map[remote.ProcessID]bool)
	for _, application := range next.Applications {
		wanted[application.PID] = true
	}
	for pid := range previous {
		if !wanted[pid] {
			if err := environment.Terminate(pid); err != nil {
				return err
			}
			delete(p.windows, pid)
		}
	}

	for _, application := range next.Applications {
		before, existed := previous[application.PID]
		if !existed {
			spec := ApplicationSpec{PID: application.PID, BundleID: application.BundleID, Hidden: application.Hidden}
			if announce {
				environment.Launch(spec)
			} else {
				environment.AddApplication(spec)
			}
			p.windows[application.PID] = make(map[string]remote.Handle)
		} else if before.Hidden != application.Hidden {
			if err := environment.SetAttribute(p.applicationHandle(application.PID), remote.AttrHidden, application.Hidden); err != nil {
				return err
			}
		}
		if err := p.applyWindows(application, before.Windows, announce); err != nil {
			return err
		}
	}

	if next.Frontmost != p.current.Frontmost {
		if announce {
			if err := environment.SetFrontmost(next.Frontmost); err != nil {
				return err
			}
		} else {
			environment.mu.Lock()
			environment.frontmost = next.Frontmost
			environment.mu.Unlock()
		}
	}
	p.current = next
	p.applied = true
	return nil
}

// Handle returns the environment handle of a scenario window.
func (p *Player) Handle(pid remote.ProcessID, windowID string) (remote.Handle, bool) {
	handle, ok := p.windows[pid][windowID]
	return handle, ok
}

func (p *Player) applicationHandle(pid remote.ProcessID) remote.Handle {
	p.environment.mu.Lock()
	defer p.environment.mu.Unlock()
	return p.environment.applications[pid]
}

func (p *Player) applyWindows(application ScenarioApplication, before []ScenarioWindow, announce bool) error {
	environment := p.environment
	handles := p.windows[application.PID]

	previous := make(map[string]ScenarioWindow)
	for _, window := range before {
		previous[window.ID] = window
	}
	wanted := make(map[string]bool)
	for _, window := range application.Windows {
		wanted[window.ID] = true
	}
	for id := range previous {
		if !wanted[id] {
			if err := environment.DestroyWindow(handles[id]); err != nil {
				return err
			}
			delete(handles, id)
		}
	}

	for _, window := range application.Windows {
		old, existed := previous[window.ID]
		if !existed {
			spec := WindowSpec{
				Title:      window.Title,
				Frame:      window.Frame,
				Minimized:  window.Minimized,
				Fullscreen: window.Fullscreen,
				Subrole:    window.Subrole,
				Main:       window.Main,
				Focused:    window.Focused,
			}
			var (
				handle remote.Handle
				err    error
			)
			if announce {
				handle, err = environment.CreateWindow(application.PID, spec)
			} else {
				handle, err = environment.AddWindow(application.PID, spec)
			}
			if err != nil {
				return err
			}
			handles[window.ID] = handle
			continue
		}

		handle := handles[window.ID]
		changes := []struct {
			changed bool
			name    remote.Attribute
			value   any
		}{
			{old.Title != window.Title, remote.AttrTitle, window.Title},
			{old.Frame.Origin != window.Frame.Origin, remote.AttrPosition, window.Frame.Origin},
			{old.Frame.Size != window.Frame.Size, remote.AttrSize, window.Frame.Size},
			{old.Minimized != window.Minimized, remote.AttrMinimized, window.Minimized},
			{old.Fullscreen != window.Fullscreen, remote.AttrFullscreen, window.Fullscreen},
		}
		for _, change := range changes {
			if !change.changed {
				continue
			}
			if err := environment.SetAttribute(handle, change.name, change.value); err != nil {
				return err
			}
		}
		applicationHandle := p.applicationHandle(application.PID)
		if window.Main && !old.Main {
			if err := environment.SetAttribute(applicationHandle, remote.AttrMainWindow, handle); err != nil {
				return err
			}
		}
		if window.Focused && !old.Focused {
			if err := environment.SetAttribute(applicationHandle, remote.AttrFocusedWindow, handle); err != nil {
				return err
			}
		}
	}
	return nil
}
