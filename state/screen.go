// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"github.com/bureau-foundation/winsync/lib/geometry"
	"github.com/bureau-foundation/winsync/lib/remote"
)

// Screen is one display as of the last layout notice. Screen values
// are immutable; a layout change replaces them.
type Screen struct {
	id          uint32
	frame       geometry.Rect
	spaceID     int
	description string
}

func newScreen(info remote.ScreenInfo) *Screen {
	return &Screen{
		id:          info.ID,
		frame:       info.Frame,
		spaceID:     info.SpaceID,
		description: info.Description,
	}
}

// ID is the display identifier, stable while the display is attached.
func (s *Screen) ID() uint32 { return s.id }

// Frame is the display rectangle in global coordinates.
func (s *Screen) Frame() geometry.Rect { return s.frame }

// SpaceID identifies the space currently visible on the display.
func (s *Screen) SpaceID() int { return s.spaceID }

func (s *Screen) Description() string { return s.description }

func (s *Screen) String() string { return s.description + " " + s.frame.String() }

// sameLayout ignores the visible space, which SpaceDidChangeEvent
// reports.
func (s *Screen) sameLayout(other *Screen) bool {
	return s.frame == other.frame && s.description == other.description
}

// diffScreens compares two layouts by display ID.
func diffScreens(before, after []*Screen) (added, removed, changed []*Screen) {
	previous := make(map[uint32]*Screen, len(before))
	for _, screen := range before {
		previous[screen.id] = screen
	}
	current := make(map[uint32]bool, len(after))
	for _, screen := range after {
		current[screen.id] = true
		old, existed := previous[screen.id]
		switch {
		case !existed:
			added = append(added, screen)
		case !old.sameLayout(screen):
			changed = append(changed, screen)
		}
	}
	for _, screen := range before {
		if !current[screen.id] {
			removed = append(removed, screen)
		}
	}
	return added, removed, changed
}

// screenFor returns the screen with the largest overlap with frame, or
// nil when frame is off every screen.
func screenFor(screens []*Screen, frame geometry.Rect) *Screen {
	var (
		best     *Screen
		bestArea float64
	)
	for _, screen := range screens {
		area := screen.frame.Intersect(frame).Area()
		if area > bestArea {
			best, bestArea = screen, area
		}
	}
	return best
}
