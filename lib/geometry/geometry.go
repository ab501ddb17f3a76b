// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package geometry defines the screen-coordinate value types shared by
// the model, the bridge wire format, and scenarios. Coordinates are
// floating point because the platform reports fractional points on
// scaled displays.
package geometry

import "fmt"

// Point is a location in global screen coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width and height.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an origin and a size. The origin is the top-left corner.
type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

// NewRect builds a Rect from components.
func NewRect(x, y, width, height float64) Rect {
	return Rect{Origin: Point{X: x, Y: y}, Size: Size{Width: width, Height: height}}
}

func (p Point) String() string { return fmt.Sprintf("(%g,%g)", p.X, p.Y) }

func (s Size) String() string { return fmt.Sprintf("%gx%g", s.Width, s.Height) }

func (r Rect) String() string { return r.Origin.String() + " " + r.Size.String() }

// MaxX returns the right edge.
func (r Rect) MaxX() float64 { return r.Origin.X + r.Size.Width }

// MaxY returns the bottom edge.
func (r Rect) MaxY() float64 { return r.Origin.Y + r.Size.Height }

// IsEmpty reports whether the rect has no area.
func (r Rect) IsEmpty() bool { return r.Size.Width <= 0 || r.Size.Height <= 0 }

// Intersect returns the overlap of r and other, or the zero Rect.
func (r Rect) Intersect(other Rect) Rect {
	left := max(r.Origin.X, other.Origin.X)
	top := max(r.Origin.Y, other.Origin.Y)
	right := min(r.MaxX(), other.MaxX())
	bottom := min(r.MaxY(), other.MaxY())
	if right <= left || bottom <= top {
		return Rect{}
	}
	return NewRect(left, top, right-left, bottom-top)
}

// Area returns width times height, or zero for an empty rect.
func (r Rect) Area() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Size.Width * r.Size.Height
}

// Contains reports whether p lies inside r. The right and bottom edges
// are exclusive.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Origin.X && p.X < r.MaxX() && p.Y >= r.Origin.Y && p.Y < r.MaxY()
}
