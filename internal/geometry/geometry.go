// Package geometry models the walkable area over which speed profiles are
// computed. The area is a simple polygon in a planar coordinate system; only
// its bounding box matters for grid construction, but the full vertex list is
// kept so callers can render or validate it.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ErrInvalidArea indicates a polygon that cannot describe a walkable region:
// fewer than three vertices, or non-finite coordinates.
var ErrInvalidArea = errors.New("invalid walkable area")

// Point is a single 2D coordinate in the trajectory coordinate system.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WalkableArea is a simple polygon describing the measurement region.
// It is immutable after construction.
type WalkableArea struct {
	vertices []Point
}

// NewWalkableArea validates the vertex list and returns an area.
// At least three vertices are required and every coordinate must be finite.
func NewWalkableArea(vertices []Point) (WalkableArea, error) {
	if len(vertices) < 3 {
		return WalkableArea{}, fmt.Errorf("%w: need at least 3 vertices, got %d", ErrInvalidArea, len(vertices))
	}
	for i, v := range vertices {
		if math.IsNaN(v.X) || math.IsInf(v.X, 0) || math.IsNaN(v.Y) || math.IsInf(v.Y, 0) {
			return WalkableArea{}, fmt.Errorf("%w: vertex %d has non-finite coordinates (%v, %v)", ErrInvalidArea, i, v.X, v.Y)
		}
	}
	vs := make([]Point, len(vertices))
	copy(vs, vertices)
	return WalkableArea{vertices: vs}, nil
}

// Rect is a convenience constructor for an axis-aligned rectangular area.
func Rect(minX, minY, maxX, maxY float64) (WalkableArea, error) {
	return NewWalkableArea([]Point{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
	})
}

// Vertices returns a copy of the polygon's vertex list.
func (a WalkableArea) Vertices() []Point {
	vs := make([]Point, len(a.vertices))
	copy(vs, a.vertices)
	return vs
}

// Bounds returns the axis-aligned bounding box of the polygon.
func (a WalkableArea) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, v := range a.vertices {
		minX = math.Min(minX, v.X)
		minY = math.Min(minY, v.Y)
		maxX = math.Max(maxX, v.X)
		maxY = math.Max(maxY, v.Y)
	}
	return minX, minY, maxX, maxY
}

// Width returns the bounding box extent along the x axis.
func (a WalkableArea) Width() float64 {
	minX, _, maxX, _ := a.Bounds()
	return maxX - minX
}

// Height returns the bounding box extent along the y axis.
func (a WalkableArea) Height() float64 {
	_, minY, _, maxY := a.Bounds()
	return maxY - minY
}

// LoadWalkableArea reads a polygon from a JSON file containing a vertex list:
//
//	[{"x": 0, "y": 0}, {"x": 10, "y": 0}, ...]
func LoadWalkableArea(path string) (WalkableArea, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return WalkableArea{}, fmt.Errorf("area file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return WalkableArea{}, fmt.Errorf("failed to read area file: %w", err)
	}
	var vertices []Point
	if err := json.Unmarshal(data, &vertices); err != nil {
		return WalkableArea{}, fmt.Errorf("failed to parse area file %s: %w", cleanPath, err)
	}
	return NewWalkableArea(vertices)
}
