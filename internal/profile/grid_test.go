package profile

import (
	"errors"
	"math"
	"testing"

	"github.com/madras-data/crowdflow.report/internal/geometry"
)

func mustRect(t *testing.T, minX, minY, maxX, maxY float64) geometry.WalkableArea {
	t.Helper()
	area, err := geometry.Rect(minX, minY, maxX, maxY)
	if err != nil {
		t.Fatalf("failed to build area: %v", err)
	}
	return area
}

func TestBuildGrid_UnitSquare(t *testing.T) {
	area := mustRect(t, 0, 0, 1, 1)

	grid, err := BuildGrid(area, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grid.Rows != 2 || grid.Cols != 2 {
		t.Fatalf("dims = %dx%d, want 2x2", grid.Rows, grid.Cols)
	}

	wantX := []float64{0.25, 0.75}
	for j, want := range wantX {
		if math.Abs(grid.CenterX[j]-want) > 1e-12 {
			t.Errorf("CenterX[%d] = %v, want %v", j, grid.CenterX[j], want)
		}
	}
	// Row 0 is the northernmost row.
	wantY := []float64{0.75, 0.25}
	for i, want := range wantY {
		if math.Abs(grid.CenterY[i]-want) > 1e-12 {
			t.Errorf("CenterY[%d] = %v, want %v", i, grid.CenterY[i], want)
		}
	}
	if grid.NumCells() != 4 {
		t.Errorf("NumCells = %d, want 4", grid.NumCells())
	}
}

func TestBuildGrid_NonDivisibleExtent(t *testing.T) {
	// 1.1 x 1.0 box with 0.5 cells: cols = ceil(2.2) = 3, rows = ceil(2) = 2.
	area := mustRect(t, 0, 0, 1.1, 1.0)

	grid, err := BuildGrid(area, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grid.Rows != 2 || grid.Cols != 3 {
		t.Errorf("dims = %dx%d, want 2x3", grid.Rows, grid.Cols)
	}
	// The last column extends past the area; its center still follows the lattice.
	if math.Abs(grid.CenterX[2]-1.25) > 1e-12 {
		t.Errorf("CenterX[2] = %v, want 1.25", grid.CenterX[2])
	}
}

func TestBuildGrid_ExactDivisionNoPhantomCell(t *testing.T) {
	// 1.0/0.1 is not exact in floating point; the cell count must still be 10.
	area := mustRect(t, 0, 0, 1, 1)

	grid, err := BuildGrid(area, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grid.Rows != 10 || grid.Cols != 10 {
		t.Errorf("dims = %dx%d, want 10x10", grid.Rows, grid.Cols)
	}
}

func TestBuildGrid_AxisSeparability(t *testing.T) {
	area := mustRect(t, -3, 2, 5, 9)

	grid, err := BuildGrid(area, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < grid.Rows; i++ {
		for j := 0; j < grid.Cols; j++ {
			x, y := grid.CellCenter(i, j)
			if x != grid.CenterX[j] || y != grid.CenterY[i] {
				t.Fatalf("cell (%d,%d) center (%v,%v) not axis-separable", i, j, x, y)
			}
		}
	}
	// Rows are ordered north to south.
	for i := 1; i < grid.Rows; i++ {
		if grid.CenterY[i] >= grid.CenterY[i-1] {
			t.Fatalf("CenterY not strictly decreasing at row %d", i)
		}
	}
}

func TestBuildGrid_InvalidGridSize(t *testing.T) {
	area := mustRect(t, 0, 0, 1, 1)
	for _, size := range []float64{0, -0.5, math.NaN()} {
		if _, err := BuildGrid(area, size); !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("grid size %v: expected ErrInvalidGeometry, got %v", size, err)
		}
	}
}

func TestBuildGrid_DegenerateBounds(t *testing.T) {
	// Collinear vertical polygon: zero width.
	area, err := geometry.NewWalkableArea([]geometry.Point{
		{X: 1, Y: 0}, {X: 1, Y: 2}, {X: 1, Y: 5},
	})
	if err != nil {
		t.Fatalf("failed to build area: %v", err)
	}
	if _, err := BuildGrid(area, 0.5); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry for zero-width box, got %v", err)
	}
}
