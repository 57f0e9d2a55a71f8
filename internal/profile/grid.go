// Package profile computes Gaussian-kernel-weighted speed profiles from
// pedestrian trajectory data. A walkable area is partitioned into a regular
// grid once per run, then every trajectory frame is smoothed into a
// rows x cols field of weighted-average speeds.
package profile

import (
	"errors"
	"fmt"
	"math"

	"github.com/madras-data/crowdflow.report/internal/geometry"
)

// Sentinel errors for caller-distinguishable failure classes. Configuration
// mistakes surface as one of these; sparse-data conditions (empty frames,
// all-zero weights) never error and are handled by fill-value substitution.
var (
	// ErrInvalidGeometry indicates a degenerate walkable area (zero width or
	// height bounding box) or a non-positive grid size.
	ErrInvalidGeometry = errors.New("invalid profile geometry")

	// ErrInvalidParameter indicates an out-of-range kernel parameter such as
	// a non-positive FWHM.
	ErrInvalidParameter = errors.New("invalid profile parameter")
)

// Grid is a regular rectangular lattice of cells covering the bounding box of
// a walkable area. Row 0 is the northernmost (highest-y) row; cells within a
// row run west to east. Center coordinates are axis-separable: CenterX depends
// only on the column index and CenterY only on the row index.
//
// A Grid is immutable after construction and safe to share across goroutines.
type Grid struct {
	CenterX  []float64 // cell center x per column, length Cols
	CenterY  []float64 // cell center y per row, length Rows
	Rows     int
	Cols     int
	CellSize float64
}

// cellCountEpsilon guards the ceil division against floating-point noise when
// the extent divides the cell size exactly (e.g. 1.0/0.1 evaluating to
// 10.000000000000002 must still yield 10 cells, not 11).
const cellCountEpsilon = 1e-9

// BuildGrid partitions the bounding box of area into square cells of edge
// length gridSize. Edge cells may extend past the area; rows and cols are
// ceil(extent/gridSize) on each axis. The grid depends only on the area and
// the cell size, so one grid serves every frame of a run.
func BuildGrid(area geometry.WalkableArea, gridSize float64) (*Grid, error) {
	if gridSize <= 0 || math.IsNaN(gridSize) {
		return nil, fmt.Errorf("%w: grid size must be positive, got %v", ErrInvalidGeometry, gridSize)
	}

	minX, minY, maxX, maxY := area.Bounds()
	width := maxX - minX
	height := maxY - minY
	if !(width > 0) || !(height > 0) || math.IsInf(width, 0) || math.IsInf(height, 0) {
		return nil, fmt.Errorf("%w: degenerate bounding box (%v x %v)", ErrInvalidGeometry, width, height)
	}

	cols := int(math.Ceil(width/gridSize - cellCountEpsilon))
	rows := int(math.Ceil(height/gridSize - cellCountEpsilon))

	centerX := make([]float64, cols)
	for j := 0; j < cols; j++ {
		centerX[j] = minX + (float64(j)+0.5)*gridSize
	}
	// Top-to-bottom: row 0 is the highest-y row.
	centerY := make([]float64, rows)
	for i := 0; i < rows; i++ {
		centerY[i] = maxY - (float64(i)+0.5)*gridSize
	}

	return &Grid{
		CenterX:  centerX,
		CenterY:  centerY,
		Rows:     rows,
		Cols:     cols,
		CellSize: gridSize,
	}, nil
}

// NumCells returns the total cell count of the grid.
func (g *Grid) NumCells() int {
	return g.Rows * g.Cols
}

// CellCenter returns the center coordinates of the cell at (row, col).
func (g *Grid) CellCenter(row, col int) (x, y float64) {
	return g.CenterX[col], g.CenterY[row]
}
