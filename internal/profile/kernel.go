package profile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// fwhmToSigma converts a full-width-at-half-maximum spread into the standard
// deviation of the corresponding Gaussian: sigma = fwhm / (2*sqrt(2*ln 2)).
func fwhmToSigma(fwhm float64) float64 {
	return fwhm / (2 * math.Sqrt(2*math.Ln2))
}

// WeightFrame computes the Gaussian-kernel-weighted average speed for one
// trajectory frame over every cell of the grid.
//
// For each cell the Euclidean distance to every agent is pushed through the
// Gaussian density G(d) = 1/(sigma*sqrt(2*pi)) * exp(-d^2/(2*sigma^2)); the
// resulting weights are normalized per cell to a convex combination and used
// to average the agent speeds. Every agent contributes to every cell (the
// kernel has global support), so the cost is O(rows*cols*n) per frame.
//
// If the frame is empty, or all raw weights for a cell underflow to zero, the
// cell is set to fill rather than dividing by zero.
func WeightFrame(xs, ys, speeds []float64, grid *Grid, fwhm, fill float64) (*mat.Dense, error) {
	if fwhm <= 0 || math.IsNaN(fwhm) {
		return nil, fmt.Errorf("%w: fwhm must be positive, got %v", ErrInvalidParameter, fwhm)
	}
	n := len(xs)
	if len(ys) != n || len(speeds) != n {
		return nil, fmt.Errorf("%w: position/speed length mismatch (x=%d y=%d speed=%d)",
			ErrInvalidParameter, len(xs), len(ys), len(speeds))
	}

	out := mat.NewDense(grid.Rows, grid.Cols, nil)
	if n == 0 {
		fillDense(out, fill)
		return out, nil
	}

	sigma := fwhmToSigma(fwhm)
	coeff := 1 / (sigma * math.Sqrt(2*math.Pi))
	inv2SigmaSq := 1 / (2 * sigma * sigma)

	// Axis separability of the cell centers lets the squared distance
	// decompose into a per-column and a per-row term, so the x-axis half is
	// computed once per column instead of once per cell.
	dx2 := make([]float64, grid.Cols*n)
	for j, cx := range grid.CenterX {
		row := dx2[j*n : (j+1)*n]
		for k, px := range xs {
			d := cx - px
			row[k] = d * d
		}
	}

	dy2 := make([]float64, n)
	for i, cy := range grid.CenterY {
		for k, py := range ys {
			d := cy - py
			dy2[k] = d * d
		}
		for j := 0; j < grid.Cols; j++ {
			colDx2 := dx2[j*n : (j+1)*n]
			var wSum, wSpeed float64
			for k := 0; k < n; k++ {
				w := coeff * math.Exp(-(colDx2[k]+dy2[k])*inv2SigmaSq)
				wSum += w
				wSpeed += w * speeds[k]
			}
			// All weights can underflow to exactly zero for cells far from
			// every agent; substituting the fill value here is the contract,
			// never a 0/0 division.
			if wSum == 0 {
				out.Set(i, j, fill)
				continue
			}
			out.Set(i, j, wSpeed/wSum)
		}
	}

	return out, nil
}

// CellWeights returns the normalized per-agent weights for a single cell, or
// nil if every raw weight is zero. Exposed for diagnostics and tests; the hot
// path in WeightFrame folds normalization into the weighted average instead.
func CellWeights(cellX, cellY float64, xs, ys []float64, fwhm float64) []float64 {
	n := len(xs)
	if n == 0 {
		return nil
	}
	sigma := fwhmToSigma(fwhm)
	coeff := 1 / (sigma * math.Sqrt(2*math.Pi))
	inv2SigmaSq := 1 / (2 * sigma * sigma)

	weights := make([]float64, n)
	var sum float64
	for k := 0; k < n; k++ {
		dx := cellX - xs[k]
		dy := cellY - ys[k]
		w := coeff * math.Exp(-(dx*dx+dy*dy)*inv2SigmaSq)
		weights[k] = w
		sum += w
	}
	if sum == 0 {
		return nil
	}
	for k := range weights {
		weights[k] /= sum
	}
	return weights
}

func fillDense(m *mat.Dense, v float64) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, v)
		}
	}
}
