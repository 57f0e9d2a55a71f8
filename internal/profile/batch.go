package profile

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/madras-data/crowdflow.report/internal/geometry"
	"github.com/madras-data/crowdflow.report/internal/monitoring"
	"github.com/madras-data/crowdflow.report/internal/trajectory"
)

// Options configures a speed-profile run.
type Options struct {
	// GridSize is the cell edge length in the trajectory coordinate units.
	// Must be positive.
	GridSize float64

	// FWHM is the full width at half maximum of the Gaussian kernel.
	// Must be positive.
	FWHM float64

	// FillValue is written to cells whose kernel weights all vanish (empty
	// frames, or cells far enough from every agent that the weights
	// underflow). Nil means NaN.
	FillValue *float64

	// Workers bounds the number of frames processed concurrently. Zero or
	// one means strictly sequential. Frames are independent of each other,
	// so any worker count produces identical output.
	Workers int
}

// Fill is a convenience helper for setting Options.FillValue.
func Fill(v float64) *float64 { return &v }

// FrameProfile is the smoothed speed field for one trajectory frame.
// Data is Rows x Cols, never mutated after creation.
type FrameProfile struct {
	FrameID int64
	Data    *mat.Dense
}

// ComputeSpeedProfiles groups the dataset by frame, builds the grid once, and
// computes one profile per distinct frame id in first-encountered order.
//
// The grid is shared read-only across frames; with Workers > 1 each frame is
// computed by an independent goroutine writing its own pre-assigned output
// slot, so no locking is needed beyond the final WaitGroup join.
func ComputeSpeedProfiles(ds *trajectory.Dataset, area geometry.WalkableArea, opts Options) ([]FrameProfile, error) {
	grid, err := BuildGrid(area, opts.GridSize)
	if err != nil {
		return nil, err
	}
	if opts.FWHM <= 0 || math.IsNaN(opts.FWHM) {
		return nil, fmt.Errorf("%w: fwhm must be positive, got %v", ErrInvalidParameter, opts.FWHM)
	}

	fill := math.NaN()
	if opts.FillValue != nil {
		fill = *opts.FillValue
	}

	groups := ds.GroupByFrame()
	profiles := make([]FrameProfile, len(groups))

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(groups) {
		workers = len(groups)
	}

	if workers <= 1 {
		for idx, g := range groups {
			data, err := WeightFrame(g.X, g.Y, g.Speed, grid, opts.FWHM, fill)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", g.FrameID, err)
			}
			profiles[idx] = FrameProfile{FrameID: g.FrameID, Data: data}
		}
		monitoring.Logf("computed %d speed profiles (%dx%d grid, sequential)", len(profiles), grid.Rows, grid.Cols)
		return profiles, nil
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		workErr error
	)
	frameIdx := make(chan int)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range frameIdx {
				g := groups[idx]
				data, err := WeightFrame(g.X, g.Y, g.Speed, grid, opts.FWHM, fill)
				if err != nil {
					errOnce.Do(func() {
						workErr = fmt.Errorf("frame %d: %w", g.FrameID, err)
					})
					continue
				}
				profiles[idx] = FrameProfile{FrameID: g.FrameID, Data: data}
			}
		}()
	}

	for idx := range groups {
		frameIdx <- idx
	}
	close(frameIdx)
	wg.Wait()

	if workErr != nil {
		return nil, workErr
	}
	monitoring.Logf("computed %d speed profiles (%dx%d grid, %d workers)", len(profiles), grid.Rows, grid.Cols, workers)
	return profiles, nil
}
