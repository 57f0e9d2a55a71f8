// Package render turns computed speed profiles into images and HTML charts.
// PNG output goes through gonum/plot; interactive HTML goes through
// go-echarts. Rendering is a pure function of the profile data; nothing here
// touches storage.
package render

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/madras-data/crowdflow.report/internal/profile"
)

// profileGrid adapts a speed-profile matrix to plotter.GridXYZ. The profile
// stores row 0 as the northernmost row while the plotter draws y increasing
// upward, so rows are flipped here.
type profileGrid struct {
	grid *profile.Grid
	data *mat.Dense
}

func (pg profileGrid) Dims() (c, r int) { return pg.grid.Cols, pg.grid.Rows }

func (pg profileGrid) X(c int) float64 { return pg.grid.CenterX[c] }

func (pg profileGrid) Y(r int) float64 { return pg.grid.CenterY[pg.grid.Rows-1-r] }

func (pg profileGrid) Z(c, r int) float64 { return pg.data.At(pg.grid.Rows-1-r, c) }

// HeatmapPNG writes a PNG heatmap of one profile frame. Cells holding the
// NaN sentinel are left unpainted.
func HeatmapPNG(w io.Writer, grid *profile.Grid, data *mat.Dense, title string) error {
	rows, cols := data.Dims()
	if rows != grid.Rows || cols != grid.Cols {
		return fmt.Errorf("profile dims %dx%d do not match grid %dx%d", rows, cols, grid.Rows, grid.Cols)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pal := palette.Heat(16, 1)
	hm := plotter.NewHeatMap(profileGrid{grid: grid, data: data}, pal)
	p.Add(hm)

	wt, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render heatmap: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write heatmap: %w", err)
	}
	return nil
}
