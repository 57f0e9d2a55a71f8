package render

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/mat"

	"github.com/madras-data/crowdflow.report/internal/profile"
)

// viridis-like ramp used for every chart so frames are visually comparable.
var heatmapColors = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// HeatmapHTML writes an interactive echarts heatmap of one profile frame.
// NaN cells are omitted from the series so they render as gaps.
func HeatmapHTML(w io.Writer, grid *profile.Grid, data *mat.Dense, title, subtitle string) error {
	hm, err := buildHeatmap(grid, data, title, subtitle)
	if err != nil {
		return err
	}
	if err := hm.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// AnimationHTML writes a page with one heatmap chart per frame, in frame
// order, giving a scrollable playback of the run.
func AnimationHTML(w io.Writer, grid *profile.Grid, frames []profile.FrameProfile, title string) error {
	page := components.NewPage()
	page.PageTitle = title

	for i, fp := range frames {
		hm, err := buildHeatmap(grid, fp.Data, title,
			fmt.Sprintf("frame %d (index %d of %d)", fp.FrameID, i, len(frames)))
		if err != nil {
			return err
		}
		page.AddCharts(hm)
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return nil
}

func buildHeatmap(grid *profile.Grid, data *mat.Dense, title, subtitle string) (*charts.HeatMap, error) {
	rows, cols := data.Dims()
	if rows != grid.Rows || cols != grid.Cols {
		return nil, fmt.Errorf("profile dims %dx%d do not match grid %dx%d", rows, cols, grid.Rows, grid.Cols)
	}

	xLabels := make([]string, cols)
	for j, cx := range grid.CenterX {
		xLabels[j] = fmt.Sprintf("%.2f", cx)
	}
	// echarts draws category y upward; row 0 is the northernmost row, so the
	// label order is reversed.
	yLabels := make([]string, rows)
	for i, cy := range grid.CenterY {
		yLabels[rows-1-i] = fmt.Sprintf("%.2f", cy)
	}

	items := make([]opts.HeatMapData, 0, rows*cols)
	maxSpeed := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := data.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			if v > maxSpeed {
				maxSpeed = v
			}
			items = append(items, opts.HeatMapData{Value: [3]interface{}{j, rows - 1 - i, v}})
		}
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xLabels, Name: "X (m)"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: yLabels, Name: "Y (m)"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSpeed),
			InRange:    &opts.VisualMapInRange{Color: heatmapColors},
		}),
	)
	hm.AddSeries("speed", items)

	return hm, nil
}
