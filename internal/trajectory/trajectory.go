// Package trajectory models frame-indexed pedestrian observations and their
// ingestion from CSV trajectory logs. One Record is a single agent observation
// in a single frame; a Dataset is the flat list of records for a recording.
package trajectory

// Record is one agent observation: position and instantaneous speed at a
// given frame. Agent identity is only used for display and grouping of raw
// rows; the profile computation itself ignores it.
type Record struct {
	Frame int64   `json:"frame"`
	Agent int64   `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Speed float64 `json:"speed"` // m/s, non-negative
}

// Dataset is an ordered collection of observations, typically many agents
// across many frames.
type Dataset struct {
	Records []Record
}

// FrameGroup holds the parallel position and speed columns for every
// observation sharing one frame id.
type FrameGroup struct {
	FrameID int64
	X       []float64
	Y       []float64
	Speed   []float64
}

// Len returns the number of agents observed in the frame.
func (g FrameGroup) Len() int { return len(g.X) }

// GroupByFrame buckets records by frame id in a single pass, preserving the
// order frame ids are first encountered. Display sequencing relies on this
// order, so it is part of the contract: frames are NOT sorted numerically.
func (d *Dataset) GroupByFrame() []FrameGroup {
	index := make(map[int64]int, 64)
	var groups []FrameGroup

	for _, rec := range d.Records {
		idx, seen := index[rec.Frame]
		if !seen {
			idx = len(groups)
			index[rec.Frame] = idx
			groups = append(groups, FrameGroup{FrameID: rec.Frame})
		}
		g := &groups[idx]
		g.X = append(g.X, rec.X)
		g.Y = append(g.Y, rec.Y)
		g.Speed = append(g.Speed, rec.Speed)
	}

	return groups
}

// FrameCount returns the number of distinct frame ids in the dataset.
func (d *Dataset) FrameCount() int {
	seen := make(map[int64]struct{}, 64)
	for _, rec := range d.Records {
		seen[rec.Frame] = struct{}{}
	}
	return len(seen)
}
