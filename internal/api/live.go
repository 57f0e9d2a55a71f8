package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/madras-data/crowdflow.report/internal/httputil"
	"github.com/madras-data/crowdflow.report/internal/monitoring"
	"github.com/madras-data/crowdflow.report/internal/units"
)

// Playback pacing bounds. The interval is client-controlled via the
// interval_ms query parameter.
const (
	defaultFrameInterval = 100 * time.Millisecond
	minFrameInterval     = 10 * time.Millisecond
	maxFrameInterval     = 10 * time.Second
	liveWriteTimeout     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-origin in deployment; debug tooling connects directly.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveFrame is one playback message.
type liveFrame struct {
	FrameIndex int          `json:"frame_index"`
	FrameID    int64        `json:"frame_id"`
	Units      string       `json:"units"`
	Cells      [][]*float64 `json:"cells"`
	Last       bool         `json:"last"`
}

// handleRunLive streams a run's frames over a websocket, one frame per
// interval, in stored frame order. The connection closes after the last
// frame or as soon as the client goes away.
func (s *Server) handleRunLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	frames, err := s.db.RunFrames(run.RunID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load frames: %v", err))
		return
	}

	interval := defaultFrameInterval
	if ms := r.URL.Query().Get("interval_ms"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			d := time.Duration(v) * time.Millisecond
			if d >= minFrameInterval && d <= maxFrameInterval {
				interval = d
			}
		}
	}
	displayUnits := s.resolveUnits(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client messages so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i, frame := range frames {
		cells := frame.Cells
		if displayUnits != units.MPS {
			cells = convertCells(cells, displayUnits)
		}
		msg := liveFrame{
			FrameIndex: frame.FrameIndex,
			FrameID:    frame.FrameID,
			Units:      displayUnits,
			Cells:      cells,
			Last:       i == len(frames)-1,
		}

		conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			monitoring.Logf("live playback aborted for run %s: %v", run.RunID, err)
			return
		}
		if i < len(frames)-1 {
			<-ticker.C
		}
	}

	conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "playback complete"))
}

func convertCells(cells [][]*float64, displayUnits string) [][]*float64 {
	out := make([][]*float64, len(cells))
	for i, row := range cells {
		outRow := make([]*float64, len(row))
		for j, cell := range row {
			if cell != nil {
				converted := units.ConvertSpeed(*cell, displayUnits)
				outRow[j] = &converted
			}
		}
		out[i] = outRow
	}
	return out
}
