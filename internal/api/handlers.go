package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/madras-data/crowdflow.report/internal/db"
	"github.com/madras-data/crowdflow.report/internal/geometry"
	"github.com/madras-data/crowdflow.report/internal/httputil"
	"github.com/madras-data/crowdflow.report/internal/profile"
	"github.com/madras-data/crowdflow.report/internal/render"
	"github.com/madras-data/crowdflow.report/internal/trajectory"
	"github.com/madras-data/crowdflow.report/internal/units"
)

// maxUploadBytes bounds trajectory CSV uploads (64 MB).
const maxUploadBytes = 64 << 20

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		infos, err := s.db.Datasets()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list datasets: %v", err))
			return
		}
		if infos == nil {
			infos = []db.DatasetInfo{}
		}
		httputil.WriteJSONOK(w, infos)
	case http.MethodPost:
		s.handleDatasetUpload(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleDatasetUpload ingests a CSV trajectory log from the request body.
// The dataset name comes from the name query parameter.
func (s *Server) handleDatasetUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.BadRequest(w, "missing 'name' query parameter")
		return
	}

	ds, err := trajectory.ReadCSV(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid trajectory CSV: %v", err))
		return
	}
	if len(ds.Records) == 0 {
		httputil.BadRequest(w, "trajectory CSV contains no records")
		return
	}

	id, err := s.db.InsertDataset(name, ds)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to store dataset: %v", err))
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"dataset_id":   id,
		"name":         name,
		"record_count": len(ds.Records),
		"frame_count":  ds.FrameCount(),
	})
}

// computeRequest is the POST /api/runs body.
type computeRequest struct {
	DatasetID int64            `json:"dataset_id"`
	Area      []geometry.Point `json:"area"`
	GridSize  float64          `json:"grid_size"`
	FWHM      float64          `json:"fwhm"`
	FillValue *float64         `json:"fill_value,omitempty"`
	Workers   int              `json:"workers,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		runs, err := s.db.Runs()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
			return
		}
		if runs == nil {
			runs = []db.ProfileRun{}
		}
		httputil.WriteJSONOK(w, runs)
	case http.MethodPost:
		s.handleComputeRun(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleComputeRun(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	area, err := geometry.NewWalkableArea(req.Area)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid area: %v", err))
		return
	}

	ds, err := s.db.Dataset(req.DatasetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, fmt.Sprintf("dataset %d not found", req.DatasetID))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load dataset: %v", err))
		return
	}

	grid, err := profile.BuildGrid(area, req.GridSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	profiles, err := profile.ComputeSpeedProfiles(ds, area, profile.Options{
		GridSize:  req.GridSize,
		FWHM:      req.FWHM,
		FillValue: req.FillValue,
		Workers:   req.Workers,
	})
	if err != nil {
		if errors.Is(err, profile.ErrInvalidGeometry) || errors.Is(err, profile.ErrInvalidParameter) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("profile computation failed: %v", err))
		return
	}

	run := db.ProfileRun{
		RunID:     uuid.NewString(),
		DatasetID: req.DatasetID,
		GridSize:  req.GridSize,
		FWHM:      req.FWHM,
		FillValue: req.FillValue,
		Rows:      grid.Rows,
		Cols:      grid.Cols,
		Area:      area.Vertices(),
	}
	if err := s.db.InsertRun(run, profiles); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to store run: %v", err))
		return
	}
	run.FrameCount = len(profiles)

	httputil.WriteJSON(w, http.StatusCreated, run)
}

// loadRun resolves the run_id query parameter to a stored run, writing the
// HTTP error itself on failure.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (db.ProfileRun, bool) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		httputil.BadRequest(w, "missing 'run_id' query parameter")
		return db.ProfileRun{}, false
	}
	run, err := s.db.Run(runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, fmt.Sprintf("run %s not found", runID))
			return db.ProfileRun{}, false
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load run: %v", err))
		return db.ProfileRun{}, false
	}
	return run, true
}

// runGrid rebuilds the grid a stored run was computed on.
func runGrid(run db.ProfileRun) (*profile.Grid, error) {
	area, err := geometry.NewWalkableArea(run.Area)
	if err != nil {
		return nil, err
	}
	return profile.BuildGrid(area, run.GridSize)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, run)
}

// resolveUnits picks the display units for a request.
func (s *Server) resolveUnits(r *http.Request) string {
	if u := r.URL.Query().Get("units"); u != "" && units.IsValid(u) {
		return u
	}
	return s.units
}

func parseFrameIndex(r *http.Request) (int, error) {
	idxStr := r.URL.Query().Get("index")
	if idxStr == "" {
		return 0, nil
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid 'index' parameter %q", idxStr)
	}
	return idx, nil
}

func (s *Server) handleRunFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	idx, err := parseFrameIndex(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	frame, err := s.db.RunFrame(run.RunID, idx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, fmt.Sprintf("frame %d not found in run %s", idx, run.RunID))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load frame: %v", err))
		return
	}

	displayUnits := s.resolveUnits(r)
	if displayUnits != units.MPS {
		frame.Cells = convertCells(frame.Cells, displayUnits)
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"run_id":      run.RunID,
		"frame_index": frame.FrameIndex,
		"frame_id":    frame.FrameID,
		"units":       displayUnits,
		"rows":        run.Rows,
		"cols":        run.Cols,
		"cells":       frame.Cells,
	})
}

func (s *Server) handleRunFramePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	idx, err := parseFrameIndex(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	frame, err := s.db.RunFrame(run.RunID, idx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, fmt.Sprintf("frame %d not found in run %s", idx, run.RunID))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load frame: %v", err))
		return
	}

	grid, err := runGrid(run)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to rebuild grid: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	title := fmt.Sprintf("Speed profile - frame %d", frame.FrameID)
	if err := render.HeatmapPNG(w, grid, db.CellsMatrix(frame.Cells), title); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render heatmap: %v", err))
	}
}

func (s *Server) handleRunHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	idx, err := parseFrameIndex(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	frame, err := s.db.RunFrame(run.RunID, idx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, fmt.Sprintf("frame %d not found in run %s", idx, run.RunID))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load frame: %v", err))
		return
	}

	grid, err := runGrid(run)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to rebuild grid: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	subtitle := fmt.Sprintf("run=%s frame=%d grid=%dx%d", run.RunID, frame.FrameID, run.Rows, run.Cols)
	if err := render.HeatmapHTML(w, grid, db.CellsMatrix(frame.Cells), "Speed profile", subtitle); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
	}
}

func (s *Server) handleRunAnimation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	frames, err := s.db.RunFrames(run.RunID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load frames: %v", err))
		return
	}

	grid, err := runGrid(run)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to rebuild grid: %v", err))
		return
	}

	profiles := make([]profile.FrameProfile, len(frames))
	for i, f := range frames {
		profiles[i] = profile.FrameProfile{FrameID: f.FrameID, Data: db.CellsMatrix(f.Cells)}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.AnimationHTML(w, grid, profiles, "Speed profile playback"); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render animation: %v", err))
	}
}
