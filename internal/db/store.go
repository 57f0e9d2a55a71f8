package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/madras-data/crowdflow.report/internal/geometry"
	"github.com/madras-data/crowdflow.report/internal/profile"
	"github.com/madras-data/crowdflow.report/internal/trajectory"
)

// DatasetInfo summarises one stored trajectory dataset.
type DatasetInfo struct {
	ID          int64  `json:"dataset_id"`
	Name        string `json:"name"`
	RecordCount int    `json:"record_count"`
	FrameCount  int    `json:"frame_count"`
	CreatedAt   string `json:"created_at"`
}

// ProfileRun records the parameters and grid shape of one computed run.
// FillValue is nil when the run used the NaN sentinel.
type ProfileRun struct {
	RunID      string           `json:"run_id"`
	DatasetID  int64            `json:"dataset_id"`
	GridSize   float64          `json:"grid_size"`
	FWHM       float64          `json:"fwhm"`
	FillValue  *float64         `json:"fill_value,omitempty"`
	Rows       int              `json:"rows"`
	Cols       int              `json:"cols"`
	FrameCount int              `json:"frame_count"`
	Area       []geometry.Point `json:"area"`
	CreatedAt  string           `json:"created_at"`
}

// ProfileFrame is one stored frame of a run. Cells uses nil for undefined
// (NaN) cells so the matrix survives JSON encoding.
type ProfileFrame struct {
	FrameIndex int          `json:"frame_index"`
	FrameID    int64        `json:"frame_id"`
	Cells      [][]*float64 `json:"cells"`
}

// MatrixCells converts a profile matrix to a JSON-safe nested slice,
// replacing NaN with nil.
func MatrixCells(m *mat.Dense) [][]*float64 {
	rows, cols := m.Dims()
	cells := make([][]*float64, rows)
	for i := 0; i < rows; i++ {
		row := make([]*float64, cols)
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if !math.IsNaN(v) {
				row[j] = &v
			}
		}
		cells[i] = row
	}
	return cells
}

// CellsMatrix is the inverse of MatrixCells: nil cells become NaN.
func CellsMatrix(cells [][]*float64) *mat.Dense {
	rows := len(cells)
	if rows == 0 {
		return mat.NewDense(0, 0, nil)
	}
	cols := len(cells[0])
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if cells[i][j] == nil {
				m.Set(i, j, math.NaN())
			} else {
				m.Set(i, j, *cells[i][j])
			}
		}
	}
	return m
}

// InsertDataset stores a named dataset and all its records in one
// transaction, returning the new dataset id.
func (db *DB) InsertDataset(name string, ds *trajectory.Dataset) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO datasets (name, record_count, frame_count) VALUES (?, ?, ?)",
		name, len(ds.Records), ds.FrameCount(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert dataset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		"INSERT INTO trajectories (dataset_id, frame, agent, x, y, speed) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare trajectory insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range ds.Records {
		if _, err := stmt.Exec(id, rec.Frame, rec.Agent, rec.X, rec.Y, rec.Speed); err != nil {
			return 0, fmt.Errorf("failed to insert trajectory record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit dataset: %w", err)
	}
	return id, nil
}

// Datasets lists stored datasets, newest first.
func (db *DB) Datasets() ([]DatasetInfo, error) {
	rows, err := db.Query(`SELECT dataset_id, name, record_count, frame_count, created_at
		FROM datasets ORDER BY dataset_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []DatasetInfo
	for rows.Next() {
		var info DatasetInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.RecordCount, &info.FrameCount, &info.CreatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Dataset loads the full record list for one dataset, preserving insertion
// order (which carries the first-seen frame ordering).
func (db *DB) Dataset(id int64) (*trajectory.Dataset, error) {
	var exists int
	if err := db.QueryRow("SELECT COUNT(*) FROM datasets WHERE dataset_id = ?", id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("dataset %d: %w", id, sql.ErrNoRows)
	}

	rows, err := db.Query(`SELECT frame, agent, x, y, speed FROM trajectories
		WHERE dataset_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ds := &trajectory.Dataset{}
	for rows.Next() {
		var rec trajectory.Record
		if err := rows.Scan(&rec.Frame, &rec.Agent, &rec.X, &rec.Y, &rec.Speed); err != nil {
			return nil, err
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, rows.Err()
}

// InsertRun stores a run's parameters and every frame matrix in one
// transaction. Frames are stored in their computed order.
func (db *DB) InsertRun(run ProfileRun, frames []profile.FrameProfile) error {
	areaJSON, err := json.Marshal(run.Area)
	if err != nil {
		return fmt.Errorf("failed to marshal area: %w", err)
	}

	var fill sql.NullFloat64
	if run.FillValue != nil {
		fill = sql.NullFloat64{Float64: *run.FillValue, Valid: true}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO profile_runs
		(run_id, dataset_id, grid_size, fwhm, fill_value, grid_rows, grid_cols, frame_count, area)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.DatasetID, run.GridSize, run.FWHM, fill,
		run.Rows, run.Cols, len(frames), string(areaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO profile_frames (run_id, frame_index, frame_id, cells) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare frame insert: %w", err)
	}
	defer stmt.Close()

	for idx, fp := range frames {
		cellsJSON, err := json.Marshal(MatrixCells(fp.Data))
		if err != nil {
			return fmt.Errorf("failed to marshal frame %d cells: %w", idx, err)
		}
		if _, err := stmt.Exec(run.RunID, idx, fp.FrameID, string(cellsJSON)); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// Runs lists stored profile runs, newest first.
func (db *DB) Runs() ([]ProfileRun, error) {
	rows, err := db.Query(`SELECT run_id, dataset_id, grid_size, fwhm, fill_value,
		grid_rows, grid_cols, frame_count, area, created_at
		FROM profile_runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ProfileRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run fetches one run by id. Wraps sql.ErrNoRows when absent.
func (db *DB) Run(runID string) (ProfileRun, error) {
	row := db.QueryRow(`SELECT run_id, dataset_id, grid_size, fwhm, fill_value,
		grid_rows, grid_cols, frame_count, area, created_at
		FROM profile_runs WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return ProfileRun{}, fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (ProfileRun, error) {
	var (
		run      ProfileRun
		fill     sql.NullFloat64
		areaJSON string
	)
	err := row.Scan(&run.RunID, &run.DatasetID, &run.GridSize, &run.FWHM, &fill,
		&run.Rows, &run.Cols, &run.FrameCount, &areaJSON, &run.CreatedAt)
	if err != nil {
		return ProfileRun{}, err
	}
	if fill.Valid {
		run.FillValue = &fill.Float64
	}
	if err := json.Unmarshal([]byte(areaJSON), &run.Area); err != nil {
		return ProfileRun{}, fmt.Errorf("failed to unmarshal run area: %w", err)
	}
	return run, nil
}

// RunFrame fetches a single frame matrix of a run by frame index.
func (db *DB) RunFrame(runID string, frameIndex int) (ProfileFrame, error) {
	var (
		frame     ProfileFrame
		cellsJSON string
	)
	err := db.QueryRow(`SELECT frame_index, frame_id, cells FROM profile_frames
		WHERE run_id = ? AND frame_index = ?`, runID, frameIndex).
		Scan(&frame.FrameIndex, &frame.FrameID, &cellsJSON)
	if err == sql.ErrNoRows {
		return ProfileFrame{}, fmt.Errorf("run %s frame %d: %w", runID, frameIndex, sql.ErrNoRows)
	}
	if err != nil {
		return ProfileFrame{}, err
	}
	if err := json.Unmarshal([]byte(cellsJSON), &frame.Cells); err != nil {
		return ProfileFrame{}, fmt.Errorf("failed to unmarshal frame cells: %w", err)
	}
	return frame, nil
}

// RunFrames fetches every frame of a run ordered by frame index.
func (db *DB) RunFrames(runID string) ([]ProfileFrame, error) {
	rows, err := db.Query(`SELECT frame_index, frame_id, cells FROM profile_frames
		WHERE run_id = ? ORDER BY frame_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []ProfileFrame
	for rows.Next() {
		var (
			frame     ProfileFrame
			cellsJSON string
		)
		if err := rows.Scan(&frame.FrameIndex, &frame.FrameID, &cellsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cellsJSON), &frame.Cells); err != nil {
			return nil, fmt.Errorf("failed to unmarshal frame %d cells: %w", frame.FrameIndex, err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}
