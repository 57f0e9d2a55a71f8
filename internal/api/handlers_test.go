package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/madras-data/crowdflow.report/internal/db"
	"github.com/madras-data/crowdflow.report/internal/geometry"
	"github.com/madras-data/crowdflow.report/internal/testutil"
	"github.com/madras-data/crowdflow.report/internal/units"
)

const testMigrationsDir = "../../migrations"

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "api_test.db")
	dbInst, err := db.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := dbInst.MigrateUp(testMigrationsDir); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return NewServer(dbInst, "mps"), dbInst
}

func cleanupTestServer(t *testing.T, dbInst *db.DB) {
	t.Helper()
	if err := dbInst.Close(); err != nil {
		t.Errorf("Failed to close test database: %v", err)
	}
}

// seedDataset stores a small synthetic dataset and returns its ID.
func seedDataset(t *testing.T, dbInst *db.DB) int64 {
	t.Helper()
	id, err := dbInst.InsertDataset("crossing", testutil.CrossingDataset(5, 3))
	if err != nil {
		t.Fatalf("Failed to seed dataset: %v", err)
	}
	return id
}

// seedRun computes and stores a run over the unit square and returns it.
func seedRun(t *testing.T, server *Server, datasetID int64) db.ProfileRun {
	t.Helper()
	body, _ := json.Marshal(computeRequest{
		DatasetID: datasetID,
		Area: []geometry.Point{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1},
		},
		GridSize: 0.5,
		FWHM:     1.0,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	server.handleRuns(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 seeding run, got %d: %s", w.Code, w.Body.String())
	}
	var run db.ProfileRun
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatalf("Failed to decode run response: %v", err)
	}
	return run
}

func TestHandleDatasets_Upload(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	csv := "frame,id,x,y,speed\n1,1,0.2,0.3,1.1\n1,2,0.6,0.4,0.9\n2,1,0.25,0.35,1.2\n"
	req := httptest.NewRequest(http.MethodPost, "/api/datasets?name=corridor", strings.NewReader(csv))
	w := httptest.NewRecorder()

	server.handleDatasets(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DatasetID   int64  `json:"dataset_id"`
		Name        string `json:"name"`
		RecordCount int    `json:"record_count"`
		FrameCount  int    `json:"frame_count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.RecordCount != 3 {
		t.Errorf("Expected 3 records, got %d", resp.RecordCount)
	}
	if resp.FrameCount != 2 {
		t.Errorf("Expected 2 frames, got %d", resp.FrameCount)
	}
	if resp.Name != "corridor" {
		t.Errorf("Expected name 'corridor', got %q", resp.Name)
	}
}

func TestHandleDatasets_UploadErrors(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	t.Run("missing_name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/datasets", strings.NewReader("frame,x,y,speed\n1,0,0,1\n"))
		w := httptest.NewRecorder()
		server.handleDatasets(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("malformed_csv", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/datasets?name=bad", strings.NewReader("frame,x,y,speed\n1,0,0,not-a-number\n"))
		w := httptest.NewRecorder()
		server.handleDatasets(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("empty_csv", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/datasets?name=empty", strings.NewReader("frame,x,y,speed\n"))
		w := httptest.NewRecorder()
		server.handleDatasets(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/datasets", nil)
		w := httptest.NewRecorder()
		server.handleDatasets(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	})
}

func TestHandleDatasets_List(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	for i := 0; i < 3; i++ {
		if _, err := dbInst.InsertDataset(fmt.Sprintf("set-%d", i), testutil.CrossingDataset(2, 2)); err != nil {
			t.Fatalf("Failed to insert dataset: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/datasets", nil)
	w := httptest.NewRecorder()

	server.handleDatasets(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var infos []db.DatasetInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(infos) != 3 {
		t.Errorf("Expected 3 datasets, got %d", len(infos))
	}
}

func TestHandleComputeRun(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	datasetID := seedDataset(t, dbInst)
	run := seedRun(t, server, datasetID)

	if run.RunID == "" {
		t.Error("Expected a run_id in the response")
	}
	if run.Rows != 2 || run.Cols != 2 {
		t.Errorf("Expected 2x2 grid, got %dx%d", run.Rows, run.Cols)
	}
	if run.FrameCount != 5 {
		t.Errorf("Expected 5 frames, got %d", run.FrameCount)
	}
}

func TestHandleComputeRun_Errors(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	datasetID := seedDataset(t, dbInst)
	square := []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}

	post := func(req computeRequest) *httptest.ResponseRecorder {
		body, _ := json.Marshal(req)
		r := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
		w := httptest.NewRecorder()
		server.handleRuns(w, r)
		return w
	}

	t.Run("unknown_dataset", func(t *testing.T) {
		w := post(computeRequest{DatasetID: 9999, Area: square, GridSize: 0.5, FWHM: 1.0})
		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	})

	t.Run("invalid_area", func(t *testing.T) {
		w := post(computeRequest{DatasetID: datasetID, Area: square[:2], GridSize: 0.5, FWHM: 1.0})
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("invalid_grid_size", func(t *testing.T) {
		w := post(computeRequest{DatasetID: datasetID, Area: square, GridSize: -1, FWHM: 1.0})
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("invalid_fwhm", func(t *testing.T) {
		w := post(computeRequest{DatasetID: datasetID, Area: square, GridSize: 0.5, FWHM: 0})
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})
}

func TestHandleRun(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	run := seedRun(t, server, seedDataset(t, dbInst))

	req := httptest.NewRequest(http.MethodGet, "/api/run?run_id="+run.RunID, nil)
	w := httptest.NewRecorder()

	server.handleRun(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var got db.ProfileRun
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.RunID != run.RunID {
		t.Errorf("Expected run %s, got %s", run.RunID, got.RunID)
	}

	t.Run("missing_run_id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/run", nil)
		w := httptest.NewRecorder()
		server.handleRun(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("unknown_run", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/run?run_id=no-such-run", nil)
		w := httptest.NewRecorder()
		server.handleRun(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	})
}

func TestHandleRunFrame(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	run := seedRun(t, server, seedDataset(t, dbInst))

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/run/frame?run_id=%s&index=0", run.RunID), nil)
	w := httptest.NewRecorder()

	server.handleRunFrame(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var resp struct {
		RunID      string       `json:"run_id"`
		FrameIndex int          `json:"frame_index"`
		Units      string       `json:"units"`
		Cells      [][]*float64 `json:"cells"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Units != "mps" {
		t.Errorf("Expected mps units, got %q", resp.Units)
	}
	if len(resp.Cells) != run.Rows {
		t.Errorf("Expected %d rows, got %d", run.Rows, len(resp.Cells))
	}

	t.Run("out_of_range_index", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			fmt.Sprintf("/api/run/frame?run_id=%s&index=99", run.RunID), nil)
		w := httptest.NewRecorder()
		server.handleRunFrame(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	})

	t.Run("bad_index", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			fmt.Sprintf("/api/run/frame?run_id=%s&index=-1", run.RunID), nil)
		w := httptest.NewRecorder()
		server.handleRunFrame(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})
}

func TestHandleRunFrame_UnitsConversion(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	run := seedRun(t, server, seedDataset(t, dbInst))

	fetch := func(query string) [][]*float64 {
		req := httptest.NewRequest(http.MethodGet,
			fmt.Sprintf("/api/run/frame?run_id=%s&index=0%s", run.RunID, query), nil)
		w := httptest.NewRecorder()
		server.handleRunFrame(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		var resp struct {
			Cells [][]*float64 `json:"cells"`
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		return resp.Cells
	}

	mps := fetch("")
	mph := fetch("&units=mph")

	for i := range mps {
		for j := range mps[i] {
			if mps[i][j] == nil || mph[i][j] == nil {
				continue
			}
			want := units.ConvertSpeed(*mps[i][j], units.MPH)
			if diff := *mph[i][j] - want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("Cell (%d,%d): expected %.6f mph, got %.6f", i, j, want, *mph[i][j])
			}
		}
	}
}

func TestHandleRunFramePNG(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	run := seedRun(t, server, seedDataset(t, dbInst))

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/run/frame.png?run_id=%s&index=0", run.RunID), nil)
	w := httptest.NewRecorder()

	server.handleRunFramePNG(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png content type, got %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("Response body is not a PNG")
	}
}

func TestHandleRunHeatmap(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	run := seedRun(t, server, seedDataset(t, dbInst))

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/run/heatmap?run_id=%s&index=0", run.RunID), nil)
	w := httptest.NewRecorder()

	server.handleRunHeatmap(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("Expected an echarts document in the response")
	}
}

func TestHandleRunAnimation(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	run := seedRun(t, server, seedDataset(t, dbInst))

	req := httptest.NewRequest(http.MethodGet, "/api/run/animation?run_id="+run.RunID, nil)
	w := httptest.NewRecorder()

	server.handleRunAnimation(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("Expected an echarts document in the response")
	}
}

func TestHandleRuns_List(t *testing.T) {
	server, dbInst := setupTestServer(t)
	defer cleanupTestServer(t, dbInst)

	datasetID := seedDataset(t, dbInst)
	seedRun(t, server, datasetID)
	seedRun(t, server, datasetID)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()

	server.handleRuns(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var runs []db.ProfileRun
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(runs))
	}
}
