// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/madras-data/crowdflow.report/internal/trajectory"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// CrossingDataset builds a small synthetic dataset: agents walking diagonally
// across a unit-square area over the given number of frames. Useful wherever
// a test needs plausible trajectory input without caring about exact values.
func CrossingDataset(frames, agents int) *trajectory.Dataset {
	ds := &trajectory.Dataset{}
	for f := 0; f < frames; f++ {
		progress := float64(f) / float64(frames)
		for a := 0; a < agents; a++ {
			offset := float64(a) / float64(agents+1)
			ds.Records = append(ds.Records, trajectory.Record{
				Frame: int64(f + 1),
				Agent: int64(a + 1),
				X:     progress,
				Y:     offset + progress*0.1,
				Speed: 1.0 + 0.2*float64(a),
			})
		}
	}
	return ds
}
