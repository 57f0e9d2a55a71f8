package trajectory

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Column names recognized in the CSV header. The id column is optional; all
// others are required.
const (
	colFrame = "frame"
	colID    = "id"
	colX     = "x"
	colY     = "y"
	colSpeed = "speed"
)

// ReadCSV parses a trajectory log. The first row must be a header naming at
// least frame, x, y and speed columns (any order, extra columns ignored).
// Rows with non-numeric cells or negative speeds are rejected with the
// offending line number in the error.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty trajectory file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colFrame, colX, colY, colSpeed} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q in header %v", required, header)
		}
	}
	idCol, hasID := cols[colID]

	ds := &Dataset{}
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		frame, err := strconv.ParseInt(strings.TrimSpace(row[cols[colFrame]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad frame value %q", line, row[cols[colFrame]])
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(row[cols[colX]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad x value %q", line, row[cols[colX]])
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(row[cols[colY]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad y value %q", line, row[cols[colY]])
		}
		speed, err := strconv.ParseFloat(strings.TrimSpace(row[cols[colSpeed]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad speed value %q", line, row[cols[colSpeed]])
		}
		if speed < 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
			return nil, fmt.Errorf("line %d: speed must be a non-negative real, got %v", line, speed)
		}

		var agent int64
		if hasID {
			agent, err = strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad id value %q", line, row[idCol])
			}
		}

		ds.Records = append(ds.Records, Record{
			Frame: frame,
			Agent: agent,
			X:     x,
			Y:     y,
			Speed: speed,
		})
	}

	return ds, nil
}

// LoadCSV reads a trajectory log from disk.
func LoadCSV(path string) (*Dataset, error) {
	cleanPath := filepath.Clean(path)
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trajectory file: %w", err)
	}
	defer f.Close()

	ds, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return ds, nil
}
