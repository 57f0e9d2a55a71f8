// Package api exposes trajectory datasets and speed-profile runs over HTTP.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/madras-data/crowdflow.report/internal/db"
	"github.com/madras-data/crowdflow.report/internal/units"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"
const colorYellow = "\033[33m"

type Server struct {
	db    *db.DB
	units string
}

// NewServer wires the API against the profile database. displayUnits sets the
// default speed units for responses; individual requests may override it with
// a units query parameter.
func NewServer(database *db.DB, displayUnits string) *Server {
	if !units.IsValid(displayUnits) {
		displayUnits = units.MPS
	}
	return &Server{
		db:    database,
		units: displayUnits,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LogMux wraps a handler with request logging: method, path, status and
// elapsed milliseconds.
func LogMux(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("%s %s %s%s%s %.2fms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API route table. Admin/debug routes are attached by
// the caller so tests can run without the debug surface.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/datasets", s.handleDatasets)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/run/frame", s.handleRunFrame)
	mux.HandleFunc("/api/run/frame.png", s.handleRunFramePNG)
	mux.HandleFunc("/api/run/heatmap", s.handleRunHeatmap)
	mux.HandleFunc("/api/run/animation", s.handleRunAnimation)
	mux.HandleFunc("/api/run/live", s.handleRunLive)
	return mux
}
