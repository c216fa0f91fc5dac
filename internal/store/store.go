// Package store keeps the history of experiment, metrics and benchmark runs
// in SQLite.
package store

import (
	"encoding/json"
	"time"
)

// Kind is the command that produced a run.
type Kind string

const (
	KindExperiment  Kind = "experiment"
	KindMetrics     Kind = "metrics"
	KindBenchmark   Kind = "benchmark"
	KindInterpolate Kind = "interpolate"
)

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one recorded invocation.
type Run struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Source string `json:"source"`
	Status Status `json:"status"`

	// FailedStep names the pipeline step that halted the run
	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`

	// Record is the saved report, as written to the JSON file
	Record json.RawMessage `json:"record,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Duration is the wall-clock length of a finished run, or 0.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// BenchmarkResult is one resolution row of a benchmark run.
type BenchmarkResult struct {
	RunID         string  `json:"run_id"`
	Resolution    string  `json:"resolution"`
	FPS           float64 `json:"fps"`
	RealtimeRatio float64 `json:"realtime_ratio"`
	Realtime      bool    `json:"realtime"`
	Frames        int     `json:"frames"`
	Elapsed       float64 `json:"elapsed"`
	GPU           string  `json:"gpu"`
}

// Store defines the persistence interface for run history.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveRun persists a run. If the run already exists (by ID), it is updated.
	SaveRun(run *Run) error

	// GetRun retrieves a run by ID. Returns nil if not found.
	GetRun(id string) (*Run, error)

	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(limit int) ([]*Run, error)

	// DeleteRun removes a run and its benchmark rows.
	DeleteRun(id string) error

	// SaveBenchmarkResults replaces the benchmark rows of a run.
	SaveBenchmarkResults(runID string, results []BenchmarkResult) error

	// GetBenchmarkResults returns a run's rows in insertion order.
	GetBenchmarkResults(runID string) ([]BenchmarkResult, error)

	// MarkInterrupted fails every run still marked running. Used on startup
	// to account for processes that were killed. Returns the number of runs changed.
	MarkInterrupted() (int, error)

	// Stats returns run counts.
	Stats() (Stats, error)

	Close() error
}

// Stats holds run counts by status.
type Stats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Complete  int `json:"complete"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
