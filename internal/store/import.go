package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/rifelab/internal/logger"
)

// reportNamespace derives stable run IDs for imported report files, so
// importing the same directory twice updates rather than duplicates.
var reportNamespace = uuid.MustParse("6f1c9a2e-3b7d-4e8a-9c55-0d2f7e4b1a63")

// ImportResult contains the outcome of an import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// reportTimestampLayout matches the timestamp field of saved reports.
const reportTimestampLayout = "2006-01-02 15:04:05"

// ImportReports records every JSON report in dir as a completed metrics
// run. Files that are not flat JSON objects are skipped and logged.
func ImportReports(s Store, dir string, log *logger.Logger) (*ImportResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	result := &ImportResult{}
	for _, path := range paths {
		run, err := runFromReport(path)
		if err != nil {
			log.Warn("Skipping report", "path", path, "error", err)
			result.Skipped++
			continue
		}
		if err := s.SaveRun(run); err != nil {
			return result, fmt.Errorf("save %s: %w", path, err)
		}
		result.Imported++
	}

	log.Info("Import complete", "imported", result.Imported, "skipped", result.Skipped, "dir", dir)
	return result, nil
}

func runFromReport(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	run := &Run{
		ID:     uuid.NewSHA1(reportNamespace, []byte(abs)).String(),
		Kind:   KindMetrics,
		Status: StatusComplete,
		Record: json.RawMessage(data),
	}
	if src, ok := fields["source_video"].(string); ok {
		run.Source = src
	}

	// Fall back to the file time when the report has no timestamp
	if ts, ok := fields["timestamp"].(string); ok {
		if t, err := time.ParseInLocation(reportTimestampLayout, ts, time.Local); err == nil {
			run.StartedAt, run.CompletedAt = t, t
		}
	}
	if run.StartedAt.IsZero() {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		run.StartedAt, run.CompletedAt = st.ModTime(), st.ModTime()
	}
	return run, nil
}

// CleanupDBFiles removes SQLite database files (main, WAL, and SHM).
func CleanupDBFiles(dbPath string) {
	os.Remove(dbPath)
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
}

// InitStore opens the history database and fails any runs a previous
// process left in the running state.
func InitStore(dbPath string, log *logger.Logger) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	count, err := s.MarkInterrupted()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("mark interrupted runs: %w", err)
	}
	if count > 0 {
		log.Info("Marked interrupted runs as failed", "count", count)
	}
	return s, nil
}
