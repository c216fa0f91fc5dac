package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func createTestRun(id string, started time.Time) *Run {
	return &Run{
		ID:        id,
		Kind:      KindExperiment,
		Source:    "data/raw/" + id + ".mp4",
		Status:    StatusRunning,
		StartedAt: started,
	}
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveRun_CreatesNew(t *testing.T) {
	store := openTestStore(t)
	run := createTestRun("run-1", time.Now())

	if err := store.SaveRun(run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Source != run.Source {
		t.Errorf("expected Source %s, got %s", run.Source, got.Source)
	}
	if got.Status != StatusRunning {
		t.Errorf("expected Status running, got %s", got.Status)
	}
}

func TestSQLiteStore_SaveRun_UpdatesExisting(t *testing.T) {
	store := openTestStore(t)
	start := time.Now()
	run := createTestRun("run-1", start)
	store.SaveRun(run)

	run.Status = StatusFailed
	run.FailedStep = "interpolate"
	run.Error = "Running RIFE failed: exit status 1"
	run.CompletedAt = start.Add(90 * time.Second)
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	got, _ := store.GetRun("run-1")
	if got.Status != StatusFailed || got.FailedStep != "interpolate" {
		t.Errorf("got status %s step %q", got.Status, got.FailedStep)
	}
	if got.Duration() != 90*time.Second {
		t.Errorf("expected duration 90s, got %v", got.Duration())
	}

	runs, _ := store.ListRuns(0)
	if len(runs) != 1 {
		t.Errorf("expected 1 run after update, got %d", len(runs))
	}
}

func TestSQLiteStore_GetRun_ReturnsNilForMissing(t *testing.T) {
	store := openTestStore(t)
	got, err := store.GetRun("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSQLiteStore_RecordRoundTrip(t *testing.T) {
	store := openTestStore(t)
	run := createTestRun("run-1", time.Now())
	run.Status = StatusComplete
	run.Record = json.RawMessage(`{"psnr_mean":38.2,"frame_count":600,"timestamp":"2025-01-01 10:00:00"}`)
	store.SaveRun(run)

	got, _ := store.GetRun("run-1")
	if string(got.Record) != string(run.Record) {
		t.Errorf("record = %s, want %s", got.Record, run.Record)
	}
}

func TestSQLiteStore_ListRuns_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.SaveRun(createTestRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	runs, err := store.ListRuns(3)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if runs[i].ID != want {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, want)
		}
	}

	all, _ := store.ListRuns(0)
	if len(all) != 5 {
		t.Errorf("expected all 5 runs, got %d", len(all))
	}
}

func TestSQLiteStore_SubSecondOrdering(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC)
	store.SaveRun(createTestRun("a", base.Add(500*time.Millisecond)))
	store.SaveRun(createTestRun("b", base.Add(500001*time.Microsecond)))

	runs, _ := store.ListRuns(0)
	if runs[0].ID != "b" {
		t.Errorf("expected b first, got %s", runs[0].ID)
	}
}

func TestSQLiteStore_BenchmarkResults(t *testing.T) {
	store := openTestStore(t)
	run := createTestRun("bench-1", time.Now())
	run.Kind = KindBenchmark
	store.SaveRun(run)

	results := []BenchmarkResult{
		{Resolution: "720p", FPS: 120, RealtimeRatio: 2, Realtime: true, Frames: 300, Elapsed: 2.5, GPU: "RTX 3080"},
		{Resolution: "1080p", FPS: 45, RealtimeRatio: 0.75, Realtime: false, Frames: 300, Elapsed: 6.7, GPU: "RTX 3080"},
	}
	if err := store.SaveBenchmarkResults("bench-1", results); err != nil {
		t.Fatalf("SaveBenchmarkResults failed: %v", err)
	}
	// Saving again replaces rather than appends
	if err := store.SaveBenchmarkResults("bench-1", results); err != nil {
		t.Fatalf("SaveBenchmarkResults failed: %v", err)
	}

	got, err := store.GetBenchmarkResults("bench-1")
	if err != nil {
		t.Fatalf("GetBenchmarkResults failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Resolution != "720p" || !got[0].Realtime || got[1].Realtime {
		t.Errorf("rows = %+v", got)
	}
	if got[0].RunID != "bench-1" {
		t.Errorf("RunID = %q", got[0].RunID)
	}
}

func TestSQLiteStore_DeleteRun_CascadesBenchmarks(t *testing.T) {
	store := openTestStore(t)
	store.SaveRun(createTestRun("bench-1", time.Now()))
	store.SaveBenchmarkResults("bench-1", []BenchmarkResult{{Resolution: "720p"}})

	if err := store.DeleteRun("bench-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	got, _ := store.GetBenchmarkResults("bench-1")
	if len(got) != 0 {
		t.Errorf("expected cascade delete, got %d rows", len(got))
	}
	// Idempotent
	if err := store.DeleteRun("bench-1"); err != nil {
		t.Errorf("second delete failed: %v", err)
	}
}

func TestSQLiteStore_UpdateKeepsBenchmarks(t *testing.T) {
	store := openTestStore(t)
	run := createTestRun("bench-1", time.Now())
	store.SaveRun(run)
	store.SaveBenchmarkResults("bench-1", []BenchmarkResult{{Resolution: "720p"}})

	run.Status = StatusComplete
	run.CompletedAt = time.Now()
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	got, _ := store.GetBenchmarkResults("bench-1")
	if len(got) != 1 {
		t.Errorf("expected benchmark rows to survive update, got %d", len(got))
	}
}

func TestSQLiteStore_MarkInterrupted(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	store.SaveRun(createTestRun("running-1", now))
	store.SaveRun(createTestRun("running-2", now))
	done := createTestRun("done", now)
	done.Status = StatusComplete
	store.SaveRun(done)

	count, err := store.MarkInterrupted()
	if err != nil {
		t.Fatalf("MarkInterrupted failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 runs changed, got %d", count)
	}

	got, _ := store.GetRun("running-1")
	if got.Status != StatusFailed || got.Error != "interrupted" {
		t.Errorf("got status %s error %q", got.Status, got.Error)
	}
	if got.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
	got, _ = store.GetRun("done")
	if got.Status != StatusComplete {
		t.Errorf("complete run changed to %s", got.Status)
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	store := openTestStore(t)

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats on empty store failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	statuses := []Status{StatusRunning, StatusComplete, StatusComplete, StatusFailed, StatusCancelled}
	for i, st := range statuses {
		run := createTestRun(fmt.Sprintf("r%d", i), time.Now())
		run.Status = st
		store.SaveRun(run)
	}

	stats, _ = store.Stats()
	want := Stats{Total: 5, Running: 1, Complete: 2, Failed: 1, Cancelled: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store1.SaveRun(createTestRun("persist", time.Now()))
	store1.Close()

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	if got, _ := store2.GetRun("persist"); got == nil {
		t.Fatal("run not persisted")
	}
}

func TestSQLiteStore_RejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	store.db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion+1)
	store.Close()

	if _, err := NewSQLiteStore(dbPath); err == nil {
		t.Error("expected error opening a newer schema")
	}
}

func TestSQLiteStore_ConcurrentWriters(t *testing.T) {
	store := openTestStore(t)

	const workers, perWorker = 8, 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := store.SaveRun(createTestRun(fmt.Sprintf("w%d-%d", w, i), time.Now())); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	stats, _ := store.Stats()
	if stats.Total != workers*perWorker {
		t.Errorf("expected %d runs, got %d", workers*perWorker, stats.Total)
	}
}

func TestSQLiteStore_WALMode(t *testing.T) {
	store := openTestStore(t)

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL mode, got %s", mode)
	}
}

func TestSQLiteStore_ForeignKeysOnEveryConnection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Hold each connection so the pool has to open a fresh one
	var conns []*sql.Conn
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < 3; i++ {
		conn, err := store.db.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		conns = append(conns, conn)

		var on int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on); err != nil {
			t.Fatalf("conn %d: query foreign_keys: %v", i, err)
		}
		if on != 1 {
			t.Errorf("conn %d: foreign_keys = %d, want 1", i, on)
		}
	}
}
