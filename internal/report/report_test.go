package report

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func sampleRecord() *Record {
	return NewRecord().
		Set("psnr_mean", 38.25).
		Set("psnr_std", 1.5).
		Set("ssim_mean", 0.975).
		Set("frame_count", 600).
		Set("elapsed_time", 12.5).
		Set("processing_fps", 24.0).
		Set("source_video", "data/raw/gameplay.mp4").
		Set("scale", 0.5)
}

func TestRecordOrder(t *testing.T) {
	r := NewRecord().Set("b", 1).Set("a", 2).Set("c", 3)
	r.Set("b", 10)
	if got := strings.Join(r.Keys(), ","); got != "b,a,c" {
		t.Errorf("keys = %s, want b,a,c", got)
	}
	if v, _ := r.Get("b"); v != 10 {
		t.Errorf("b = %v, want 10", v)
	}

	r.Delete("a")
	if got := strings.Join(r.Keys(), ","); got != "b,c" {
		t.Errorf("keys after delete = %s, want b,c", got)
	}
	r.Set("a", 5)
	if got := strings.Join(r.Keys(), ","); got != "b,c,a" {
		t.Errorf("keys after re-add = %s, want b,c,a", got)
	}

	r.SetDefault("b", 99).SetDefault("d", 4)
	if v, _ := r.Get("b"); v != 10 {
		t.Errorf("SetDefault overwrote b: %v", v)
	}
	if _, ok := r.Get("d"); !ok {
		t.Error("SetDefault did not add d")
	}
}

func TestMarshalJSONKeepsOrder(t *testing.T) {
	data, err := json.Marshal(NewRecord().Set("z", 1).Set("a", "x").Set("m", true))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"z":1,"a":"x","m":true}` {
		t.Errorf("json = %s", data)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec := sampleRecord()
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)

	stamped, paths, err := Save(rec, dir, "metrics", now)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, ok := rec.Get(TimestampKey); ok {
		t.Error("Save must not modify the input record")
	}

	wantKeys := append(sampleRecord().Keys(), TimestampKey)
	if got := strings.Join(stamped.Keys(), ","); got != strings.Join(wantKeys, ",") {
		t.Errorf("stamped keys = %s", got)
	}
	if ts, _ := stamped.Get(TimestampKey); ts != "2025-03-14 09:26:53" {
		t.Errorf("timestamp = %v", ts)
	}

	fromJSON, err := ReadJSON(paths.JSON)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	fromCSV, err := ReadCSV(paths.CSV)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}

	for name, got := range map[string]*Record{"json": fromJSON, "csv": fromCSV} {
		if strings.Join(got.Keys(), ",") != strings.Join(wantKeys, ",") {
			t.Errorf("%s keys = %v, want %v", name, got.Keys(), wantKeys)
			continue
		}
		for _, f := range stamped.Fields() {
			v, _ := got.Get(f.Key)
			if FormatValue(v) != FormatValue(f.Value) {
				t.Errorf("%s %s = %q, want %q", name, f.Key, FormatValue(v), FormatValue(f.Value))
			}
		}
	}
}

func TestSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	if _, _, err := Save(NewRecord().Set("a", 1).Set("b", 2), dir, "r", now); err != nil {
		t.Fatal(err)
	}
	_, paths, err := Save(NewRecord().Set("c", 3), dir, "r", now)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadCSV(paths.CSV)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got.Keys(), ",") != "c,timestamp" {
		t.Errorf("keys = %v, want c,timestamp", got.Keys())
	}
}

func TestCSVQuoting(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecord().Set("source_video", `clips/a,b "final".mp4`)
	_, paths, err := Save(rec, dir, "q", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadCSV(paths.CSV)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.Get("source_video"); v != `clips/a,b "final".mp4` {
		t.Errorf("source_video = %q", v)
	}
}

func TestReadCSVRejectsExtraRows(t *testing.T) {
	path := t.TempDir() + "/bad.csv"
	if err := os.WriteFile(path, []byte("a,b\n1,2\n3,4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCSV(path); err == nil {
		t.Error("expected error for multiple data rows")
	}
}

func TestUnmarshalJSONRejectsArray(t *testing.T) {
	if err := json.Unmarshal([]byte(`[1,2]`), NewRecord()); err == nil {
		t.Error("expected error for non-object JSON")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{1.5, "1.5"},
		{600.0, "600"},
		{600, "600"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
