package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimestampKey is appended to every saved record.
const TimestampKey = "timestamp"

// TimestampLayout is the local wall-clock format of the timestamp field.
const TimestampLayout = "2006-01-02 15:04:05"

// Paths are the files a saved record was written to.
type Paths struct {
	JSON string
	CSV  string
}

// Save stamps a copy of rec with now and writes <dir>/<name>.json and
// <dir>/<name>.csv, overwriting existing files. rec itself is not modified.
func Save(rec *Record, dir, name string, now time.Time) (*Record, Paths, error) {
	stamped := rec.Clone()
	stamped.Delete(TimestampKey)
	stamped.Set(TimestampKey, now.Format(TimestampLayout))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, Paths{}, fmt.Errorf("create report directory: %w", err)
	}
	p := Paths{
		JSON: filepath.Join(dir, name+".json"),
		CSV:  filepath.Join(dir, name+".csv"),
	}
	if err := WriteJSON(p.JSON, stamped); err != nil {
		return nil, Paths{}, err
	}
	if err := WriteCSV(p.CSV, stamped); err != nil {
		return nil, Paths{}, err
	}
	return stamped, p, nil
}

// WriteJSON writes rec as an indented JSON object.
func WriteJSON(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes a header row of keys and one row of values.
func WriteCSV(path string, rec *Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	row := make([]string, 0, rec.Len())
	for _, fld := range rec.fields {
		row = append(row, FormatValue(fld.Value))
	}

	w := csv.NewWriter(f)
	if err := w.Write(rec.Keys()); err != nil {
		return err
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// ReadJSON loads a record written by WriteJSON.
func ReadJSON(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec := NewRecord()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// ReadCSV loads a record written by WriteCSV. Values come back as strings.
func ReadCSV(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) != 2 {
		return nil, fmt.Errorf("parse %s: want header and one row, got %d rows", path, len(rows))
	}
	rec := NewRecord()
	for i, k := range rows[0] {
		rec.Set(k, rows[1][i])
	}
	return rec, nil
}
