// Package report holds the ordered result record of a run and writes it as
// JSON and single-row CSV with the same key order.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field is one key/value pair of a Record.
type Field struct {
	Key   string
	Value any
}

// Record is an insertion-ordered mapping from name to value. Setting an
// existing key replaces its value in place.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{index: make(map[string]int)}
}

// Set adds or replaces key.
func (r *Record) Set(key string, value any) *Record {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[key]; ok {
		r.fields[i].Value = value
		return r
	}
	r.index[key] = len(r.fields)
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// SetDefault adds key only if it is not present yet.
func (r *Record) SetDefault(key string, value any) *Record {
	if _, ok := r.index[key]; !ok {
		r.Set(key, value)
	}
	return r
}

// Delete removes key, keeping the order of the rest.
func (r *Record) Delete(key string) {
	i, ok := r.index[key]
	if !ok {
		return
	}
	r.fields = append(r.fields[:i], r.fields[i+1:]...)
	delete(r.index, key)
	for j := i; j < len(r.fields); j++ {
		r.index[r.fields[j].Key] = j
	}
}

// Get returns the value for key.
func (r *Record) Get(key string) (any, bool) {
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Keys returns the keys in order.
func (r *Record) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the fields in order.
func (r *Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

func (r *Record) Len() int {
	return len(r.fields)
}

// Clone returns an independent copy.
func (r *Record) Clone() *Record {
	c := NewRecord()
	for _, f := range r.fields {
		c.Set(f.Key, f.Value)
	}
	return c
}

// Merge sets every field of other on r, in other's order.
func (r *Record) Merge(other *Record) *Record {
	for _, f := range other.fields {
		r.Set(f.Key, f.Value)
	}
	return r
}

// MarshalJSON writes the fields as a JSON object in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object, keeping key order. Numbers are
// decoded as float64, matching encoding/json.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a JSON object")
	}

	*r = Record{index: make(map[string]int)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		r.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// FormatValue renders a value the way it appears in the CSV row.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
