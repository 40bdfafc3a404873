package normalize

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
)

// AbsentValue marks a field that the source payload did not carry.
type AbsentValue struct{}

// Absent is stored for every column a record lacks, so column sets stay
// complete across rows.
var Absent = AbsentValue{}

func (AbsentValue) String() string { return "<absent>" }

// MarshalJSON encodes the marker as null.
func (AbsentValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// IsAbsent reports whether v is the absent marker.
func IsAbsent(v any) bool {
	_, ok := v.(AbsentValue)
	return ok
}

// Record is an ordered field->value mapping. Numbers are stored as float64
// alongside their source text, which Decimal reads.
type Record struct {
	keys   []string
	values map[string]any
	raw    map[string]string
}

func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// RecordOf builds a record from alternating key, value pairs.
func RecordOf(kv ...any) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return r
}

// Set stores v under key. New keys are appended.
func (r *Record) Set(key string, v any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
	delete(r.raw, key)
}

func (r *Record) setNumber(key, raw string, f float64) {
	r.Set(key, f)
	if r.raw == nil {
		r.raw = make(map[string]string)
	}
	r.raw[key] = raw
}

// Prepend stores v under key and moves key to the front.
func (r *Record) Prepend(key string, v any) {
	if _, ok := r.values[key]; ok {
		r.keys = slices.DeleteFunc(r.keys, func(k string) bool { return k == key })
	}
	r.keys = append([]string{key}, r.keys...)
	r.values[key] = v
	delete(r.raw, key)
}

// Get returns the value for key. Absent fields report false.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	if !ok || IsAbsent(v) {
		return nil, false
	}
	return v, true
}

// Value returns the stored value, which may be Absent.
func (r *Record) Value(key string) any {
	v, ok := r.values[key]
	if !ok {
		return Absent
	}
	return v
}

func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

func (r *Record) Keys() []string { return slices.Clone(r.keys) }

func (r *Record) Len() int { return len(r.keys) }

// String returns the field formatted as text, or "" when absent or null.
func (r *Record) String(key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Float returns a numeric field.
func (r *Record) Float(key string) (float64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

// Decimal returns a numeric field as an exact decimal, parsed from the
// number's source text when the record came from a payload.
func (r *Record) Decimal(key string) (*apd.Decimal, error) {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return nil, fmt.Errorf("field %q is absent", key)
	}
	if raw, ok := r.raw[key]; ok {
		d, _, err := apd.NewFromString(raw)
		return d, err
	}
	return toDecimal(v)
}

// Time parses a timestamp field.
func (r *Record) Time(key string) (time.Time, error) {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("field %q is absent", key)
	}
	return parseTime(v)
}

// Map returns the present fields as a plain map.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		if v := r.values[k]; !IsAbsent(v) {
			out[k] = v
		}
	}
	return out
}

func (r *Record) Clone() *Record {
	return &Record{keys: slices.Clone(r.keys), values: maps.Clone(r.values), raw: maps.Clone(r.raw)}
}

// project returns a copy ordered by columns, filling gaps with Absent.
func (r *Record) project(columns []string) *Record {
	out := &Record{keys: slices.Clone(columns), values: make(map[string]any, len(columns))}
	for _, c := range columns {
		out.values[c] = r.Value(c)
		if raw, ok := r.raw[c]; ok {
			if out.raw == nil {
				out.raw = make(map[string]string)
			}
			out.raw[c] = raw
		}
	}
	return out
}

// MarshalJSON encodes the record as an object in key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := sonic.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := sonic.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func toDecimal(v any) (*apd.Decimal, error) {
	switch x := v.(type) {
	case float64:
		d, _, err := apd.NewFromString(strconv.FormatFloat(x, 'f', -1, 64))
		return d, err
	case string:
		d, _, err := apd.NewFromString(x)
		return d, err
	case bool:
		return nil, fmt.Errorf("cannot convert bool to decimal")
	}
	return nil, fmt.Errorf("cannot convert %T to decimal", v)
}
