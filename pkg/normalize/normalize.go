// Package normalize maps raw service JSON onto records with a stable key set.
//
// Every endpoint declares a Shape. The payload is walked with gjson so source
// key order survives, nested objects are flattened to dotted keys, and field
// names are canonicalized through the declared Fields and Aliases. Records
// missing a column carry the Absent marker, so tabular output always has a
// complete column set.
//
// Example usage:
//
//	res, err := normalize.Normalize("quote", body, normalize.Spec{Shape: normalize.ShapeFlatObject}, core.FormatTabular)
//	price, _ := res.Table.Cell(0, "latestPrice")
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"iexcloud/pkg/core"
)

// Shape classifies how a payload is laid out.
type Shape string

const (
	// ShapeFlatObject is a single JSON object.
	ShapeFlatObject Shape = "flat_object"
	// ShapeObjectArray is a JSON array of objects, kept in source order.
	ShapeObjectArray Shape = "object_array"
	// ShapeKeyedBySymbol is an object keyed by symbol; the key becomes a symbol field.
	ShapeKeyedBySymbol Shape = "keyed_by_symbol"
	// ShapeTimeSeries is an array, or object keyed by timestamp, of timestamped points.
	ShapeTimeSeries Shape = "time_series"
	// ShapeScalar is a bare JSON number, string or boolean.
	ShapeScalar Shape = "scalar"
)

// SymbolField is the field the keyed_by_symbol shape promotes keys into.
const SymbolField = "symbol"

// Spec holds the normalization hints of one endpoint.
type Spec struct {
	Shape Shape
	// ResultPath is a gjson path unwrapping the payload before shape handling.
	ResultPath string
	// Fields are canonical names; source keys matching case-insensitively take this spelling.
	Fields []string
	// Aliases map a source key (any case) to a canonical name.
	Aliases map[string]string
	// IndexField names the tabular index column.
	IndexField string
	// TimeField names the timestamp of a time series point. TimeSubField, when
	// set, holds a time of day combined with TimeField.
	TimeField    string
	TimeSubField string
	// ItemPath unwraps each value of a keyed_by_symbol payload, e.g. "quote".
	ItemPath string
	// ItemShape is the shape of each keyed value: flat_object (default),
	// object_array or time_series. Time series items use TimeField and
	// TimeSubField and are sorted per symbol.
	ItemShape Shape
	// ValueField names the single field of a scalar payload, and of scalar
	// elements of an object_array payload such as a list of peer symbols.
	ValueField string
}

// Result is a normalized payload.
type Result struct {
	Endpoint string
	Shape    Shape
	Format   core.OutputFormat
	Columns  []string
	Records  []*Record
	// Times holds the parsed timestamp of each record for time series.
	Times []time.Time
	// Table is set in tabular format.
	Table *Table

	spec Spec
}

func (r *Result) Len() int { return len(r.Records) }

func (r *Result) Empty() bool { return len(r.Records) == 0 }

// First returns the first record, or nil.
func (r *Result) First() *Record {
	if len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

// Normalize converts raw into a Result according to spec and format.
func Normalize(endpoint string, raw []byte, spec Spec, format core.OutputFormat) (*Result, error) {
	n := &normalizer{endpoint: endpoint, spec: spec}
	n.buildLookup()

	res := &Result{Endpoint: endpoint, Shape: spec.Shape, Format: format, spec: spec}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return res.assemble(nil, nil), nil
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, core.NewMalformedError(endpoint, "response is not valid JSON").WithCode(core.ErrCodeMalformed)
	}

	root, empty, err := locate(endpoint, gjson.ParseBytes(trimmed), spec)
	if err != nil {
		return nil, err
	}
	if empty {
		return res.assemble(nil, nil), nil
	}

	var (
		records []*Record
		times   []time.Time
	)
	switch spec.Shape {
	case ShapeFlatObject:
		records, err = n.flatObject(root)
	case ShapeObjectArray:
		records, err = n.objectArray(root)
	case ShapeKeyedBySymbol:
		records, times, err = n.keyedBySymbol(root)
	case ShapeTimeSeries:
		records, times, err = n.timeSeries(root)
	case ShapeScalar:
		records, err = n.scalar(root)
	default:
		return nil, core.NewMalformedError(endpoint, fmt.Sprintf("unknown shape %q", spec.Shape))
	}
	if err != nil {
		return nil, err
	}
	return res.assemble(records, times), nil
}

// IsEmptyPayload reports whether raw carries no data: an empty body, null, a
// missing value at spec.ResultPath, or an empty container of the kind the
// shape expects. An empty container of the other kind, such as [] for a
// flat object, is a shape mismatch. Invalid JSON is not empty; Normalize
// reports it.
func IsEmptyPayload(endpoint string, raw []byte, spec Spec) (bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true, nil
	}
	if !gjson.ValidBytes(trimmed) {
		return false, nil
	}
	_, empty, err := locate(endpoint, gjson.ParseBytes(trimmed), spec)
	return empty, err
}

// locate unwraps spec.ResultPath and classifies emptiness. The wrapper around
// ResultPath has no declared shape, so any empty wrapper means no data.
func locate(endpoint string, root gjson.Result, spec Spec) (gjson.Result, bool, error) {
	if spec.ResultPath != "" && (root.IsObject() || root.IsArray()) {
		if isEmptyValue(root) {
			return root, true, nil
		}
		root = root.Get(spec.ResultPath)
		if !root.Exists() {
			return root, true, nil
		}
	}
	if !isEmptyValue(root) {
		return root, false, nil
	}
	if root.Type == gjson.Null || acceptsEmpty(spec.Shape, root) {
		return root, true, nil
	}
	return root, false, shapeMismatch(endpoint, spec.Shape, "empty "+kind(root))
}

// acceptsEmpty reports whether an empty container of v's kind is a valid
// empty payload for shape.
func acceptsEmpty(shape Shape, v gjson.Result) bool {
	switch {
	case v.IsArray():
		return shape == ShapeObjectArray || shape == ShapeTimeSeries
	case v.IsObject():
		return shape == ShapeFlatObject || shape == ShapeKeyedBySymbol || shape == ShapeTimeSeries
	}
	return false
}

func expected(shape Shape) string {
	switch shape {
	case ShapeFlatObject:
		return "object"
	case ShapeObjectArray:
		return "array"
	case ShapeKeyedBySymbol:
		return "object keyed by symbol"
	case ShapeTimeSeries:
		return "array or object of timestamped points"
	case ShapeScalar:
		return "scalar"
	}
	return "shape " + string(shape)
}

func shapeMismatch(endpoint string, shape Shape, got string) *core.Error {
	return core.NewMalformedError(endpoint,
		fmt.Sprintf("expected %s for shape %s, got %s", expected(shape), shape, got)).
		WithCode(core.ErrCodeShapeMismatch)
}

func isEmptyValue(v gjson.Result) bool {
	switch {
	case v.Type == gjson.Null:
		return true
	case v.IsArray():
		return len(v.Array()) == 0
	case v.IsObject():
		empty := true
		v.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return empty
	}
	return false
}

type normalizer struct {
	endpoint string
	spec     Spec
	lookup   map[string]string
}

func (n *normalizer) buildLookup() {
	n.lookup = make(map[string]string, len(n.spec.Fields)+len(n.spec.Aliases))
	for _, f := range n.spec.Fields {
		n.lookup[strings.ToLower(f)] = f
	}
	for src, dst := range n.spec.Aliases {
		n.lookup[strings.ToLower(src)] = dst
	}
}

func (n *normalizer) canonical(key string) string {
	if c, ok := n.lookup[strings.ToLower(key)]; ok {
		return c
	}
	return key
}

func (n *normalizer) mismatch(want string, got gjson.Result) error {
	return core.NewMalformedError(n.endpoint,
		fmt.Sprintf("expected %s for shape %s, got %s", want, n.spec.Shape, kind(got))).
		WithCode(core.ErrCodeShapeMismatch)
}

// setValue stores v under key, keeping the source text of numbers so exact
// decimals survive the float conversion.
func setValue(rec *Record, key string, v gjson.Result) {
	if v.Type == gjson.Number {
		rec.setNumber(key, v.Raw, v.Num)
		return
	}
	rec.Set(key, toValue(v))
}

func kind(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "array"
	case v.IsObject():
		return "object"
	}
	switch v.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	}
	return "null"
}

func (n *normalizer) flatObject(root gjson.Result) ([]*Record, error) {
	if !root.IsObject() {
		return nil, n.mismatch("object", root)
	}
	return []*Record{n.record(root)}, nil
}

func (n *normalizer) objectArray(root gjson.Result) ([]*Record, error) {
	if !root.IsArray() {
		return nil, n.mismatch("array", root)
	}
	items := root.Array()
	records := make([]*Record, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			if n.spec.ValueField != "" && !item.IsArray() {
				rec := NewRecord()
				setValue(rec, n.spec.ValueField, item)
				records = append(records, rec)
				continue
			}
			return nil, core.NewMalformedError(n.endpoint,
				fmt.Sprintf("element %d: expected object, got %s", i, kind(item))).
				WithCode(core.ErrCodeShapeMismatch)
		}
		records = append(records, n.record(item))
	}
	return records, nil
}

func (n *normalizer) keyedBySymbol(root gjson.Result) ([]*Record, []time.Time, error) {
	if !root.IsObject() {
		return nil, nil, n.mismatch("object keyed by symbol", root)
	}
	item := n.spec.ItemShape
	if item == "" {
		item = ShapeFlatObject
	}
	var (
		records []*Record
		times   []time.Time
		err     error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		symbol := key.String()
		if n.spec.ItemPath != "" {
			value = value.Get(n.spec.ItemPath)
			if !value.Exists() || value.Type == gjson.Null {
				return true
			}
		}
		if isEmptyValue(value) {
			if !acceptsEmpty(item, value) {
				err = shapeMismatch(n.endpoint, item, "empty "+kind(value)+" under "+symbol)
				return false
			}
			return true
		}
		switch {
		case item == ShapeTimeSeries:
			recs, ts, e := n.timeSeries(value)
			if e != nil {
				err = underSymbol(e, symbol)
				return false
			}
			for i, rec := range recs {
				rec.Prepend(SymbolField, symbol)
				records = append(records, rec)
				times = append(times, ts[i])
			}
		case item == ShapeObjectArray && value.IsArray():
			for _, elem := range value.Array() {
				var rec *Record
				switch {
				case elem.IsObject():
					rec = n.record(elem)
				case n.spec.ValueField != "" && !elem.IsArray():
					rec = NewRecord()
					setValue(rec, n.spec.ValueField, elem)
				default:
					err = n.mismatch("array of objects under "+symbol, elem)
					return false
				}
				rec.Prepend(SymbolField, symbol)
				records = append(records, rec)
			}
		case item == ShapeFlatObject && value.IsObject():
			rec := n.record(value)
			rec.Prepend(SymbolField, symbol)
			records = append(records, rec)
		default:
			err = shapeMismatch(n.endpoint, item, kind(value)+" under "+symbol)
			return false
		}
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	if len(times) != len(records) {
		times = nil
	}
	return records, times, nil
}

func underSymbol(err error, symbol string) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		ce.Message = symbol + ": " + ce.Message
		return ce
	}
	return fmt.Errorf("%s: %w", symbol, err)
}

func (n *normalizer) timeSeries(root gjson.Result) ([]*Record, []time.Time, error) {
	if n.spec.TimeField == "" {
		return nil, nil, core.NewMalformedError(n.endpoint, "time series without a time field")
	}

	var records []*Record
	switch {
	case root.IsArray():
		for i, item := range root.Array() {
			if !item.IsObject() {
				return nil, nil, core.NewMalformedError(n.endpoint,
					fmt.Sprintf("point %d: expected object, got %s", i, kind(item))).
					WithCode(core.ErrCodeShapeMismatch)
			}
			records = append(records, n.record(item))
		}
	case root.IsObject():
		var err error
		root.ForEach(func(key, value gjson.Result) bool {
			if !value.IsObject() {
				err = n.mismatch("object of timestamped points", value)
				return false
			}
			rec := n.record(value)
			if !rec.Has(n.spec.TimeField) {
				rec.Prepend(n.spec.TimeField, key.String())
			}
			records = append(records, rec)
			return true
		})
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, n.mismatch("array or object of timestamped points", root)
	}

	times := make([]time.Time, len(records))
	for i, rec := range records {
		ts, err := n.timestamp(rec)
		if err != nil {
			return nil, nil, core.NewMalformedError(n.endpoint, fmt.Sprintf("point %d: %v", i, err))
		}
		times[i] = ts
	}

	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return times[order[a]].Before(times[order[b]]) })

	sortedRecs := make([]*Record, len(records))
	sortedTimes := make([]time.Time, len(records))
	for i, j := range order {
		sortedRecs[i] = records[j]
		sortedTimes[i] = times[j]
		if i > 0 && sortedTimes[i].Equal(sortedTimes[i-1]) {
			return nil, nil, core.NewMalformedError(n.endpoint,
				"duplicate timestamp "+sortedTimes[i].Format(time.RFC3339)).
				WithCode(core.ErrCodeDuplicateTime)
		}
	}
	return sortedRecs, sortedTimes, nil
}

func (n *normalizer) timestamp(rec *Record) (time.Time, error) {
	v, ok := rec.Get(n.spec.TimeField)
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("missing %q", n.spec.TimeField)
	}
	if n.spec.TimeSubField != "" {
		if sub, ok := rec.Get(n.spec.TimeSubField); ok && sub != nil {
			date, err := parseTime(v)
			if err != nil {
				return time.Time{}, err
			}
			clock, err := time.Parse("15:04", fmt.Sprint(sub))
			if err != nil {
				return time.Time{}, fmt.Errorf("parse %q: %w", n.spec.TimeSubField, err)
			}
			return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC), nil
		}
	}
	return parseTime(v)
}

func (n *normalizer) scalar(root gjson.Result) ([]*Record, error) {
	if root.IsObject() || root.IsArray() {
		return nil, n.mismatch("scalar", root)
	}
	field := n.spec.ValueField
	if field == "" {
		field = "value"
	}
	rec := NewRecord()
	setValue(rec, field, root)
	return []*Record{rec}, nil
}

// record flattens an object into a record with canonical keys.
func (n *normalizer) record(obj gjson.Result) *Record {
	rec := NewRecord()
	n.flatten(rec, "", obj)
	return rec
}

func (n *normalizer) flatten(rec *Record, prefix string, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if prefix != "" {
			name = prefix + "." + name
		}
		if value.IsObject() {
			n.flatten(rec, name, value)
			return true
		}
		setValue(rec, n.canonical(name), value)
		return true
	})
}

func toValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num
	case gjson.String:
		return v.Str
	default:
		return v.Value()
	}
}

// assemble computes the column union, fills gaps with Absent and builds the table.
func (r *Result) assemble(records []*Record, times []time.Time) *Result {
	var columns []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, k := range rec.keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	for i, rec := range records {
		records[i] = rec.project(columns)
	}

	r.Columns = columns
	r.Records = records
	r.Times = times
	r.Table = nil
	if r.Format == core.FormatTabular {
		r.Table = r.buildTable()
	}
	return r
}

func (r *Result) buildTable() *Table {
	t := newTable(r.Columns, r.Records)
	switch {
	case r.Shape == ShapeTimeSeries && len(r.Times) == len(r.Records):
		t.IndexName = r.spec.TimeField
		t.Index = make([]any, len(r.Times))
		for i, ts := range r.Times {
			t.Index[i] = ts
		}
	case r.spec.IndexField != "" && slices.Contains(r.Columns, r.spec.IndexField):
		t.IndexName = r.spec.IndexField
		t.Index = t.Column(r.spec.IndexField)
	case r.Shape == ShapeKeyedBySymbol && slices.Contains(r.Columns, SymbolField):
		t.IndexName = SymbolField
		t.Index = t.Column(SymbolField)
	}
	return t
}

// FilterRange keeps time series points within [start, end]. Zero bounds are open.
func (r *Result) FilterRange(start, end time.Time) *Result {
	if len(r.Times) != len(r.Records) {
		return r
	}
	out := &Result{Endpoint: r.Endpoint, Shape: r.Shape, Format: r.Format, spec: r.spec}
	var (
		records []*Record
		times   []time.Time
	)
	for i, ts := range r.Times {
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		records = append(records, r.Records[i].Clone())
		times = append(times, ts)
	}
	return out.assemble(records, times)
}

// Where keeps the records for which keep returns true.
func (r *Result) Where(keep func(*Record) bool) *Result {
	out := &Result{Endpoint: r.Endpoint, Shape: r.Shape, Format: r.Format, spec: r.spec}
	var (
		records []*Record
		times   []time.Time
	)
	withTimes := len(r.Times) == len(r.Records)
	for i, rec := range r.Records {
		if !keep(rec) {
			continue
		}
		records = append(records, rec.Clone())
		if withTimes {
			times = append(times, r.Times[i])
		}
	}
	return out.assemble(records, times)
}

// Project keeps only the named columns, in the given order. Unknown names
// are filled with Absent.
func (r *Result) Project(columns ...string) *Result {
	out := &Result{Endpoint: r.Endpoint, Shape: r.Shape, Format: r.Format, spec: r.spec}
	records := make([]*Record, len(r.Records))
	for i, rec := range r.Records {
		records[i] = rec.project(columns)
	}
	return out.assemble(records, slices.Clone(r.Times))
}

// WithFormat returns the result rendered in another output format.
func (r *Result) WithFormat(format core.OutputFormat) *Result {
	out := &Result{Endpoint: r.Endpoint, Shape: r.Shape, Format: format, spec: r.spec}
	records := make([]*Record, len(r.Records))
	for i, rec := range r.Records {
		records[i] = rec.Clone()
	}
	return out.assemble(records, slices.Clone(r.Times))
}

// Merge concatenates per-symbol results in the given order. Records lacking a
// symbol field receive the corresponding label, so every row stays attributable.
func Merge(endpoint string, spec Spec, format core.OutputFormat, labels []string, parts []*Result) *Result {
	out := &Result{Endpoint: endpoint, Shape: spec.Shape, Format: format, spec: spec}
	if out.spec.IndexField == "" && spec.Shape != ShapeTimeSeries {
		out.spec.IndexField = SymbolField
	}
	var (
		records []*Record
		times   []time.Time
	)
	keepTimes := true
	for i, part := range parts {
		if part == nil {
			continue
		}
		for j, rec := range part.Records {
			c := rec.Clone()
			if i < len(labels) && labels[i] != "" {
				if v, ok := c.Get(SymbolField); !ok || v == nil {
					c.Prepend(SymbolField, labels[i])
				}
			}
			records = append(records, c)
			if j < len(part.Times) {
				times = append(times, part.Times[j])
			} else {
				keepTimes = false
			}
		}
	}
	if !keepTimes {
		times = nil
	}
	return out.assemble(records, times)
}

var timeLayouts = []string{
	"2006-01-02",
	"20060102",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01",
}

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case float64:
		// epoch milliseconds
		return time.UnixMilli(int64(x)).UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", x)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}
