package normalize

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/apd/v3"
)

// Table is the tabular rendering of a result: one row per record, one column
// per field. Index mirrors the index column (or parsed timestamps for time
// series) and is nil when the endpoint declares no index.
type Table struct {
	Columns   []string
	IndexName string
	Index     []any
	Rows      [][]any

	// records back Rows one to one for exact decimals.
	records []*Record
}

func newTable(columns []string, records []*Record) *Table {
	t := &Table{Columns: slices.Clone(columns), Rows: make([][]any, 0, len(records)), records: records}
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = rec.Value(c)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	return slices.Index(t.Columns, name)
}

// Column returns every value of one column.
func (t *Table) Column(name string) []any {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Cell returns the value at row i in column name.
func (t *Table) Cell(i int, name string) (any, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[i][idx], true
}

// Decimal returns a numeric cell as an exact decimal.
func (t *Table) Decimal(i int, name string) (*apd.Decimal, error) {
	v, ok := t.Cell(i, name)
	if !ok || v == nil || IsAbsent(v) {
		return nil, fmt.Errorf("cell %d/%q is absent", i, name)
	}
	if i < len(t.records) {
		return t.records[i].Decimal(name)
	}
	return toDecimal(v)
}

// Select returns a table restricted to columns, in the given order. The index
// is kept.
func (t *Table) Select(columns ...string) *Table {
	out := &Table{Columns: slices.Clone(columns), IndexName: t.IndexName, Index: slices.Clone(t.Index), records: t.records}
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.ColumnIndex(c)
	}
	for _, row := range t.Rows {
		nr := make([]any, len(columns))
		for i, j := range idx {
			if j < 0 {
				nr[i] = Absent
				continue
			}
			nr[i] = row[j]
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}
