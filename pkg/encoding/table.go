// Package encoding builds and persists the deterministic integer code
// tables for boolean and categorical columns.
//
// Boolean columns use a fixed case-insensitive two-token table: "false"
// maps to 0 and "true" to 1; any other value has no code. Categorical
// columns map their distinct stringified values, sorted lexicographically,
// to dense sequential codes starting at 0, so re-encoding an identical
// distinct-value set always reproduces identical codes.
//
// A Table is built once per run and immutable afterwards. It is persisted
// twice: a binary Avro OCF artifact that round-trips the exact mapping,
// and a human-readable text report.
package encoding

import (
	"sort"
)

// BooleanFalse and BooleanTrue are the canonical boolean tokens.
const (
	BooleanFalse = "false"
	BooleanTrue  = "true"
)

// ColumnMapping holds the code table for one column.
type ColumnMapping struct {
	Column string
	Codes  map[string]int64
}

// Table is the complete per-column encoding table of one run. Column
// order follows the configured boolean and categorical column lists.
type Table struct {
	Boolean     []ColumnMapping
	Categorical []ColumnMapping
}

// NewBooleanMapping returns the fixed boolean mapping for a column.
func NewBooleanMapping(column string) ColumnMapping {
	return ColumnMapping{
		Column: column,
		Codes:  map[string]int64{BooleanFalse: 0, BooleanTrue: 1},
	}
}

// NewCategoricalMapping assigns dense codes 0..N-1 to the distinct values
// in lexicographic order. The input slice is not modified.
func NewCategoricalMapping(column string, distinct []string) ColumnMapping {
	sorted := make([]string, len(distinct))
	copy(sorted, distinct)
	sort.Strings(sorted)

	codes := make(map[string]int64, len(sorted))
	for i, v := range sorted {
		codes[v] = int64(i)
	}
	return ColumnMapping{Column: column, Codes: codes}
}

// Lookup returns the code table for the named column, boolean or
// categorical.
func (t *Table) Lookup(column string) (map[string]int64, bool) {
	for _, m := range t.Boolean {
		if m.Column == column {
			return m.Codes, true
		}
	}
	for _, m := range t.Categorical {
		if m.Column == column {
			return m.Codes, true
		}
	}
	return nil, false
}

// Columns returns all mapped column names, booleans first.
func (t *Table) Columns() []string {
	names := make([]string, 0, len(t.Boolean)+len(t.Categorical))
	for _, m := range t.Boolean {
		names = append(names, m.Column)
	}
	for _, m := range t.Categorical {
		names = append(names, m.Column)
	}
	return names
}

// valuesByCode returns the mapping's values in ascending code order.
func (m ColumnMapping) valuesByCode() []string {
	type entry struct {
		value string
		code  int64
	}
	entries := make([]entry, 0, len(m.Codes))
	for v, c := range m.Codes {
		entries = append(entries, entry{v, c})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].code < entries[j].code })

	values := make([]string, len(entries))
	for i, e := range entries {
		values[i] = e.value
	}
	return values
}
