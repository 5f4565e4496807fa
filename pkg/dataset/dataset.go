// Package dataset provides the in-memory columnar data model for the
// pipeline. A Dataset is an ordered, named set of typed column vectors
// split across partitions; each pipeline stage consumes one Dataset and
// produces a new one rather than mutating in place.
//
// A Partition is the unit of parallel work: a disjoint block of rows
// holding one typed vector per column, with per-row validity (null)
// tracking. Partition boundaries are a sizing decision only; row identity
// never depends on them, and no stage may rely on row order surviving a
// partition-parallel transformation.
package dataset

import (
	"fmt"
	"strconv"
)

// Kind is the realized physical type of a column vector.
type Kind int

const (
	// KindString holds UTF-8 string values
	KindString Kind = iota
	// KindInt64 holds 64-bit signed integers
	KindInt64
	// KindFloat64 holds 64-bit floats
	KindFloat64
	// KindBool holds booleans
	KindBool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Column is a typed vector of values with optional validity tracking.
// Exactly one of the value slices is populated, matching Kind. A nil
// Valid slice means every row is valid.
type Column struct {
	Name  string
	Kind  Kind
	Str   []string
	I64   []int64
	F64   []float64
	Bool  []bool
	Valid []bool
}

// NewStringColumn creates a string column. valid may be nil.
func NewStringColumn(name string, values []string, valid []bool) *Column {
	return &Column{Name: name, Kind: KindString, Str: values, Valid: valid}
}

// NewInt64Column creates an int64 column. valid may be nil.
func NewInt64Column(name string, values []int64, valid []bool) *Column {
	return &Column{Name: name, Kind: KindInt64, I64: values, Valid: valid}
}

// NewFloat64Column creates a float64 column. valid may be nil.
func NewFloat64Column(name string, values []float64, valid []bool) *Column {
	return &Column{Name: name, Kind: KindFloat64, F64: values, Valid: valid}
}

// NewBoolColumn creates a bool column. valid may be nil.
func NewBoolColumn(name string, values []bool, valid []bool) *Column {
	return &Column{Name: name, Kind: KindBool, Bool: values, Valid: valid}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case KindString:
		return len(c.Str)
	case KindInt64:
		return len(c.I64)
	case KindFloat64:
		return len(c.F64)
	case KindBool:
		return len(c.Bool)
	default:
		return 0
	}
}

// IsNull reports whether row i holds no value.
func (c *Column) IsNull(i int) bool {
	return c.Valid != nil && !c.Valid[i]
}

// StringAt returns the stringified value at row i and whether it is valid.
// Numeric and boolean values are formatted with strconv; nulls return
// ("", false).
func (c *Column) StringAt(i int) (string, bool) {
	if c.IsNull(i) {
		return "", false
	}
	switch c.Kind {
	case KindString:
		return c.Str[i], true
	case KindInt64:
		return strconv.FormatInt(c.I64[i], 10), true
	case KindFloat64:
		return strconv.FormatFloat(c.F64[i], 'g', -1, 64), true
	case KindBool:
		return strconv.FormatBool(c.Bool[i]), true
	default:
		return "", false
	}
}

// Slice returns a view of rows [lo, hi). The backing arrays are shared;
// columns are treated as immutable once built.
func (c *Column) Slice(lo, hi int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindString:
		out.Str = c.Str[lo:hi]
	case KindInt64:
		out.I64 = c.I64[lo:hi]
	case KindFloat64:
		out.F64 = c.F64[lo:hi]
	case KindBool:
		out.Bool = c.Bool[lo:hi]
	}
	if c.Valid != nil {
		out.Valid = c.Valid[lo:hi]
	}
	return out
}

// Take returns a new column holding the given rows in order.
func (c *Column) Take(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindString:
		out.Str = make([]string, len(rows))
		for i, r := range rows {
			out.Str[i] = c.Str[r]
		}
	case KindInt64:
		out.I64 = make([]int64, len(rows))
		for i, r := range rows {
			out.I64[i] = c.I64[r]
		}
	case KindFloat64:
		out.F64 = make([]float64, len(rows))
		for i, r := range rows {
			out.F64[i] = c.F64[r]
		}
	case KindBool:
		out.Bool = make([]bool, len(rows))
		for i, r := range rows {
			out.Bool[i] = c.Bool[r]
		}
	}
	if c.Valid != nil {
		out.Valid = make([]bool, len(rows))
		for i, r := range rows {
			out.Valid[i] = c.Valid[r]
		}
	}
	return out
}

// concat appends other's values to a copy of c. Kinds must match.
func (c *Column) concat(other *Column) (*Column, error) {
	if c.Kind != other.Kind {
		return nil, fmt.Errorf("column %s: cannot concatenate %s with %s", c.Name, c.Kind, other.Kind)
	}
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindString:
		out.Str = append(append([]string{}, c.Str...), other.Str...)
	case KindInt64:
		out.I64 = append(append([]int64{}, c.I64...), other.I64...)
	case KindFloat64:
		out.F64 = append(append([]float64{}, c.F64...), other.F64...)
	case KindBool:
		out.Bool = append(append([]bool{}, c.Bool...), other.Bool...)
	}
	if c.Valid != nil || other.Valid != nil {
		out.Valid = make([]bool, 0, c.Len()+other.Len())
		out.Valid = appendValidity(out.Valid, c)
		out.Valid = appendValidity(out.Valid, other)
	}
	return out, nil
}

func appendValidity(dst []bool, c *Column) []bool {
	if c.Valid != nil {
		return append(dst, c.Valid...)
	}
	for i := 0; i < c.Len(); i++ {
		dst = append(dst, true)
	}
	return dst
}

// Partition is a disjoint block of rows, the unit of parallel work.
type Partition struct {
	cols  []*Column
	index map[string]int
}

// NewPartition builds a partition from columns. All columns must have the
// same length and distinct names.
func NewPartition(cols ...*Column) (*Partition, error) {
	p := &Partition{index: make(map[string]int, len(cols))}
	for _, col := range cols {
		if err := p.Append(col); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NumRows returns the row count.
func (p *Partition) NumRows() int {
	if len(p.cols) == 0 {
		return 0
	}
	return p.cols[0].Len()
}

// Columns returns the ordered columns.
func (p *Partition) Columns() []*Column {
	return p.cols
}

// Names returns the ordered column names.
func (p *Partition) Names() []string {
	names := make([]string, len(p.cols))
	for i, c := range p.cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (p *Partition) Column(name string) (*Column, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.cols[i], true
}

// Append adds a column. Its length must match existing columns.
func (p *Partition) Append(col *Column) error {
	if _, exists := p.index[col.Name]; exists {
		return fmt.Errorf("duplicate column %s", col.Name)
	}
	if len(p.cols) > 0 && col.Len() != p.NumRows() {
		return fmt.Errorf("column %s has %d rows, partition has %d", col.Name, col.Len(), p.NumRows())
	}
	if p.index == nil {
		p.index = make(map[string]int)
	}
	p.index[col.Name] = len(p.cols)
	p.cols = append(p.cols, col)
	return nil
}

// Drop returns a new partition without the named columns. Unknown names
// are ignored; the caller is responsible for existence checks.
func (p *Partition) Drop(names ...string) *Partition {
	dropped := make(map[string]struct{}, len(names))
	for _, n := range names {
		dropped[n] = struct{}{}
	}
	out := &Partition{index: make(map[string]int)}
	for _, c := range p.cols {
		if _, skip := dropped[c.Name]; skip {
			continue
		}
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, c)
	}
	return out
}

// Take returns a new partition holding the given rows in order.
func (p *Partition) Take(rows []int) *Partition {
	out := &Partition{index: make(map[string]int, len(p.cols))}
	for _, c := range p.cols {
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, c.Take(rows))
	}
	return out
}

// Slice returns a partition viewing rows [lo, hi).
func (p *Partition) Slice(lo, hi int) *Partition {
	out := &Partition{index: make(map[string]int, len(p.cols))}
	for _, c := range p.cols {
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, c.Slice(lo, hi))
	}
	return out
}

// Dataset is an ordered, named set of typed columns split across
// partitions. It carries the total raw input byte size forward for the
// writer's partition-count heuristic.
type Dataset struct {
	fields   []string
	parts    []*Partition
	rawBytes int64
}

// New creates a dataset. fields fixes the column order; every partition
// must carry exactly those columns.
func New(fields []string, parts []*Partition, rawBytes int64) *Dataset {
	return &Dataset{fields: fields, parts: parts, rawBytes: rawBytes}
}

// Derive creates a new dataset version with the given fields and
// partitions, carrying the raw byte size forward.
func (d *Dataset) Derive(fields []string, parts []*Partition) *Dataset {
	return &Dataset{fields: fields, parts: parts, rawBytes: d.rawBytes}
}

// Fields returns the ordered column names.
func (d *Dataset) Fields() []string {
	return d.fields
}

// HasField reports whether the dataset has the named column.
func (d *Dataset) HasField(name string) bool {
	for _, f := range d.fields {
		if f == name {
			return true
		}
	}
	return false
}

// Partitions returns the dataset's partitions.
func (d *Dataset) Partitions() []*Partition {
	return d.parts
}

// NumPartitions returns the partition count.
func (d *Dataset) NumPartitions() int {
	return len(d.parts)
}

// NumRows returns the total materialized row count.
func (d *Dataset) NumRows() int64 {
	var n int64
	for _, p := range d.parts {
		n += int64(p.NumRows())
	}
	return n
}

// RawBytes returns the total raw input size recorded at ingestion.
func (d *Dataset) RawBytes() int64 {
	return d.rawBytes
}

// Repartition returns a new dataset with rows redistributed into n
// roughly equal partitions. Row order within the concatenation of the
// existing partitions is preserved, though callers must not depend on it.
func (d *Dataset) Repartition(n int) (*Dataset, error) {
	if n < 1 {
		return nil, fmt.Errorf("partition count must be at least 1, got %d", n)
	}

	merged, err := d.merge()
	if err != nil {
		return nil, err
	}

	total := merged.NumRows()
	if n > total && total > 0 {
		n = total
	}
	if total == 0 {
		return d.Derive(d.fields, []*Partition{merged}), nil
	}

	parts := make([]*Partition, 0, n)
	per := (total + n - 1) / n
	for lo := 0; lo < total; lo += per {
		hi := lo + per
		if hi > total {
			hi = total
		}
		parts = append(parts, merged.Slice(lo, hi))
	}
	return d.Derive(d.fields, parts), nil
}

// merge concatenates all partitions into one.
func (d *Dataset) merge() (*Partition, error) {
	if len(d.parts) == 0 {
		return &Partition{}, nil
	}
	if len(d.parts) == 1 {
		return d.parts[0], nil
	}
	cols := make([]*Column, len(d.parts[0].cols))
	copy(cols, d.parts[0].cols)
	for _, p := range d.parts[1:] {
		for i, c := range cols {
			other, ok := p.Column(c.Name)
			if !ok {
				return nil, fmt.Errorf("partition missing column %s", c.Name)
			}
			merged, err := c.concat(other)
			if err != nil {
				return nil, err
			}
			cols[i] = merged
		}
	}
	return NewPartition(cols...)
}
