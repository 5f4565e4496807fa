// Package schema builds the explicit physical schema for the columnar
// write. Each column's realized runtime kind is classified into exactly
// one of {boolean, integer, float, string}; declared type hints are never
// consulted at this stage, and a column whose kind differs across
// partitions falls back to string. Keeping schema construction decoupled
// from the storage engine makes it independently testable and shields the
// output from the engine's own type inference.
package schema

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/raildelta/raildelta/pkg/dataset"
)

// FieldType is a physical output type.
type FieldType string

const (
	// TypeBoolean is a boolean column
	TypeBoolean FieldType = "boolean"
	// TypeInteger is a 64-bit integer column
	TypeInteger FieldType = "integer"
	// TypeFloat is a 64-bit float column
	TypeFloat FieldType = "float"
	// TypeString is a UTF-8 string column
	TypeString FieldType = "string"
)

// Field is one (name, physical type) schema entry.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema is the ordered, explicit physical schema of a dataset.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Infer classifies the realized kind of every column in ds into a
// physical field type. Column order is preserved.
func Infer(ds *dataset.Dataset) *Schema {
	s := &Schema{Fields: make([]Field, 0, len(ds.Fields()))}
	for _, name := range ds.Fields() {
		s.Fields = append(s.Fields, Field{Name: name, Type: realizedType(ds, name)})
	}
	return s
}

// realizedType inspects the column's kind across all partitions. A column
// absent from a partition or with inconsistent kinds is unclassifiable
// and falls back to string.
func realizedType(ds *dataset.Dataset, name string) FieldType {
	seen := false
	var kind dataset.Kind
	for _, p := range ds.Partitions() {
		col, ok := p.Column(name)
		if !ok {
			return TypeString
		}
		if !seen {
			kind = col.Kind
			seen = true
			continue
		}
		if col.Kind != kind {
			return TypeString
		}
	}
	if !seen {
		return TypeString
	}
	return classify(kind)
}

func classify(kind dataset.Kind) FieldType {
	switch kind {
	case dataset.KindBool:
		return TypeBoolean
	case dataset.KindInt64:
		return TypeInteger
	case dataset.KindFloat64:
		return TypeFloat
	case dataset.KindString:
		return TypeString
	default:
		return TypeString
	}
}

// Arrow converts the schema into an Arrow schema. All fields are
// nullable; row-local parse failures surface as nulls.
func (s *Schema) Arrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(t FieldType) arrow.DataType {
	switch t {
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// FieldType returns the physical type of the named field.
func (s *Schema) FieldType(name string) (FieldType, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}
