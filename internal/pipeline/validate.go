package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/errors"
	"github.com/raildelta/raildelta/pkg/schema"
)

// EncodedColumnStats describes one encoded column across the whole
// written dataset.
type EncodedColumnStats struct {
	Column      string `json:"column"`
	Cardinality int64  `json:"cardinality"`
	MinCode     int64  `json:"min_code"`
	MaxCode     int64  `json:"max_code"`
	Contiguous  bool   `json:"contiguous"`
}

// ValidationReport is the result of reopening and inspecting a written
// dataset.
type ValidationReport struct {
	Path        string               `json:"path"`
	Files       int                  `json:"files"`
	Rows        int64                `json:"rows"`
	Columns     []schema.Field       `json:"columns"`
	DiskBytes   int64                `json:"disk_bytes"`
	MemoryBytes int64                `json:"memory_bytes"`
	Encoded     []EncodedColumnStats `json:"encoded"`
}

// Validator reopens a written dataset and checks it against the schema
// it was written under. Encoded columns must cover the contiguous code
// range [0, cardinality-1]; codes can develop gaps if the output is
// filtered downstream, so the range check binds only the writer's own
// output.
//
// Validation never rolls back a write. Callers treat a returned
// validation error as a warning.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Run inspects the dataset at path. expected may be nil, in which case
// the schema fidelity check is skipped and only structure and encoded
// ranges are verified.
func (v *Validator) Run(ctx context.Context, path string, expected *schema.Schema) (*ValidationReport, error) {
	paths, err := filepath.Glob(filepath.Join(path, "part-*.parquet"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "cannot enumerate partition files")
	}
	if len(paths) == 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "no partition files under %s", path)
	}
	sort.Strings(paths)

	report := &ValidationReport{Path: path, Files: len(paths)}
	codes := make(map[string]map[int64]struct{})
	var problems []string

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := v.inspectFile(ctx, p, report, codes, expected, &problems); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(codes))
	for name := range codes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := summarizeCodes(name, codes[name])
		report.Encoded = append(report.Encoded, stats)
		if !stats.Contiguous {
			problems = append(problems, fmt.Sprintf(
				"column %s codes span [%d, %d] with cardinality %d, expected [0, %d]",
				name, stats.MinCode, stats.MaxCode, stats.Cardinality, stats.Cardinality-1))
		}
	}

	v.logger.Info("validation report",
		zap.String("path", report.Path),
		zap.Int("files", report.Files),
		zap.Int64("rows", report.Rows),
		zap.Int("columns", len(report.Columns)),
		zap.Int64("disk_bytes", report.DiskBytes),
		zap.Int64("memory_bytes", report.MemoryBytes),
		zap.Int("encoded_columns", len(report.Encoded)))

	if len(problems) > 0 {
		return report, errors.New(errors.ErrorTypeValidation, strings.Join(problems, "; "))
	}
	return report, nil
}

func (v *Validator) inspectFile(ctx context.Context, path string, report *ValidationReport,
	codes map[string]map[int64]struct{}, expected *schema.Schema, problems *[]string) error {

	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "cannot open partition file").
			WithDetail("file", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "cannot stat partition file").
			WithDetail("file", path)
	}
	report.DiskBytes += info.Size()

	fr, err := file.NewParquetReader(f)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "cannot read parquet file").
			WithDetail("file", path)
	}
	defer fr.Close()

	pool := memory.NewGoAllocator()
	ar, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, pool)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "cannot open arrow reader").
			WithDetail("file", path)
	}

	tbl, err := ar.ReadTable(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "cannot load table").
			WithDetail("file", path)
	}
	defer tbl.Release()

	report.Rows += tbl.NumRows()

	if report.Columns == nil {
		report.Columns = fieldsOf(tbl.Schema())
		if expected != nil {
			checkSchema(tbl.Schema(), expected, problems)
		}
	}

	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		for _, chunk := range col.Data().Chunks() {
			report.MemoryBytes += chunkBytes(chunk)
			if strings.HasSuffix(col.Name(), EncodedSuffix) {
				collectCodes(codes, col.Name(), chunk)
			}
		}
	}
	return nil
}

// checkSchema compares the reopened physical schema against the schema
// the dataset was written under. Types must match exactly.
func checkSchema(got *arrow.Schema, expected *schema.Schema, problems *[]string) {
	want := expected.Arrow()
	if len(got.Fields()) != len(want.Fields()) {
		*problems = append(*problems, fmt.Sprintf(
			"schema has %d columns, expected %d", len(got.Fields()), len(want.Fields())))
		return
	}
	for i, wf := range want.Fields() {
		gf := got.Field(i)
		if gf.Name != wf.Name || !arrow.TypeEqual(gf.Type, wf.Type) {
			*problems = append(*problems, fmt.Sprintf(
				"column %d is %s:%s, expected %s:%s", i, gf.Name, gf.Type, wf.Name, wf.Type))
		}
	}
}

func fieldsOf(s *arrow.Schema) []schema.Field {
	fields := make([]schema.Field, len(s.Fields()))
	for i, f := range s.Fields() {
		fields[i] = schema.Field{Name: f.Name, Type: fieldTypeOf(f.Type)}
	}
	return fields
}

func fieldTypeOf(dt arrow.DataType) schema.FieldType {
	switch dt.ID() {
	case arrow.BOOL:
		return schema.TypeBoolean
	case arrow.INT64:
		return schema.TypeInteger
	case arrow.FLOAT64:
		return schema.TypeFloat
	default:
		return schema.TypeString
	}
}

func collectCodes(codes map[string]map[int64]struct{}, name string, chunk arrow.Array) {
	ints, ok := chunk.(*array.Int64)
	if !ok {
		return
	}
	set := codes[name]
	if set == nil {
		set = make(map[int64]struct{})
		codes[name] = set
	}
	for i := 0; i < ints.Len(); i++ {
		if ints.IsNull(i) {
			continue
		}
		set[ints.Value(i)] = struct{}{}
	}
}

func chunkBytes(chunk arrow.Array) int64 {
	var n int64
	for _, buf := range chunk.Data().Buffers() {
		if buf != nil {
			n += int64(buf.Len())
		}
	}
	return n
}

func summarizeCodes(name string, set map[int64]struct{}) EncodedColumnStats {
	stats := EncodedColumnStats{Column: name, Cardinality: int64(len(set))}
	first := true
	for c := range set {
		if first {
			stats.MinCode, stats.MaxCode = c, c
			first = false
			continue
		}
		if c < stats.MinCode {
			stats.MinCode = c
		}
		if c > stats.MaxCode {
			stats.MaxCode = c
		}
	}
	stats.Contiguous = len(set) == 0 || (stats.MinCode == 0 && stats.MaxCode == stats.Cardinality-1)
	return stats
}
