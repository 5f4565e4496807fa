package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/dataset"
	"github.com/raildelta/raildelta/pkg/errors"
)

// Ingestor discovers the delimited source files, unifies their column
// schema against the first file's header, and reads all files into
// bounded-size blocks. Each block becomes one partition.
//
// Every cell arrives as a string. After reading, columns not covered by
// a type hint are realized to int64 or float64 when every non-null value
// parses; hinted columns always stay strings, which preserves leading
// zeros in identifier columns. Empty cells are nulls.
type Ingestor struct {
	cfg    config.IngestConfig
	logger *zap.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(cfg config.IngestConfig, logger *zap.Logger) *Ingestor {
	return &Ingestor{cfg: cfg, logger: logger}
}

// Run ingests the source directory into a dataset. Zero matching files
// is a fatal configuration error; a parse failure in any file aborts the
// whole ingestion.
func (ing *Ingestor) Run(ctx context.Context) (*dataset.Dataset, error) {
	files, totalBytes, err := ing.discover()
	if err != nil {
		return nil, err
	}

	ing.logger.Info("discovered source files",
		zap.Int("files", len(files)),
		zap.Int64("total_bytes", totalBytes))

	canonical, err := ing.readHeader(files[0])
	if err != nil {
		return nil, err
	}

	fields, keep := ing.workingSet(canonical)
	if len(fields) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no columns left after exclusion")
	}

	ing.logger.Info("resolved working column set",
		zap.Strings("columns", fields),
		zap.Int("excluded", len(canonical)-len(fields)))

	parts, err := ing.readAll(ctx, files, canonical, fields, keep)
	if err != nil {
		return nil, err
	}

	parts, err = realizeColumns(parts, fields, ing.cfg.TypeHints)
	if err != nil {
		return nil, err
	}

	ds := dataset.New(fields, parts, totalBytes)
	ing.logger.Info("ingestion complete",
		zap.Int64("rows", ds.NumRows()),
		zap.Int("partitions", ds.NumPartitions()))
	return ds, nil
}

// discover enumerates matching files in sorted order and sums their
// sizes.
func (ing *Ingestor) discover() ([]string, int64, error) {
	entries, err := os.ReadDir(ing.cfg.SourceDir)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeConfig, "cannot read source directory").
			WithDetail("source_dir", ing.cfg.SourceDir)
	}

	var files []string
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ing.cfg.Extension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrorTypeConfig, "cannot stat source file").
				WithDetail("file", e.Name())
		}
		files = append(files, filepath.Join(ing.cfg.SourceDir, e.Name()))
		total += info.Size()
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, 0, errors.Newf(errors.ErrorTypeConfig, "no %s files found in %s",
			ing.cfg.Extension, ing.cfg.SourceDir)
	}
	return files, total, nil
}

// readHeader reads the canonical column list from the first file.
func (ing *Ingestor) readHeader(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructural, "cannot open first source file").
			WithDetail("file", path)
	}
	defer f.Close()

	r := ing.newReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructural, "cannot read header").
			WithDetail("file", path)
	}
	return append([]string{}, header...), nil
}

// workingSet computes canonical minus excluded, preserving order, and
// the canonical indexes of the kept columns.
func (ing *Ingestor) workingSet(canonical []string) ([]string, []int) {
	excluded := make(map[string]struct{}, len(ing.cfg.ExcludeColumns))
	for _, c := range ing.cfg.ExcludeColumns {
		excluded[c] = struct{}{}
	}

	var fields []string
	var keep []int
	for i, c := range canonical {
		if _, skip := excluded[c]; skip {
			continue
		}
		fields = append(fields, c)
		keep = append(keep, i)
	}
	return fields, keep
}

func (ing *Ingestor) newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = rune(ing.cfg.Delimiter[0])
	cr.ReuseRecord = true
	return cr
}

// readAll parses every file into blocks bounded by the configured block
// size.
func (ing *Ingestor) readAll(ctx context.Context, files, canonical, fields []string, keep []int) ([]*dataset.Partition, error) {
	blockBytes := int64(ing.cfg.BlockSizeMB) << 20
	builder := newBlockBuilder(fields)
	var parts []*dataset.Partition

	for _, path := range files {
		if err := ing.readFile(ctx, path, canonical, keep, builder, blockBytes, &parts); err != nil {
			return nil, err
		}
	}

	if builder.rows > 0 || len(parts) == 0 {
		p, err := builder.seal()
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func (ing *Ingestor) readFile(ctx context.Context, path string, canonical []string, keep []int,
	builder *blockBuilder, blockBytes int64, parts *[]*dataset.Partition) error {

	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStructural, "cannot open source file").
			WithDetail("file", path)
	}
	defer f.Close()

	r := ing.newReader(f)
	r.FieldsPerRecord = len(canonical)

	header, err := r.Read()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStructural, "cannot read header").
			WithDetail("file", path)
	}
	for i, name := range header {
		if name != canonical[i] {
			return errors.Newf(errors.ErrorTypeStructural,
				"header mismatch in %s: column %d is %q, expected %q", path, i, name, canonical[i])
		}
	}

	rows := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeStructural, "parse failure").
				WithDetail("file", path)
		}

		builder.appendRow(record, keep)
		rows++

		if builder.bytes >= blockBytes {
			p, err := builder.seal()
			if err != nil {
				return err
			}
			*parts = append(*parts, p)
		}

		if rows%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	ing.logger.Debug("file ingested", zap.String("file", path), zap.Int("rows", rows))
	return nil
}

// blockBuilder accumulates rows for one partition.
type blockBuilder struct {
	fields  []string
	vals    [][]string
	valid   [][]bool
	hasNull []bool
	bytes   int64
	rows    int
}

func newBlockBuilder(fields []string) *blockBuilder {
	b := &blockBuilder{fields: fields}
	b.reset()
	return b
}

func (b *blockBuilder) reset() {
	b.vals = make([][]string, len(b.fields))
	b.valid = make([][]bool, len(b.fields))
	b.hasNull = make([]bool, len(b.fields))
	b.bytes = 0
	b.rows = 0
}

// appendRow copies the kept fields of one raw record. Empty cells are
// recorded as nulls.
func (b *blockBuilder) appendRow(record []string, keep []int) {
	for col, idx := range keep {
		v := record[idx]
		b.vals[col] = append(b.vals[col], v)
		ok := v != ""
		b.valid[col] = append(b.valid[col], ok)
		if !ok {
			b.hasNull[col] = true
		}
		b.bytes += int64(len(v))
	}
	b.rows++
}

// seal converts the accumulated rows into a partition and resets the
// builder.
func (b *blockBuilder) seal() (*dataset.Partition, error) {
	cols := make([]*dataset.Column, len(b.fields))
	for i, name := range b.fields {
		valid := b.valid[i]
		if !b.hasNull[i] {
			valid = nil
		}
		cols[i] = dataset.NewStringColumn(name, b.vals[i], valid)
	}
	p, err := dataset.NewPartition(cols...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStructural, "cannot build partition")
	}
	b.reset()
	return p, nil
}

// realizeColumns upgrades unhinted string columns to int64 or float64
// when every non-null value across all partitions parses. The decision
// is global per column, so realized kinds never differ across
// partitions.
func realizeColumns(parts []*dataset.Partition, fields, hints []string) ([]*dataset.Partition, error) {
	hinted := make(map[string]struct{}, len(hints))
	for _, h := range hints {
		hinted[h] = struct{}{}
	}

	kinds := make(map[string]dataset.Kind, len(fields))
	for _, name := range fields {
		if _, isHinted := hinted[name]; isHinted {
			kinds[name] = dataset.KindString
			continue
		}
		kinds[name] = decideKind(parts, name)
	}

	out := make([]*dataset.Partition, len(parts))
	for i, p := range parts {
		cols := make([]*dataset.Column, 0, len(fields))
		for _, name := range fields {
			col, ok := p.Column(name)
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeStructural, "partition missing column %s", name)
			}
			cols = append(cols, convertColumn(col, kinds[name]))
		}
		np, err := dataset.NewPartition(cols...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStructural, "cannot realize partition")
		}
		out[i] = np
	}
	return out, nil
}

// decideKind returns the widest kind all non-null values of the column
// fit. All-null columns stay strings.
func decideKind(parts []*dataset.Partition, name string) dataset.Kind {
	allInt := true
	allFloat := true
	seen := false

	for _, p := range parts {
		col, ok := p.Column(name)
		if !ok {
			return dataset.KindString
		}
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				continue
			}
			seen = true
			v := col.Str[i]
			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					allInt = false
				}
			}
			if !allInt && allFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allFloat = false
				}
			}
			if !allInt && !allFloat {
				return dataset.KindString
			}
		}
	}

	switch {
	case !seen:
		return dataset.KindString
	case allInt:
		return dataset.KindInt64
	case allFloat:
		return dataset.KindFloat64
	default:
		return dataset.KindString
	}
}

func convertColumn(col *dataset.Column, kind dataset.Kind) *dataset.Column {
	if kind == dataset.KindString || col.Kind != dataset.KindString {
		return col
	}

	n := col.Len()
	valid := make([]bool, n)
	anyNull := false
	for i := 0; i < n; i++ {
		valid[i] = !col.IsNull(i)
		if !valid[i] {
			anyNull = true
		}
	}
	if !anyNull {
		valid = nil
	}

	switch kind {
	case dataset.KindInt64:
		vals := make([]int64, n)
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				continue
			}
			vals[i], _ = strconv.ParseInt(col.Str[i], 10, 64)
		}
		return dataset.NewInt64Column(col.Name, vals, valid)
	case dataset.KindFloat64:
		vals := make([]float64, n)
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				continue
			}
			vals[i], _ = strconv.ParseFloat(col.Str[i], 64)
		}
		return dataset.NewFloat64Column(col.Name, vals, valid)
	default:
		return col
	}
}
