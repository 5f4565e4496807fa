package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/dataset"
	"github.com/raildelta/raildelta/pkg/errors"
	"github.com/raildelta/raildelta/pkg/schema"
)

// partFilePattern names partition files within the output directory.
const partFilePattern = "part-%05d.parquet"

// metadataFileName is the optional run manifest written next to the
// partition files.
const metadataFileName = "_metadata.json"

// WriteResult summarizes one completed write.
type WriteResult struct {
	Path       string
	Files      []string
	Partitions int
	Rows       int64
	Bytes      int64
}

// PartitionedWriter repartitions the dataset proportionally to the raw
// input volume and writes each partition as one Snappy-compressed
// Parquet file under the inferred schema.
//
// The partition count heuristic is two partitions per GB of raw input,
// never fewer than one.
type PartitionedWriter struct {
	cfg    config.OutputConfig
	logger *zap.Logger
	pool   *WorkerPool
}

// NewPartitionedWriter creates a writer.
func NewPartitionedWriter(cfg config.OutputConfig, pool *WorkerPool, logger *zap.Logger) *PartitionedWriter {
	return &PartitionedWriter{cfg: cfg, logger: logger, pool: pool}
}

// PartitionCount returns the target partition count for the given raw
// input size.
func PartitionCount(rawBytes int64) int {
	gb := float64(rawBytes) / float64(1<<30)
	n := int(math.Round(2 * gb))
	if n < 1 {
		n = 1
	}
	return n
}

// Run writes the dataset. Any file-level failure is fatal.
func (w *PartitionedWriter) Run(ctx context.Context, ds *dataset.Dataset, sch *schema.Schema) (*WriteResult, error) {
	target := PartitionCount(ds.RawBytes())
	ds, err := ds.Repartition(target)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWrite, "cannot repartition for write")
	}

	if err := os.MkdirAll(w.cfg.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWrite, "cannot create output directory").
			WithDetail("path", w.cfg.Path)
	}

	arrowSchema := sch.Arrow()
	parts := ds.Partitions()
	files := make([]string, len(parts))
	sizes := make([]int64, len(parts))

	err = w.pool.Map(ctx, len(parts), func(i int) error {
		path := filepath.Join(w.cfg.Path, fmt.Sprintf(partFilePattern, i))
		n, err := w.writePartition(path, parts[i], arrowSchema)
		if err != nil {
			return err
		}
		files[i] = path
		sizes[i] = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &WriteResult{
		Path:       w.cfg.Path,
		Files:      files,
		Partitions: len(parts),
		Rows:       ds.NumRows(),
	}
	for _, n := range sizes {
		result.Bytes += n
	}

	if w.cfg.WriteMetadata {
		if err := w.writeMetadata(result, sch); err != nil {
			return nil, err
		}
	}

	w.logger.Info("write complete",
		zap.String("path", result.Path),
		zap.Int("partitions", result.Partitions),
		zap.Int64("rows", result.Rows),
		zap.Int64("bytes", result.Bytes))
	return result, nil
}

func (w *PartitionedWriter) writePartition(path string, p *dataset.Partition, arrowSchema *arrow.Schema) (int64, error) {
	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWrite, "cannot create partition file").
			WithDetail("file", path)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
	)
	pool := memory.NewGoAllocator()
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(pool))

	fw, err := pqarrow.NewFileWriter(arrowSchema, f, props, arrowProps)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWrite, "cannot create parquet writer").
			WithDetail("file", path)
	}

	record, err := buildRecord(pool, arrowSchema, p)
	if err != nil {
		fw.Close()
		return 0, err
	}
	defer record.Release()

	if err := fw.Write(record); err != nil {
		fw.Close()
		return 0, errors.Wrap(err, errors.ErrorTypeWrite, "cannot write parquet record").
			WithDetail("file", path)
	}
	if err := fw.Close(); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWrite, "cannot close parquet writer").
			WithDetail("file", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWrite, "cannot stat partition file").
			WithDetail("file", path)
	}
	return info.Size(), nil
}

// buildRecord converts one partition into an Arrow record matching the
// schema's field order and types.
func buildRecord(pool memory.Allocator, arrowSchema *arrow.Schema, p *dataset.Partition) (arrow.Record, error) {
	builder := array.NewRecordBuilder(pool, arrowSchema)
	defer builder.Release()

	for i, field := range arrowSchema.Fields() {
		col, ok := p.Column(field.Name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeWrite, "partition missing column %s", field.Name)
		}
		if err := appendColumn(builder.Field(i), col, field.Type); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeWrite, "cannot build column").
				WithDetail("column", field.Name)
		}
	}
	return builder.NewRecord(), nil
}

func appendColumn(b array.Builder, col *dataset.Column, dt arrow.DataType) error {
	n := col.Len()
	switch fb := b.(type) {
	case *array.BooleanBuilder:
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				fb.AppendNull()
				continue
			}
			fb.Append(col.Bool[i])
		}
	case *array.Int64Builder:
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				fb.AppendNull()
				continue
			}
			fb.Append(col.I64[i])
		}
	case *array.Float64Builder:
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				fb.AppendNull()
				continue
			}
			fb.Append(col.F64[i])
		}
	case *array.StringBuilder:
		for i := 0; i < n; i++ {
			v, ok := col.StringAt(i)
			if !ok {
				fb.AppendNull()
				continue
			}
			fb.Append(v)
		}
	default:
		return fmt.Errorf("unsupported arrow type %s", dt)
	}
	return nil
}

// runMetadata is the serialized form of metadataFileName.
type runMetadata struct {
	CreatedAt  time.Time         `json:"created_at"`
	Rows       int64             `json:"rows"`
	Partitions int               `json:"partitions"`
	Files      []string          `json:"files"`
	Columns    map[string]string `json:"columns"`
}

func (w *PartitionedWriter) writeMetadata(result *WriteResult, sch *schema.Schema) error {
	columns := make(map[string]string, len(sch.Fields))
	for _, f := range sch.Fields {
		columns[f.Name] = string(f.Type)
	}
	names := make([]string, len(result.Files))
	for i, f := range result.Files {
		names[i] = filepath.Base(f)
	}

	meta := runMetadata{
		CreatedAt:  time.Now().UTC(),
		Rows:       result.Rows,
		Partitions: result.Partitions,
		Files:      names,
		Columns:    columns,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "cannot marshal run metadata")
	}

	path := filepath.Join(w.cfg.Path, metadataFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "cannot write run metadata").
			WithDetail("file", path)
	}
	return nil
}
