package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/dataset"
	"github.com/raildelta/raildelta/pkg/schema"
)

func TestPartitionCount(t *testing.T) {
	tests := []struct {
		name     string
		rawBytes int64
		want     int
	}{
		{"zero input", 0, 1},
		{"tiny input", 1 << 10, 1},
		{"half gigabyte", 1 << 29, 1},
		{"one gigabyte", 1 << 30, 2},
		{"five gigabytes", 5 << 30, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PartitionCount(tt.rawBytes))
		})
	}
}

func writableDataset(t *testing.T, rawBytes int64) *dataset.Dataset {
	t.Helper()
	p, err := dataset.NewPartition(
		dataset.NewStringColumn("STOP", []string{"Bern", "Thun", "Spiez", "Visp"}, nil),
		dataset.NewInt64Column("LINE_encoded", []int64{0, 1, 1, 0}, nil),
		dataset.NewFloat64Column("DELAY_SECONDS", []float64{12, -3, 0, 45}, []bool{true, true, false, true}),
	)
	require.NoError(t, err)
	return dataset.New([]string{"STOP", "LINE_encoded", "DELAY_SECONDS"}, []*dataset.Partition{p}, rawBytes)
}

func TestWriterWritesSnappyParquetPartitions(t *testing.T) {
	ds := writableDataset(t, 0)
	sch := schema.Infer(ds)
	cfg := config.OutputConfig{Path: t.TempDir()}

	result, err := NewPartitionedWriter(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds, sch)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Partitions)
	assert.Equal(t, int64(4), result.Rows)
	assert.Greater(t, result.Bytes, int64(0))
	require.Len(t, result.Files, 1)
	assert.FileExists(t, result.Files[0])
	assert.Equal(t, "part-00000.parquet", filepath.Base(result.Files[0]))
}

func TestWriterRoundTripValidates(t *testing.T) {
	ds := writableDataset(t, 0)
	sch := schema.Infer(ds)
	cfg := config.OutputConfig{Path: t.TempDir()}

	result, err := NewPartitionedWriter(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds, sch)
	require.NoError(t, err)

	report, err := NewValidator(zap.NewNop()).Run(context.Background(), result.Path, sch)
	require.NoError(t, err)

	assert.Equal(t, int64(4), report.Rows)
	assert.Equal(t, 1, report.Files)
	assert.Greater(t, report.DiskBytes, int64(0))
	assert.Greater(t, report.MemoryBytes, int64(0))

	// physical types survive the round trip exactly
	require.Len(t, report.Columns, 3)
	assert.Equal(t, schema.Field{Name: "STOP", Type: schema.TypeString}, report.Columns[0])
	assert.Equal(t, schema.Field{Name: "LINE_encoded", Type: schema.TypeInteger}, report.Columns[1])
	assert.Equal(t, schema.Field{Name: "DELAY_SECONDS", Type: schema.TypeFloat}, report.Columns[2])

	// codes 0 and 1 cover [0, cardinality-1]
	require.Len(t, report.Encoded, 1)
	assert.Equal(t, "LINE_encoded", report.Encoded[0].Column)
	assert.Equal(t, int64(2), report.Encoded[0].Cardinality)
	assert.True(t, report.Encoded[0].Contiguous)
}

func TestValidatorReportsCodeGaps(t *testing.T) {
	p, err := dataset.NewPartition(
		dataset.NewInt64Column("LINE_encoded", []int64{0, 2}, nil),
	)
	require.NoError(t, err)
	ds := dataset.New([]string{"LINE_encoded"}, []*dataset.Partition{p}, 0)
	sch := schema.Infer(ds)
	cfg := config.OutputConfig{Path: t.TempDir()}

	result, err := NewPartitionedWriter(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds, sch)
	require.NoError(t, err)

	report, err := NewValidator(zap.NewNop()).Run(context.Background(), result.Path, sch)
	require.Error(t, err)
	require.NotNil(t, report)
	require.Len(t, report.Encoded, 1)
	assert.False(t, report.Encoded[0].Contiguous)
}

func TestValidatorMissingOutputIsError(t *testing.T) {
	_, err := NewValidator(zap.NewNop()).Run(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
}

func TestWriterRepartitionsByRawVolume(t *testing.T) {
	// 1 GB of raw input maps to two output partitions
	ds := writableDataset(t, 1<<30)
	sch := schema.Infer(ds)
	cfg := config.OutputConfig{Path: t.TempDir()}

	result, err := NewPartitionedWriter(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds, sch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Partitions)
	assert.Equal(t, int64(4), result.Rows)
}

func TestWriterMetadataFile(t *testing.T) {
	ds := writableDataset(t, 0)
	sch := schema.Infer(ds)
	cfg := config.OutputConfig{Path: t.TempDir(), WriteMetadata: true}

	_, err := NewPartitionedWriter(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds, sch)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.Path, metadataFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rows": 4`)
	assert.Contains(t, string(data), "part-00000.parquet")
}
