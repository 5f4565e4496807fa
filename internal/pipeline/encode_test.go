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
	"github.com/raildelta/raildelta/pkg/encoding"
)

func encodeDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	p1, err := dataset.NewPartition(
		dataset.NewStringColumn("OPERATOR", []string{"SBB", "BLS"}, nil),
		dataset.NewStringColumn("EXTRA", []string{"false", "True"}, nil),
	)
	require.NoError(t, err)
	p2, err := dataset.NewPartition(
		dataset.NewStringColumn("OPERATOR", []string{"ZB", "SBB"}, nil),
		dataset.NewStringColumn("EXTRA", []string{"yes", ""}, []bool{true, false}),
	)
	require.NoError(t, err)
	return dataset.New([]string{"OPERATOR", "EXTRA"}, []*dataset.Partition{p1, p2}, 0)
}

func testEncodeConfig(t *testing.T) config.EncodeConfig {
	return config.EncodeConfig{
		BooleanColumns:      []string{"EXTRA"},
		CategoricalColumns:  []string{"OPERATOR"},
		ArtifactDir:         t.TempDir(),
		ArtifactCompression: "gzip",
	}
}

func TestEncoderAssignsSortedDenseCodes(t *testing.T) {
	ds := encodeDataset(t)
	cfg := testEncodeConfig(t)

	out, table, err := NewCategoricalEncoder(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	codes, ok := table.Lookup("OPERATOR")
	require.True(t, ok)
	// distinct values BLS, SBB, ZB in lexicographic order
	assert.Equal(t, map[string]int64{"BLS": 0, "SBB": 1, "ZB": 2}, codes)

	// codes are global across partitions
	first, _ := out.Partitions()[0].Column("OPERATOR_encoded")
	second, _ := out.Partitions()[1].Column("OPERATOR_encoded")
	assert.Equal(t, int64(1), first.I64[0]) // SBB
	assert.Equal(t, int64(0), first.I64[1]) // BLS
	assert.Equal(t, int64(2), second.I64[0]) // ZB
	assert.Equal(t, int64(1), second.I64[1]) // SBB
}

func TestEncoderBooleanMapping(t *testing.T) {
	ds := encodeDataset(t)
	cfg := testEncodeConfig(t)

	out, _, err := NewCategoricalEncoder(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	first, _ := out.Partitions()[0].Column("EXTRA_encoded")
	assert.Equal(t, int64(0), first.I64[0]) // "false"
	assert.Equal(t, int64(1), first.I64[1]) // "True"

	second, _ := out.Partitions()[1].Column("EXTRA_encoded")
	assert.True(t, second.IsNull(0), `"yes" has no boolean code`)
	assert.True(t, second.IsNull(1), "null input stays null")
}

func TestEncoderDropsSourceColumns(t *testing.T) {
	ds := encodeDataset(t)
	out, _, err := NewCategoricalEncoder(testEncodeConfig(t), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.False(t, out.HasField("OPERATOR"))
	assert.False(t, out.HasField("EXTRA"))
	assert.True(t, out.HasField("OPERATOR_encoded"))
	assert.True(t, out.HasField("EXTRA_encoded"))
	assert.Equal(t, ds.NumRows(), out.NumRows())
}

func TestEncoderPersistsArtifacts(t *testing.T) {
	ds := encodeDataset(t)
	cfg := testEncodeConfig(t)

	_, table, err := NewCategoricalEncoder(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	binPath := filepath.Join(cfg.ArtifactDir, encoding.ArtifactName+".gz")
	reportPath := filepath.Join(cfg.ArtifactDir, encoding.ReportName)
	assert.FileExists(t, binPath)
	assert.FileExists(t, reportPath)

	reloaded, err := encoding.Load(binPath)
	require.NoError(t, err)
	assert.Equal(t, table, reloaded)

	report, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "OPERATOR")
	assert.Contains(t, string(report), "BLS -> 0")
}

func TestEncoderPersistFailureIsNotFatal(t *testing.T) {
	ds := encodeDataset(t)
	cfg := testEncodeConfig(t)
	// a path below a regular file cannot be created
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.ArtifactDir = filepath.Join(blocker, "artifacts")

	out, table, err := NewCategoricalEncoder(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, table)
}

func TestEncoderDeterministicAcrossRuns(t *testing.T) {
	ds := encodeDataset(t)
	_, table1, err := NewCategoricalEncoder(testEncodeConfig(t), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)
	_, table2, err := NewCategoricalEncoder(testEncodeConfig(t), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	c1, _ := table1.Lookup("OPERATOR")
	c2, _ := table2.Lookup("OPERATOR")
	assert.Equal(t, c1, c2)
}
