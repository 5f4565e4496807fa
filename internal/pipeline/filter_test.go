package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/dataset"
	"github.com/raildelta/raildelta/pkg/errors"
)

func statusDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	p, err := dataset.NewPartition(
		dataset.NewStringColumn("LINE", []string{"IC1", "IC2", "RE5", "IC1"}, nil),
		dataset.NewStringColumn("ARR_STATUS", []string{"REAL", "REAL", "PROGNOSE", "REAL"}, nil),
		dataset.NewStringColumn("DEP_STATUS", []string{"REAL", "PROGNOSE", "REAL", "REAL"}, nil),
	)
	require.NoError(t, err)
	return dataset.New([]string{"LINE", "ARR_STATUS", "DEP_STATUS"}, []*dataset.Partition{p}, 0)
}

func testFilterConfig() config.FilterConfig {
	return config.FilterConfig{
		StatusColumns:    []string{"ARR_STATUS", "DEP_STATUS"},
		ValiditySentinel: "REAL",
	}
}

func TestFilterKeepsOnlyValidRowsAndDropsStatusColumns(t *testing.T) {
	ds := statusDataset(t)
	out, err := NewFilterStage(testFilterConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, int64(2), out.NumRows())
	assert.Equal(t, []string{"LINE"}, out.Fields())
	assert.False(t, out.HasField("ARR_STATUS"))
	assert.False(t, out.HasField("DEP_STATUS"))
}

func TestFilterAppliesMembershipRulesInOrder(t *testing.T) {
	ds := statusDataset(t)
	cfg := testFilterConfig()
	cfg.Rules = []config.FilterRule{{Column: "LINE", Values: []string{"IC1"}}}

	out, err := NewFilterStage(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, int64(2), out.NumRows())
	line, ok := out.Partitions()[0].Column("LINE")
	require.True(t, ok)
	for i := 0; i < line.Len(); i++ {
		v, _ := line.StringAt(i)
		assert.Equal(t, "IC1", v)
	}
}

func TestFilterUnknownRuleColumnIsFatal(t *testing.T) {
	ds := statusDataset(t)
	cfg := testFilterConfig()
	cfg.Rules = []config.FilterRule{{Column: "NO_SUCH", Values: []string{"x"}}}

	_, err := NewFilterStage(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.True(t, errors.IsFatal(err))
}

func TestFilterUnknownStatusColumnIsFatal(t *testing.T) {
	ds := statusDataset(t)
	cfg := testFilterConfig()
	cfg.StatusColumns = []string{"MISSING_STATUS"}

	_, err := NewFilterStage(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestFilterNullsNeverMatch(t *testing.T) {
	p, err := dataset.NewPartition(
		dataset.NewStringColumn("LINE", []string{"IC1", ""}, []bool{true, false}),
		dataset.NewStringColumn("ARR_STATUS", []string{"REAL", "REAL"}, nil),
		dataset.NewStringColumn("DEP_STATUS", []string{"REAL", "REAL"}, nil),
	)
	require.NoError(t, err)
	ds := dataset.New([]string{"LINE", "ARR_STATUS", "DEP_STATUS"}, []*dataset.Partition{p}, 0)

	cfg := testFilterConfig()
	cfg.Rules = []config.FilterRule{{Column: "LINE", Values: []string{"IC1"}}}
	out, err := NewFilterStage(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.NumRows())
}

func TestFilterMonotonicRowCount(t *testing.T) {
	ds := statusDataset(t)
	out, err := NewFilterStage(testFilterConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.NumRows(), ds.NumRows())
}
