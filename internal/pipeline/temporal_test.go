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

func temporalDataset(t *testing.T, actual, predicted []string) *dataset.Dataset {
	t.Helper()
	p, err := dataset.NewPartition(
		dataset.NewStringColumn("SCHEDULED", actual, nil),
		dataset.NewStringColumn("FORECAST", predicted, nil),
	)
	require.NoError(t, err)
	return dataset.New([]string{"SCHEDULED", "FORECAST"}, []*dataset.Partition{p}, 0)
}

func testTemporalConfig() config.TemporalConfig {
	return config.TemporalConfig{
		Pairs: []config.TimestampPair{
			{Actual: "SCHEDULED", Predicted: "FORECAST", DiffName: "DELAY_SECONDS"},
		},
	}
}

func TestTemporalDiffSeconds(t *testing.T) {
	ds := temporalDataset(t,
		[]string{"01.01.2024 10:05:00", "01.01.2024 10:00:00"},
		[]string{"01.01.2024 10:00:00", "01.01.2024 10:05:00"},
	)

	out, err := NewTemporalFeaturizer(testTemporalConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	diff, ok := out.Partitions()[0].Column("DELAY_SECONDS")
	require.True(t, ok)
	assert.Equal(t, float64(300), diff.F64[0])
	assert.Equal(t, float64(-300), diff.F64[1])
}

func TestTemporalCalendarComponents(t *testing.T) {
	// 2024-03-07 14:23 is a Thursday
	ds := temporalDataset(t, []string{"07.03.2024 14:23"}, []string{"07.03.2024 14:23"})

	out, err := NewTemporalFeaturizer(testTemporalConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	p := out.Partitions()[0]
	expect := map[string]int64{
		"SCHEDULED_DAY":         7,
		"SCHEDULED_MONTH":       3,
		"SCHEDULED_YEAR":        2024,
		"SCHEDULED_DAY_OF_WEEK": 3, // Monday=0
		"SCHEDULED_HOUR":        14,
		"SCHEDULED_MINUTE":      23,
	}
	for name, want := range expect {
		col, ok := p.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, dataset.KindInt64, col.Kind, name)
		assert.Equal(t, want, col.I64[0], name)
	}
}

func TestTemporalDayFirstParsing(t *testing.T) {
	// 04.05.2024 must read as 4 May, never 5 April
	ds := temporalDataset(t, []string{"04.05.2024 00:00"}, []string{"04.05.2024 00:00"})

	out, err := NewTemporalFeaturizer(testTemporalConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	p := out.Partitions()[0]
	day, _ := p.Column("SCHEDULED_DAY")
	month, _ := p.Column("SCHEDULED_MONTH")
	assert.Equal(t, int64(4), day.I64[0])
	assert.Equal(t, int64(5), month.I64[0])
}

func TestTemporalDropsRawTimestampColumns(t *testing.T) {
	ds := temporalDataset(t, []string{"01.01.2024 10:00"}, []string{"01.01.2024 10:00"})

	out, err := NewTemporalFeaturizer(testTemporalConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.False(t, out.HasField("SCHEDULED"))
	assert.False(t, out.HasField("FORECAST"))
	assert.True(t, out.HasField("DELAY_SECONDS"))
}

func TestTemporalUnparseableValueBecomesNull(t *testing.T) {
	ds := temporalDataset(t,
		[]string{"not a timestamp", "01.01.2024 10:05"},
		[]string{"01.01.2024 10:00", "01.01.2024 10:00"},
	)

	out, err := NewTemporalFeaturizer(testTemporalConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	p := out.Partitions()[0]
	diff, _ := p.Column("DELAY_SECONDS")
	assert.True(t, diff.IsNull(0))
	assert.False(t, diff.IsNull(1))
	assert.Equal(t, float64(300), diff.F64[1])

	day, _ := p.Column("SCHEDULED_DAY")
	assert.True(t, day.IsNull(0))
	assert.False(t, day.IsNull(1))
}

func TestTemporalMissingColumnAborts(t *testing.T) {
	ds := temporalDataset(t, []string{"01.01.2024 10:00"}, []string{"01.01.2024 10:00"})
	cfg := config.TemporalConfig{
		Pairs: []config.TimestampPair{{Actual: "NO_SUCH", Predicted: "FORECAST", DiffName: "D"}},
	}

	_, err := NewTemporalFeaturizer(cfg, newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
	assert.True(t, errors.IsFatal(err))
}

func TestTemporalAcceptsISOTimestamps(t *testing.T) {
	ds := temporalDataset(t, []string{"2024-01-01T10:05:00"}, []string{"2024-01-01 10:00:00"})

	out, err := NewTemporalFeaturizer(testTemporalConfig(), newTestPool(t), zap.NewNop()).Run(context.Background(), ds)
	require.NoError(t, err)

	diff, _ := out.Partitions()[0].Column("DELAY_SECONDS")
	assert.Equal(t, float64(300), diff.F64[0])
}
