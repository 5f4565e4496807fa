package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsStages(t *testing.T) {
	c := NewCollector("raildelta")

	c.ObserveStage("filter", 100, 40, 250*time.Millisecond)
	c.ObserveStage("temporal", 40, 40, 100*time.Millisecond)
	c.SetPartitions(3)
	c.AddBytesWritten(2048)

	families, err := c.Gather()
	require.NoError(t, err)

	byName := make(map[string]bool)
	for _, fam := range families {
		byName[fam.GetName()] = true
	}

	assert.True(t, byName["raildelta_stage_rows_in_total"])
	assert.True(t, byName["raildelta_stage_rows_out_total"])
	assert.True(t, byName["raildelta_stage_duration_seconds"])
	assert.True(t, byName["raildelta_output_partitions"])
	assert.True(t, byName["raildelta_output_bytes_total"])

	for _, fam := range families {
		if fam.GetName() != "raildelta_stage_rows_out_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == "filter" {
					assert.Equal(t, float64(40), m.GetCounter().GetValue())
				}
			}
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Each collector has a private registry, so two runs never collide.
	a := NewCollector("raildelta")
	b := NewCollector("raildelta")

	a.ObserveStage("ingest", 10, 10, time.Millisecond)

	families, err := b.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == "raildelta_stage_rows_in_total" {
			assert.Empty(t, fam.GetMetric())
		}
	}
}
