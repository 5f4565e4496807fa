// Package metrics provides performance tracking for the pipeline using
// Prometheus collectors. The pipeline has no serving surface, so metrics
// are registered on a private registry, gathered at the end of a run, and
// emitted through the structured log.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// Collector records per-stage row counts and durations for one pipeline
// run. It is safe for concurrent use.
type Collector struct {
	registry      *prometheus.Registry
	rowsIn        *prometheus.CounterVec
	rowsOut       *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	partitions    prometheus.Gauge
	bytesWritten  prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rowsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_rows_in_total",
			Help:      "Rows entering each pipeline stage",
		}, []string{"stage"}),
		rowsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_rows_out_total",
			Help:      "Rows leaving each pipeline stage",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		partitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_partitions",
			Help:      "Partitions written to the columnar output",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written to the columnar output",
		}),
	}

	c.registry.MustRegister(c.rowsIn, c.rowsOut, c.stageDuration, c.partitions, c.bytesWritten)
	return c
}

// ObserveStage records one completed stage.
func (c *Collector) ObserveStage(stage string, rowsIn, rowsOut int64, elapsed time.Duration) {
	c.rowsIn.WithLabelValues(stage).Add(float64(rowsIn))
	c.rowsOut.WithLabelValues(stage).Add(float64(rowsOut))
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// SetPartitions records the written partition count.
func (c *Collector) SetPartitions(n int) {
	c.partitions.Set(float64(n))
}

// AddBytesWritten records bytes written to the output.
func (c *Collector) AddBytesWritten(n int64) {
	c.bytesWritten.Add(float64(n))
}

// Gather returns the collected metric families.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}

// LogSummary emits every collected sample through the logger. Called once
// at the end of a run.
func (c *Collector) LogSummary(logger *zap.Logger) {
	families, err := c.registry.Gather()
	if err != nil {
		logger.Warn("failed to gather metrics", zap.Error(err))
		return
	}

	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			fields := make([]zap.Field, 0, 4)
			for _, l := range m.GetLabel() {
				fields = append(fields, zap.String(l.GetName(), l.GetValue()))
			}
			switch {
			case m.GetCounter() != nil:
				fields = append(fields, zap.Float64("value", m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				fields = append(fields, zap.Float64("value", m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fields = append(fields,
					zap.Uint64("count", h.GetSampleCount()),
					zap.Float64("sum_seconds", h.GetSampleSum()))
			}
			logger.Info(fam.GetName(), fields...)
		}
	}
}
