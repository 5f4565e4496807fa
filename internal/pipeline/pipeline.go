// Package pipeline runs the delay-dataset preparation flow: ingest,
// filter, temporal featurization, categorical encoding, schema
// inference, partitioned write, and post-write validation. Stages run
// strictly in order; within a stage, partitions are processed in
// parallel on a pool scoped to the run.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/encoding"
	"github.com/raildelta/raildelta/pkg/metrics"
	"github.com/raildelta/raildelta/pkg/schema"
)

// Result summarizes one completed run.
type Result struct {
	RowsIn     int64
	RowsOut    int64
	Schema     *schema.Schema
	Table      *encoding.Table
	Write      *WriteResult
	Validation *ValidationReport
	Duration   time.Duration
}

// Pipeline wires the stages together under one configuration.
type Pipeline struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New creates a pipeline. The collector may be nil if no metrics are
// wanted.
func New(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger, metrics: collector}
}

// Run executes the full pipeline. The worker pool is acquired up front
// and released on every exit path. A validation failure is logged and
// reported in the result but does not fail the run; every other stage
// error aborts it.
func (pl *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	pool, err := AcquirePool(pl.cfg.Runtime, pl.logger)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	t := time.Now()
	ds, err := NewIngestor(pl.cfg.Ingest, pl.stageLogger("ingest")).Run(ctx)
	if err != nil {
		return nil, err
	}
	rowsIn := ds.NumRows()
	pl.observe("ingest", t, 0, rowsIn)

	t = time.Now()
	filtered, err := NewFilterStage(pl.cfg.Filter, pool, pl.stageLogger("filter")).Run(ctx, ds)
	if err != nil {
		return nil, err
	}
	pl.observe("filter", t, rowsIn, filtered.NumRows())
	ds = filtered

	t = time.Now()
	featurized, err := NewTemporalFeaturizer(pl.cfg.Temporal, pool, pl.stageLogger("temporal")).Run(ctx, ds)
	if err != nil {
		return nil, err
	}
	pl.observe("temporal", t, ds.NumRows(), featurized.NumRows())
	ds = featurized

	t = time.Now()
	encoded, table, err := NewCategoricalEncoder(pl.cfg.Encode, pool, pl.stageLogger("encode")).Run(ctx, ds)
	if err != nil {
		return nil, err
	}
	pl.observe("encode", t, ds.NumRows(), encoded.NumRows())
	ds = encoded

	sch := schema.Infer(ds)
	pl.logger.Info("schema inferred", zap.Int("columns", len(sch.Fields)))

	t = time.Now()
	write, err := NewPartitionedWriter(pl.cfg.Output, pool, pl.stageLogger("write")).Run(ctx, ds, sch)
	if err != nil {
		return nil, err
	}
	pl.observe("write", t, ds.NumRows(), write.Rows)
	if pl.metrics != nil {
		pl.metrics.SetPartitions(write.Partitions)
		pl.metrics.AddBytesWritten(write.Bytes)
	}

	result := &Result{
		RowsIn:  rowsIn,
		RowsOut: write.Rows,
		Schema:  sch,
		Table:   table,
		Write:   write,
	}

	report, err := NewValidator(pl.stageLogger("validate")).Run(ctx, write.Path, sch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pl.logger.Warn("post-write validation failed", zap.Error(err))
	}
	result.Validation = report

	result.Duration = time.Since(start)
	if pl.metrics != nil {
		pl.metrics.LogSummary(pl.logger)
	}
	pl.logger.Info("pipeline complete",
		zap.Int64("rows_in", result.RowsIn),
		zap.Int64("rows_out", result.RowsOut),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (pl *Pipeline) stageLogger(name string) *zap.Logger {
	return pl.logger.With(zap.String("stage", name))
}

func (pl *Pipeline) observe(name string, start time.Time, rowsIn, rowsOut int64) {
	elapsed := time.Since(start)
	if pl.metrics != nil {
		pl.metrics.ObserveStage(name, rowsIn, rowsOut, elapsed)
	}
	pl.logger.Debug("stage finished",
		zap.String("stage", name),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows_out", rowsOut))
}
