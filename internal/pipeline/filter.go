package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/dataset"
	"github.com/raildelta/raildelta/pkg/errors"
)

// FilterStage reduces the dataset to valid rows. The built-in validity
// rule runs first: every status column must equal the sentinel value,
// and the status columns are dropped afterwards. Caller rules are
// value-membership tests applied in the order given. Null cells never
// match a membership test.
type FilterStage struct {
	cfg    config.FilterConfig
	logger *zap.Logger
	pool   *WorkerPool
}

// NewFilterStage creates a filter stage.
func NewFilterStage(cfg config.FilterConfig, pool *WorkerPool, logger *zap.Logger) *FilterStage {
	return &FilterStage{cfg: cfg, logger: logger, pool: pool}
}

// Run filters every partition in parallel. A rule or status column that
// does not exist in the dataset aborts the run.
func (f *FilterStage) Run(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	for _, c := range f.cfg.StatusColumns {
		if !ds.HasField(c) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "status column %s not in dataset", c)
		}
	}
	for _, r := range f.cfg.Rules {
		if !ds.HasField(r.Column) {
			return nil, errors.Newf(errors.ErrorTypeConfig, "filter column %s not in dataset", r.Column)
		}
	}

	accepted := make([]map[string]struct{}, len(f.cfg.Rules))
	for i, r := range f.cfg.Rules {
		accepted[i] = make(map[string]struct{}, len(r.Values))
		for _, v := range r.Values {
			accepted[i][v] = struct{}{}
		}
	}

	in := ds.Partitions()
	out := make([]*dataset.Partition, len(in))
	err := f.pool.Map(ctx, len(in), func(i int) error {
		p, err := f.filterPartition(in[i], accepted)
		if err != nil {
			return err
		}
		out[i] = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := withoutFields(ds.Fields(), f.cfg.StatusColumns)
	result := ds.Derive(fields, out)

	f.logger.Info("filter complete",
		zap.Int64("rows_in", ds.NumRows()),
		zap.Int64("rows_out", result.NumRows()),
		zap.Int("rules", len(f.cfg.Rules)))
	return result, nil
}

func (f *FilterStage) filterPartition(p *dataset.Partition, accepted []map[string]struct{}) (*dataset.Partition, error) {
	keep, err := f.validRows(p)
	if err != nil {
		return nil, err
	}
	p = p.Take(keep).Drop(f.cfg.StatusColumns...)

	for i, rule := range f.cfg.Rules {
		col, ok := p.Column(rule.Column)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeStructural, "partition missing filter column %s", rule.Column)
		}
		var rows []int
		for r := 0; r < col.Len(); r++ {
			v, valid := col.StringAt(r)
			if !valid {
				continue
			}
			if _, member := accepted[i][v]; member {
				rows = append(rows, r)
			}
		}
		p = p.Take(rows)
	}
	return p, nil
}

// validRows returns the indexes where every status column equals the
// sentinel.
func (f *FilterStage) validRows(p *dataset.Partition) ([]int, error) {
	cols := make([]*dataset.Column, len(f.cfg.StatusColumns))
	for i, name := range f.cfg.StatusColumns {
		c, ok := p.Column(name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeStructural, "partition missing status column %s", name)
		}
		cols[i] = c
	}

	var rows []int
	for r := 0; r < p.NumRows(); r++ {
		match := true
		for _, c := range cols {
			v, valid := c.StringAt(r)
			if !valid || v != f.cfg.ValiditySentinel {
				match = false
				break
			}
		}
		if match {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func withoutFields(fields, drop []string) []string {
	dropped := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		dropped[d] = struct{}{}
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, skip := dropped[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}
