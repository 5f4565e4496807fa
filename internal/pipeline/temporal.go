package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/dataset"
	"github.com/raildelta/raildelta/pkg/errors"
)

// Calendar component suffixes, in derivation order. Day-of-week uses
// Monday=0 .. Sunday=6.
var componentSuffixes = []string{"_DAY", "_MONTH", "_YEAR", "_DAY_OF_WEEK", "_HOUR", "_MINUTE"}

// timeFormats are tried in order. Two-digit/two-digit dates are always
// read day-first; that rule is a contract of this stage, not a parser
// accident, so no month-first layout may ever appear here.
var timeFormats = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// TemporalFeaturizer turns each configured (actual, predicted) timestamp
// pair into a signed delta-seconds column plus six integer calendar
// components per timestamp column, then drops the raw timestamp columns.
//
// A cell that fails to parse yields nulls in all its derived fields; a
// missing timestamp column aborts the stage.
type TemporalFeaturizer struct {
	cfg    config.TemporalConfig
	logger *zap.Logger
	pool   *WorkerPool
}

// NewTemporalFeaturizer creates a temporal featurizer.
func NewTemporalFeaturizer(cfg config.TemporalConfig, pool *WorkerPool, logger *zap.Logger) *TemporalFeaturizer {
	return &TemporalFeaturizer{cfg: cfg, logger: logger, pool: pool}
}

// Run derives temporal features for every partition in parallel.
func (t *TemporalFeaturizer) Run(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	var tsCols []string
	for _, pair := range t.cfg.Pairs {
		for _, name := range []string{pair.Actual, pair.Predicted} {
			if !ds.HasField(name) {
				return nil, errors.Newf(errors.ErrorTypeStructural, "timestamp column %s not in dataset", name)
			}
			tsCols = append(tsCols, name)
		}
	}

	in := ds.Partitions()
	out := make([]*dataset.Partition, len(in))
	var parseFailures int64
	var mu sync.Mutex

	err := t.pool.Map(ctx, len(in), func(i int) error {
		p, failures, err := t.featurizePartition(in[i])
		if err != nil {
			return err
		}
		out[i] = p
		mu.Lock()
		parseFailures += failures
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := withoutFields(ds.Fields(), tsCols)
	for _, pair := range t.cfg.Pairs {
		fields = append(fields, pair.DiffName)
		for _, name := range []string{pair.Actual, pair.Predicted} {
			for _, suffix := range componentSuffixes {
				fields = append(fields, name+suffix)
			}
		}
	}

	if parseFailures > 0 {
		t.logger.Warn("unparseable timestamps nulled",
			zap.Int64("cells", parseFailures))
	}
	t.logger.Info("temporal featurization complete",
		zap.Int("pairs", len(t.cfg.Pairs)),
		zap.Int("derived_columns", len(t.cfg.Pairs)*(1+2*len(componentSuffixes))))
	return ds.Derive(fields, out), nil
}

func (t *TemporalFeaturizer) featurizePartition(p *dataset.Partition) (*dataset.Partition, int64, error) {
	parser := newTimeParser()
	var tsCols []string

	type parsed struct {
		times []time.Time
		ok    []bool
	}
	cache := make(map[string]parsed, 2*len(t.cfg.Pairs))

	parseColumn := func(name string) (parsed, error) {
		if pc, done := cache[name]; done {
			return pc, nil
		}
		col, ok := p.Column(name)
		if !ok {
			return parsed{}, errors.Newf(errors.ErrorTypeStructural, "partition missing timestamp column %s", name)
		}
		pc := parsed{times: make([]time.Time, col.Len()), ok: make([]bool, col.Len())}
		for i := 0; i < col.Len(); i++ {
			v, valid := col.StringAt(i)
			if !valid {
				continue
			}
			if ts, err := parser.parse(v); err == nil {
				pc.times[i] = ts
				pc.ok[i] = true
			}
		}
		cache[name] = pc
		return pc, nil
	}

	out := p
	var failures int64
	for _, pair := range t.cfg.Pairs {
		actual, err := parseColumn(pair.Actual)
		if err != nil {
			return nil, 0, err
		}
		predicted, err := parseColumn(pair.Predicted)
		if err != nil {
			return nil, 0, err
		}
		tsCols = append(tsCols, pair.Actual, pair.Predicted)

		n := len(actual.times)
		diff := make([]float64, n)
		valid := make([]bool, n)
		for i := 0; i < n; i++ {
			if actual.ok[i] && predicted.ok[i] {
				diff[i] = actual.times[i].Sub(predicted.times[i]).Seconds()
				valid[i] = true
			}
		}
		if out == p {
			out = p.Drop() // copy before the first mutation
		}
		if err := out.Append(dataset.NewFloat64Column(pair.DiffName, diff, valid)); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrorTypeInternal, "cannot append diff column")
		}

		for _, src := range []struct {
			name string
			parsed
		}{{pair.Actual, actual}, {pair.Predicted, predicted}} {
			for _, col := range calendarColumns(src.name, src.times, src.ok) {
				if err := out.Append(col); err != nil {
					return nil, 0, errors.Wrap(err, errors.ErrorTypeInternal, "cannot append calendar column")
				}
			}
			for i := 0; i < n; i++ {
				if !src.ok[i] {
					if v, present := columnValue(p, src.name, i); present && v != "" {
						failures++
					}
				}
			}
		}
	}

	return out.Drop(tsCols...), failures, nil
}

// calendarColumns derives the six integer components of one parsed
// timestamp column. Monday=0 .. Sunday=6.
func calendarColumns(name string, times []time.Time, ok []bool) []*dataset.Column {
	n := len(times)
	comps := make([][]int64, len(componentSuffixes))
	for i := range comps {
		comps[i] = make([]int64, n)
	}
	valid := make([]bool, n)
	copy(valid, ok)

	for i, ts := range times {
		if !ok[i] {
			continue
		}
		comps[0][i] = int64(ts.Day())
		comps[1][i] = int64(ts.Month())
		comps[2][i] = int64(ts.Year())
		comps[3][i] = int64((int(ts.Weekday()) + 6) % 7)
		comps[4][i] = int64(ts.Hour())
		comps[5][i] = int64(ts.Minute())
	}

	cols := make([]*dataset.Column, len(componentSuffixes))
	for i, suffix := range componentSuffixes {
		cols[i] = dataset.NewInt64Column(name+suffix, comps[i], valid)
	}
	return cols
}

func columnValue(p *dataset.Partition, name string, i int) (string, bool) {
	col, ok := p.Column(name)
	if !ok {
		return "", false
	}
	if col.IsNull(i) {
		return "", false
	}
	v, _ := col.StringAt(i)
	return v, true
}

// timeParser memoizes parse results; timestamp columns repeat values
// heavily within a block.
type timeParser struct {
	cache map[string]time.Time
}

func newTimeParser() *timeParser {
	return &timeParser{cache: make(map[string]time.Time)}
}

func (tp *timeParser) parse(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if ts, hit := tp.cache[v]; hit {
		return ts, nil
	}
	var firstErr error
	for _, layout := range timeFormats {
		ts, err := time.Parse(layout, v)
		if err == nil {
			tp.cache[v] = ts
			return ts, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
