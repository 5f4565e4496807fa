package pipeline

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/raildelta/raildelta/pkg/compression"
	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/dataset"
	"github.com/raildelta/raildelta/pkg/encoding"
	"github.com/raildelta/raildelta/pkg/errors"
)

// EncodedSuffix is appended to a source column's name to form its
// integer-coded counterpart.
const EncodedSuffix = "_encoded"

// CategoricalEncoder assigns deterministic integer codes to the
// configured boolean and categorical columns. Distinct values are
// collected globally across all partitions, so every partition encodes
// under one table. The table is persisted as a binary artifact plus a
// text report; a persistence failure is reported but does not fail the
// encode.
//
// Codes reflect the values present after filtering. Runs over different
// filter configurations can therefore assign different codes to the same
// raw value; the persisted artifact is the only authoritative record of
// a run's mapping.
type CategoricalEncoder struct {
	cfg    config.EncodeConfig
	logger *zap.Logger
	pool   *WorkerPool
}

// NewCategoricalEncoder creates an encoder.
func NewCategoricalEncoder(cfg config.EncodeConfig, pool *WorkerPool, logger *zap.Logger) *CategoricalEncoder {
	return &CategoricalEncoder{cfg: cfg, logger: logger, pool: pool}
}

// Run builds the encoding table, persists it, and rewrites every
// partition with `_encoded` columns replacing the originals. The
// returned table is the one used for the rewrite.
func (e *CategoricalEncoder) Run(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, *encoding.Table, error) {
	for _, c := range append(append([]string{}, e.cfg.BooleanColumns...), e.cfg.CategoricalColumns...) {
		if !ds.HasField(c) {
			return nil, nil, errors.Newf(errors.ErrorTypeConfig, "encode column %s not in dataset", c)
		}
	}

	table, err := e.buildTable(ctx, ds)
	if err != nil {
		return nil, nil, err
	}

	e.persist(table)

	in := ds.Partitions()
	out := make([]*dataset.Partition, len(in))
	err = e.pool.Map(ctx, len(in), func(i int) error {
		p, err := e.encodePartition(in[i], table)
		if err != nil {
			return err
		}
		out[i] = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sources := table.Columns()
	fields := withoutFields(ds.Fields(), sources)
	for _, name := range sources {
		fields = append(fields, name+EncodedSuffix)
	}

	e.logger.Info("encoding complete",
		zap.Int("boolean_columns", len(e.cfg.BooleanColumns)),
		zap.Int("categorical_columns", len(e.cfg.CategoricalColumns)))
	return ds.Derive(fields, out), table, nil
}

// buildTable collects global distinct values per categorical column.
// Collection is partition-parallel with a per-partition local set merged
// under a lock; nulls do not contribute values.
func (e *CategoricalEncoder) buildTable(ctx context.Context, ds *dataset.Dataset) (*encoding.Table, error) {
	distinct := make([]map[string]struct{}, len(e.cfg.CategoricalColumns))
	for i := range distinct {
		distinct[i] = make(map[string]struct{})
	}
	var mu sync.Mutex

	in := ds.Partitions()
	err := e.pool.Map(ctx, len(in), func(pi int) error {
		local := make([]map[string]struct{}, len(e.cfg.CategoricalColumns))
		for ci, name := range e.cfg.CategoricalColumns {
			col, ok := in[pi].Column(name)
			if !ok {
				return errors.Newf(errors.ErrorTypeStructural, "partition missing encode column %s", name)
			}
			local[ci] = make(map[string]struct{})
			for r := 0; r < col.Len(); r++ {
				if v, valid := col.StringAt(r); valid {
					local[ci][v] = struct{}{}
				}
			}
		}
		mu.Lock()
		for ci := range local {
			for v := range local[ci] {
				distinct[ci][v] = struct{}{}
			}
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	table := &encoding.Table{}
	for _, name := range e.cfg.BooleanColumns {
		table.Boolean = append(table.Boolean, encoding.NewBooleanMapping(name))
	}
	for ci, name := range e.cfg.CategoricalColumns {
		values := make([]string, 0, len(distinct[ci]))
		for v := range distinct[ci] {
			values = append(values, v)
		}
		table.Categorical = append(table.Categorical, encoding.NewCategoricalMapping(name, values))
		e.logger.Debug("categorical mapping built",
			zap.String("column", name),
			zap.Int("cardinality", len(values)))
	}
	return table, nil
}

// persist writes the binary artifact and the text report. Failure is a
// warning; the in-memory table stays usable for the run.
func (e *CategoricalEncoder) persist(table *encoding.Table) {
	comp, err := compression.New(compression.Algorithm(e.cfg.ArtifactCompression))
	if err != nil {
		e.logger.Warn("encoding artifact not persisted",
			zap.Error(errors.Wrap(err, errors.ErrorTypeEncodingPersist, "bad artifact compression")))
		return
	}

	binPath, reportPath, err := table.Persist(e.cfg.ArtifactDir, comp)
	if err != nil {
		e.logger.Warn("encoding artifact not persisted",
			zap.Error(errors.Wrap(err, errors.ErrorTypeEncodingPersist, "cannot persist encoding table")))
		return
	}
	e.logger.Info("encoding table persisted",
		zap.String("artifact", binPath),
		zap.String("report", reportPath))
}

// encodePartition appends one `_encoded` int64 column per mapped column
// and drops the originals. Boolean lookups are case-insensitive; any
// unmapped value encodes as null.
func (e *CategoricalEncoder) encodePartition(p *dataset.Partition, table *encoding.Table) (*dataset.Partition, error) {
	sources := table.Columns()
	booleans := make(map[string]struct{}, len(table.Boolean))
	for _, m := range table.Boolean {
		booleans[m.Column] = struct{}{}
	}

	out := p.Drop()
	for _, name := range sources {
		col, ok := p.Column(name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeStructural, "partition missing encode column %s", name)
		}
		codes, _ := table.Lookup(name)
		_, isBool := booleans[name]

		n := col.Len()
		vals := make([]int64, n)
		valid := make([]bool, n)
		for r := 0; r < n; r++ {
			v, present := col.StringAt(r)
			if !present {
				continue
			}
			if isBool {
				v = strings.ToLower(v)
			}
			if code, mapped := codes[v]; mapped {
				vals[r] = code
				valid[r] = true
			}
		}
		if err := out.Append(dataset.NewInt64Column(name+EncodedSuffix, vals, valid)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cannot append encoded column")
		}
	}
	return out.Drop(sources...), nil
}
