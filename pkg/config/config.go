// Package config provides the unified configuration for the pipeline.
// A single Config structure covers every stage, organized into logical
// sections:
//
//   - Ingest: source discovery, delimiter, type hints, block sizing
//   - Filter: the built-in validity rule and caller value filters
//   - Temporal: actual/predicted timestamp pairs
//   - Encode: boolean and categorical column sets, artifact settings
//   - Output: destination path and metadata emission
//   - Runtime: worker count and per-worker memory budget
//   - Logging: log level and encoding
//
// Defaults mirror the Swiss open-transport actual-data (ist-daten) feed:
// semicolon delimiter, REAL validity sentinel, the feed's boolean and
// categorical column vocabulary, and string type hints for identifier
// columns whose values would otherwise be misread as numeric (losing
// leading zeros).
//
// Example usage:
//
//	cfg := config.New()
//	cfg.Ingest.SourceDir = "data/train"
//	cfg.Runtime.Workers = 8
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
)

// Config is the complete pipeline configuration.
type Config struct {
	Ingest   IngestConfig   `yaml:"ingest" json:"ingest"`
	Filter   FilterConfig   `yaml:"filter" json:"filter"`
	Temporal TemporalConfig `yaml:"temporal" json:"temporal"`
	Encode   EncodeConfig   `yaml:"encode" json:"encode"`
	Output   OutputConfig   `yaml:"output" json:"output"`
	Runtime  RuntimeConfig  `yaml:"runtime" json:"runtime"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// IngestConfig controls source discovery and chunked CSV reading.
type IngestConfig struct {
	// SourceDir is the directory holding the delimited source files
	SourceDir string `yaml:"source_dir" json:"source_dir"`
	// Extension filters source files (default ".csv")
	Extension string `yaml:"extension" json:"extension"`
	// Delimiter is the field separator (default ";")
	Delimiter string `yaml:"delimiter" json:"delimiter"`
	// BlockSizeMB bounds the size of one ingested block; each block
	// becomes one partition
	BlockSizeMB int `yaml:"block_size_mb" json:"block_size_mb"`
	// TypeHints lists columns that must stay strings even when every
	// value looks numeric
	TypeHints []string `yaml:"type_hints" json:"type_hints"`
	// ExcludeColumns are dropped from the working column set
	ExcludeColumns []string `yaml:"exclude_columns" json:"exclude_columns"`
}

// FilterRule accepts rows whose column value is in Values. Rules apply in
// the order listed.
type FilterRule struct {
	Column string   `yaml:"column" json:"column"`
	Values []string `yaml:"values" json:"values"`
}

// FilterConfig controls the filter stage. The built-in validity rule runs
// first: both status columns must equal the sentinel, then the status
// columns are dropped.
type FilterConfig struct {
	StatusColumns    []string     `yaml:"status_columns" json:"status_columns"`
	ValiditySentinel string       `yaml:"validity_sentinel" json:"validity_sentinel"`
	Rules            []FilterRule `yaml:"rules" json:"rules"`
}

// TimestampPair names an actual/predicted timestamp column pair and the
// derived signed-seconds difference column.
type TimestampPair struct {
	Actual    string `yaml:"actual" json:"actual"`
	Predicted string `yaml:"predicted" json:"predicted"`
	DiffName  string `yaml:"diff_name" json:"diff_name"`
}

// TemporalConfig controls timestamp feature derivation.
type TemporalConfig struct {
	Pairs []TimestampPair `yaml:"pairs" json:"pairs"`
}

// EncodeConfig controls boolean and categorical encoding.
type EncodeConfig struct {
	BooleanColumns     []string `yaml:"boolean_columns" json:"boolean_columns"`
	CategoricalColumns []string `yaml:"categorical_columns" json:"categorical_columns"`
	// ArtifactDir receives the persisted mapping artifacts; defaults to
	// the output directory when empty
	ArtifactDir string `yaml:"artifact_dir" json:"artifact_dir"`
	// ArtifactCompression compresses the binary mapping artifact
	// (none, gzip, zstd, lz4, snappy)
	ArtifactCompression string `yaml:"artifact_compression" json:"artifact_compression"`
}

// OutputConfig controls the partitioned columnar write.
type OutputConfig struct {
	// Path is the destination directory for the part files
	Path string `yaml:"path" json:"path"`
	// WriteMetadata emits a consolidated metadata file next to the parts
	WriteMetadata bool `yaml:"write_metadata" json:"write_metadata"`
}

// RuntimeConfig sizes the worker pool.
type RuntimeConfig struct {
	// Workers is the fixed worker count (default NumCPU)
	Workers int `yaml:"workers" json:"workers"`
	// MemoryPerWorkerMB is the per-worker memory budget
	MemoryPerWorkerMB int `yaml:"memory_per_worker_mb" json:"memory_per_worker_mb"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
	Encoding    string `yaml:"encoding" json:"encoding"`
}

// New returns a Config populated with the ist-daten defaults.
func New() *Config {
	return &Config{
		Ingest: IngestConfig{
			SourceDir:   "data/train",
			Extension:   ".csv",
			Delimiter:   ";",
			BlockSizeMB: 128,
			TypeHints: []string{
				"BETRIEBSTAG",
				"FAHRT_BEZEICHNER",
				"BETREIBER_ID",
				"BETREIBER_ABK",
				"BETREIBER_NAME",
				"PRODUKT_ID",
				"LINIEN_ID",
				"LINIEN_TEXT",
				"UMLAUF_ID",
				"VERKEHRSMITTEL_TEXT",
				"ZUSATZFAHRT_TF",
				"FAELLT_AUS_TF",
				"BPUIC",
				"HALTESTELLEN_NAME",
				"ANKUNFTSZEIT",
				"AN_PROGNOSE",
				"AN_PROGNOSE_STATUS",
				"ABFAHRTSZEIT",
				"AB_PROGNOSE",
				"AB_PROGNOSE_STATUS",
				"DURCHFAHRT_TF",
			},
			ExcludeColumns: []string{
				"PRODUKT_ID",
				"BETREIBER_NAME",
				"BETREIBER_ID",
				"UMLAUF_ID",
				"VERKEHRSMITTEL_TEXT",
				"HALTESTELLEN_NAME",
				"BETRIEBSTAG",
			},
		},
		Filter: FilterConfig{
			StatusColumns:    []string{"AN_PROGNOSE_STATUS", "AB_PROGNOSE_STATUS"},
			ValiditySentinel: "REAL",
			Rules: []FilterRule{
				{Column: "LINIEN_TEXT", Values: []string{"IC2", "IC3", "IC5", "IC6", "IC8", "IC21"}},
			},
		},
		Temporal: TemporalConfig{
			Pairs: []TimestampPair{
				{Actual: "ANKUNFTSZEIT", Predicted: "AN_PROGNOSE", DiffName: "ARRIVAL_TIME_DIFF_SECONDS"},
				{Actual: "ABFAHRTSZEIT", Predicted: "AB_PROGNOSE", DiffName: "DEPARTURE_TIME_DIFF_SECONDS"},
			},
		},
		Encode: EncodeConfig{
			BooleanColumns: []string{"ZUSATZFAHRT_TF", "FAELLT_AUS_TF", "DURCHFAHRT_TF"},
			CategoricalColumns: []string{
				"FAHRT_BEZEICHNER",
				"BETREIBER_ABK",
				"LINIEN_ID",
				"LINIEN_TEXT",
				"BPUIC",
			},
			ArtifactDir:         "data/processed",
			ArtifactCompression: "gzip",
		},
		Output: OutputConfig{
			Path:          "data/processed/processed_data.parquet",
			WriteMetadata: true,
		},
		Runtime: RuntimeConfig{
			Workers:           runtime.NumCPU(),
			MemoryPerWorkerMB: 4096,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Ingest.SourceDir == "" {
		return fmt.Errorf("ingest.source_dir is required")
	}
	if len(c.Ingest.Delimiter) != 1 {
		return fmt.Errorf("ingest.delimiter must be a single character, got %q", c.Ingest.Delimiter)
	}
	if c.Ingest.BlockSizeMB <= 0 {
		return fmt.Errorf("ingest.block_size_mb must be positive, got %d", c.Ingest.BlockSizeMB)
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	if c.Runtime.Workers <= 0 {
		return fmt.Errorf("runtime.workers must be positive, got %d", c.Runtime.Workers)
	}
	if c.Runtime.MemoryPerWorkerMB <= 0 {
		return fmt.Errorf("runtime.memory_per_worker_mb must be positive, got %d", c.Runtime.MemoryPerWorkerMB)
	}
	if len(c.Filter.StatusColumns) != 2 {
		return fmt.Errorf("filter.status_columns must name exactly two columns, got %d", len(c.Filter.StatusColumns))
	}
	if c.Filter.ValiditySentinel == "" {
		return fmt.Errorf("filter.validity_sentinel is required")
	}
	for i, rule := range c.Filter.Rules {
		if rule.Column == "" {
			return fmt.Errorf("filter.rules[%d]: column is required", i)
		}
		if len(rule.Values) == 0 {
			return fmt.Errorf("filter.rules[%d]: at least one accepted value is required", i)
		}
	}
	for i, pair := range c.Temporal.Pairs {
		if pair.Actual == "" || pair.Predicted == "" || pair.DiffName == "" {
			return fmt.Errorf("temporal.pairs[%d]: actual, predicted, and diff_name are all required", i)
		}
	}
	switch c.Encode.ArtifactCompression {
	case "", "none", "gzip", "zstd", "lz4", "snappy":
	default:
		return fmt.Errorf("encode.artifact_compression %q is not supported", c.Encode.ArtifactCompression)
	}
	return nil
}
