// Package raildelta prepares Swiss ist-daten ("actual data") train delay
// records for model training. It reads the raw semicolon-delimited CSV
// archives published on opentransportdata.swiss, keeps only rows whose
// arrival and departure forecasts were confirmed as real measurements,
// derives delay and calendar features from the timestamp pairs, encodes
// boolean and categorical columns to dense integer codes, and writes the
// result as a partitioned, Snappy-compressed Parquet dataset together
// with the mapping tables needed to interpret the codes later.
//
// # Pipeline
//
// A run moves through fixed stages, each materializing before the next:
//
//  1. Ingest: discover source files, unify the column schema against the
//     first file's header, read everything in bounded-size blocks.
//  2. Filter: keep rows whose status columns carry the validity
//     sentinel, then apply the configured value-membership rules.
//  3. Featurize: parse the actual/predicted timestamp pairs (day-first),
//     compute signed delta seconds, derive calendar components.
//  4. Encode: assign deterministic integer codes, persist the mapping
//     artifacts, replace the source columns with encoded ones.
//  5. Write: infer the physical schema, repartition proportionally to
//     the raw input volume, write Parquet partitions.
//  6. Validate: reopen the output, verify schema fidelity and encoded
//     code ranges.
//
// # Quick Start
//
//	raildelta run --source data/train --output data/processed
//
// Or with a configuration file:
//
//	raildelta run --config raildelta.yaml
//
// The building blocks (dataset model, schema inference, encoding
// tables, compression) live under pkg/ and can be used on their own.
package raildelta
