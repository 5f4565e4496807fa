package encoding

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/linkedin/goavro/v2"

	"github.com/raildelta/raildelta/pkg/compression"
)

// Artifact file names. The binary artifact gains the compressor's
// extension suffix when compression is enabled.
const (
	ArtifactName = "category_encodings.avro"
	ReportName   = "category_mappings.txt"
)

const (
	kindBoolean     = "boolean"
	kindCategorical = "categorical"
)

// avroSchema describes one encoding-table entry per Avro record.
const avroSchema = `{
	"type": "record",
	"name": "ColumnEncoding",
	"fields": [
		{"name": "column", "type": "string"},
		{"name": "kind", "type": "string"},
		{"name": "codes", "type": {"type": "map", "values": "long"}}
	]
}`

// WriteAvro serializes the table as an Avro object container file.
func (t *Table) WriteAvro(w io.Writer) error {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return fmt.Errorf("failed to create Avro codec: %w", err)
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Codec: codec})
	if err != nil {
		return fmt.Errorf("failed to create Avro writer: %w", err)
	}

	data := make([]interface{}, 0, len(t.Boolean)+len(t.Categorical))
	for _, m := range t.Boolean {
		data = append(data, avroEntry(m, kindBoolean))
	}
	for _, m := range t.Categorical {
		data = append(data, avroEntry(m, kindCategorical))
	}

	return ocf.Append(data)
}

func avroEntry(m ColumnMapping, kind string) map[string]interface{} {
	codes := make(map[string]interface{}, len(m.Codes))
	for v, c := range m.Codes {
		codes[v] = c
	}
	return map[string]interface{}{
		"column": m.Column,
		"kind":   kind,
		"codes":  codes,
	}
}

// ReadAvro reconstructs a table from its Avro serialization. Column order
// within each section follows the write order.
func ReadAvro(r io.Reader) (*Table, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Avro artifact: %w", err)
	}

	t := &Table{}
	for ocf.Scan() {
		native, err := ocf.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read Avro record: %w", err)
		}
		rec, ok := native.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected Avro record type %T", native)
		}

		m := ColumnMapping{
			Column: rec["column"].(string),
			Codes:  make(map[string]int64),
		}
		for v, c := range rec["codes"].(map[string]interface{}) {
			code, ok := c.(int64)
			if !ok {
				return nil, fmt.Errorf("column %s: unexpected code type %T", m.Column, c)
			}
			m.Codes[v] = code
		}

		switch rec["kind"].(string) {
		case kindBoolean:
			t.Boolean = append(t.Boolean, m)
		case kindCategorical:
			t.Categorical = append(t.Categorical, m)
		default:
			return nil, fmt.Errorf("column %s: unknown mapping kind %q", m.Column, rec["kind"])
		}
	}
	if err := ocf.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan Avro artifact: %w", err)
	}

	return t, nil
}

// WriteReport writes the human-readable mapping report: a Boolean Columns
// section always listing both canonical tokens, and a Categorical Columns
// section listing entries in ascending code order.
func (t *Table) WriteReport(w io.Writer) error {
	var b strings.Builder
	b.WriteString("Category Encodings:\n\n")

	b.WriteString("Boolean Columns:\n")
	for _, m := range t.Boolean {
		fmt.Fprintf(&b, "\n%s:\n", m.Column)
		fmt.Fprintf(&b, "%s -> %d\n", BooleanFalse, m.Codes[BooleanFalse])
		fmt.Fprintf(&b, "%s -> %d\n", BooleanTrue, m.Codes[BooleanTrue])
	}

	b.WriteString("\nCategorical Columns:\n")
	for _, m := range t.Categorical {
		fmt.Fprintf(&b, "\n%s:\n", m.Column)
		for _, v := range m.valuesByCode() {
			fmt.Fprintf(&b, "%s -> %d\n", v, m.Codes[v])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Persist writes both artifacts into dir: the binary Avro file, run
// through comp when it is not the none compressor, and the text report.
// It returns the paths written.
func (t *Table) Persist(dir string, comp compression.Compressor) (binPath, reportPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	var raw bytes.Buffer
	if err := t.WriteAvro(&raw); err != nil {
		return "", "", err
	}

	binPath = filepath.Join(dir, ArtifactName+comp.Algorithm().Extension())
	payload, err := comp.Compress(raw.Bytes())
	if err != nil {
		return "", "", fmt.Errorf("failed to compress artifact: %w", err)
	}
	if err := os.WriteFile(binPath, payload, 0644); err != nil { //nolint:gosec
		return "", "", fmt.Errorf("failed to write binary artifact: %w", err)
	}

	reportPath = filepath.Join(dir, ReportName)
	f, err := os.Create(reportPath) //nolint:gosec
	if err != nil {
		return "", "", fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()
	if err := t.WriteReport(f); err != nil {
		return "", "", fmt.Errorf("failed to write report: %w", err)
	}

	return binPath, reportPath, nil
}

// Load reads a persisted binary artifact, detecting the compression
// algorithm from the file extension.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	alg := compression.None
	switch filepath.Ext(path) {
	case ".gz":
		alg = compression.Gzip
	case ".sz":
		alg = compression.Snappy
	case ".lz4":
		alg = compression.LZ4
	case ".zst":
		alg = compression.Zstd
	}

	comp, err := compression.New(alg)
	if err != nil {
		return nil, err
	}
	raw, err := comp.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress artifact: %w", err)
	}

	return ReadAvro(bytes.NewReader(raw))
}
