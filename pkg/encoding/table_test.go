package encoding

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raildelta/raildelta/pkg/compression"
)

func TestBooleanMappingIsFixed(t *testing.T) {
	m := NewBooleanMapping("FAELLT_AUS_TF")

	assert.Equal(t, map[string]int64{"false": 0, "true": 1}, m.Codes)
}

func TestCategoricalMappingIsDenseAndSorted(t *testing.T) {
	m := NewCategoricalMapping("LINIEN_TEXT", []string{"IC5", "IC2", "IC21", "IC3"})

	assert.Equal(t, map[string]int64{
		"IC2":  0,
		"IC21": 1,
		"IC3":  2,
		"IC5":  3,
	}, m.Codes)

	// Codes are a dense permutation of [0, N-1].
	seen := make(map[int64]bool)
	for _, c := range m.Codes {
		assert.False(t, seen[c])
		seen[c] = true
		assert.GreaterOrEqual(t, c, int64(0))
		assert.Less(t, c, int64(len(m.Codes)))
	}
}

func TestCategoricalMappingIsDeterministic(t *testing.T) {
	a := NewCategoricalMapping("c", []string{"8503000", "8507000", "8500010"})
	b := NewCategoricalMapping("c", []string{"8507000", "8500010", "8503000"})

	assert.Equal(t, a.Codes, b.Codes)
}

func TestTableLookup(t *testing.T) {
	table := &Table{
		Boolean:     []ColumnMapping{NewBooleanMapping("DURCHFAHRT_TF")},
		Categorical: []ColumnMapping{NewCategoricalMapping("LINIEN_ID", []string{"007", "12"})},
	}

	codes, ok := table.Lookup("DURCHFAHRT_TF")
	require.True(t, ok)
	assert.EqualValues(t, 1, codes["true"])

	codes, ok = table.Lookup("LINIEN_ID")
	require.True(t, ok)
	assert.EqualValues(t, 0, codes["007"])

	_, ok = table.Lookup("UNKNOWN")
	assert.False(t, ok)

	assert.Equal(t, []string{"DURCHFAHRT_TF", "LINIEN_ID"}, table.Columns())
}

func TestAvroRoundTrip(t *testing.T) {
	table := &Table{
		Boolean: []ColumnMapping{
			NewBooleanMapping("ZUSATZFAHRT_TF"),
			NewBooleanMapping("FAELLT_AUS_TF"),
		},
		Categorical: []ColumnMapping{
			NewCategoricalMapping("LINIEN_TEXT", []string{"IC2", "IC3", "IC5"}),
			NewCategoricalMapping("BPUIC", []string{"8503000", "8507000"}),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, table.WriteAvro(&buf))

	loaded, err := ReadAvro(&buf)
	require.NoError(t, err)

	assert.Equal(t, table, loaded)
}

func TestPersistAndLoad(t *testing.T) {
	table := &Table{
		Boolean:     []ColumnMapping{NewBooleanMapping("DURCHFAHRT_TF")},
		Categorical: []ColumnMapping{NewCategoricalMapping("BETREIBER_ABK", []string{"SBB", "BLS"})},
	}

	for _, alg := range []compression.Algorithm{compression.None, compression.Gzip, compression.Zstd} {
		t.Run(string(alg), func(t *testing.T) {
			dir := t.TempDir()
			comp, err := compression.New(alg)
			require.NoError(t, err)

			binPath, reportPath, err := table.Persist(dir, comp)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, ArtifactName+alg.Extension()), binPath)
			assert.Equal(t, filepath.Join(dir, ReportName), reportPath)

			loaded, err := Load(binPath)
			require.NoError(t, err)
			assert.Equal(t, table, loaded)
		})
	}
}

func TestReportFormat(t *testing.T) {
	table := &Table{
		Boolean: []ColumnMapping{NewBooleanMapping("ZUSATZFAHRT_TF")},
		Categorical: []ColumnMapping{
			NewCategoricalMapping("LINIEN_TEXT", []string{"IC5", "IC2"}),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, table.WriteReport(&buf))
	report := buf.String()

	assert.True(t, strings.HasPrefix(report, "Category Encodings:\n"))
	assert.Contains(t, report, "Boolean Columns:\n")
	assert.Contains(t, report, "ZUSATZFAHRT_TF:\nfalse -> 0\ntrue -> 1\n")
	assert.Contains(t, report, "Categorical Columns:\n")

	// Categorical entries are listed in ascending code order.
	assert.Contains(t, report, "LINIEN_TEXT:\nIC2 -> 0\nIC5 -> 1\n")
}
