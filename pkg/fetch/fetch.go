// Package fetch defines the collaborator interface that supplies
// already-extracted source files before ingestion runs. Downloading and
// extracting remote archives happens outside the pipeline core; the core
// only requires that the files for a given archive identifier exist
// locally, and treats their completeness as a precondition.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Fetcher ensures the extracted files for an archive identifier (for the
// ist-daten feed, a month such as "2024-01") are present locally and
// returns the directory holding them.
type Fetcher interface {
	Ensure(ctx context.Context, archiveID string) (string, error)
}

// LocalFetcher serves archives from a pre-populated directory tree: the
// files for archive "2024-01" live under Root/2024-01, or directly under
// Root when Flat is set.
type LocalFetcher struct {
	Root string
	Flat bool
}

// Ensure verifies the archive's files are present and returns their
// directory. It never downloads anything.
func (f *LocalFetcher) Ensure(ctx context.Context, archiveID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := f.Root
	if !f.Flat {
		dir = filepath.Join(f.Root, archiveID)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("archive %s not available under %s: %w", archiveID, f.Root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("archive %s: %s is not a directory", archiveID, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", archiveID, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("archive %s: no extracted files in %s", archiveID, dir)
	}

	return dir, nil
}

// MonthsBack returns the n month identifiers ending at now, newest first,
// formatted as YYYY-MM.
func MonthsBack(now time.Time, n int) []string {
	months := make([]string, 0, n)
	year, month, _ := now.Date()
	cur := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		months = append(months, cur.Format("2006-01"))
		cur = cur.AddDate(0, -1, 0)
	}
	return months
}
