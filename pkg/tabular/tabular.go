// Package tabular reads the externally supplied key list (xlsx or csv) into
// an in-memory table whose name qualifies its columns once joined.
package tabular

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	perrors "github.com/parcelfind/parcelfind/pkg/errors"
)

// Row maps column name to cell value. Empty cells are nil.
type Row map[string]any

// Table is a parsed tabular input.
type Table struct {
	// Name identifies the source: the file base name without extension.
	Name    string
	Path    string
	Columns []string
	Rows    []Row
}

// Has reports whether the table declares a column. Matching is case-sensitive.
func (t *Table) Has(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Options controls how a tabular file is read.
type Options struct {
	// Sheet selects the worksheet of an xlsx file; empty uses the first sheet.
	Sheet string
}

// Format is a supported tabular file format.
type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatUnknown Format = ""
)

// DetectFormat maps a file extension to a format.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}

// SourceName derives the join qualifier from a file path.
func SourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Open reads a tabular file. The format is chosen from the extension.
func Open(ctx context.Context, path string, opts Options) (*Table, error) {
	if path == "" {
		return nil, perrors.InvalidInput("tabular input path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, perrors.Wrap(err, perrors.CodeInvalidInput, "tabular input is not readable").
			WithContext("path", path)
	}

	var (
		t   *Table
		err error
	)
	switch DetectFormat(path) {
	case FormatXLSX:
		t, err = readXLSX(ctx, path, opts.Sheet)
	case FormatCSV:
		t, err = readCSV(ctx, path)
	default:
		return nil, perrors.InvalidInput(fmt.Sprintf("unsupported tabular format %q (expected .xlsx or .csv)", filepath.Ext(path))).
			WithContext("path", path)
	}
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CodeInvalidInput, "failed to read tabular input").
			WithContext("path", path)
	}

	t.Name = SourceName(path)
	t.Path = path
	return t, nil
}
