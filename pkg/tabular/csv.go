package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// readCSV loads a delimited file with DuckDB's sniffer. Every column is read as
// text so identifiers such as parcel numbers keep their leading zeros.
func readCSV(ctx context.Context, path string) (*Table, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT * FROM read_csv_auto('%s', header=true, all_varchar=true)`, escapePath(path))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	t := &Table{Columns: columns}
	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan csv row: %w", err)
		}
		row := make(Row, len(columns))
		empty := true
		for i, name := range columns {
			if values[i].Valid && values[i].String != "" {
				row[name] = values[i].String
				empty = false
			} else {
				row[name] = nil
			}
		}
		if empty {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate csv rows: %w", err)
	}
	return t, nil
}

// escapePath escapes single quotes for SQL string literals.
func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
