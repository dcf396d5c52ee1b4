package tabular

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readXLSX reads the header row and every data row of one worksheet.
func readXLSX(ctx context.Context, path, sheet string) (*Table, error) {
	xlFile, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer xlFile.Close()

	if sheet == "" {
		sheet = xlFile.GetSheetName(0)
		if sheet == "" {
			sheetList := xlFile.GetSheetList()
			if len(sheetList) == 0 {
				return nil, fmt.Errorf("no sheets found in xlsx file")
			}
			sheet = sheetList[0]
		}
	} else if idx, err := xlFile.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}

	rows, err := xlFile.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("xlsx sheet %q is empty", sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	t := &Table{Columns: header}
	rowNum := 1
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rowNum++

		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}

		row := make(Row, len(header))
		empty := true
		for i, name := range header {
			if name == "" {
				continue
			}
			if _, dup := row[name]; dup {
				continue // first column of a repeated header wins
			}
			var v any
			if i < len(cols) && cols[i] != "" {
				v = cols[i]
				empty = false
			}
			row[name] = v
		}
		if empty {
			continue
		}
		t.Rows = append(t.Rows, row)
	}

	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return t, nil
}
