// Package filetemplate parses uploaded CSV input files into per-product row
// data merged into task data at start.
package filetemplate

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"labrun/pkg/domain"
)

// Template describes the expected shape of an uploaded CSV file. Identifier
// columns key rows to products; the remaining columns become field values.
type Template struct {
	Name string `json:"name" toml:"name"`
	// IdentifierColumns are joined with "/" to form the row key. At least
	// one is required.
	IdentifierColumns []string `json:"identifier_columns" toml:"identifier_columns"`
	// Columns lists the non-identifier headers the file must carry. Empty
	// means any extra columns are accepted as-is.
	Columns []string `json:"columns" toml:"columns"`
}

// RowData maps column labels to raw cell values for one keyed row.
type RowData map[string]string

// Parse reads CSV content and returns rows keyed by the joined identifier
// columns. A missing identifier or expected column yields a validation error
// naming the file.
func (t Template) Parse(r io.Reader) (map[string]RowData, error) {
	if len(t.IdentifierColumns) == 0 {
		return nil, domain.ValidationError{Message: fmt.Sprintf("file template %q has no identifier columns", t.Name)}
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, domain.ValidationError{Message: fmt.Sprintf("input file %q has incorrect headers/format", t.Name)}
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	for _, col := range t.IdentifierColumns {
		if _, ok := index[col]; !ok {
			return nil, domain.ValidationError{Message: fmt.Sprintf("input file %q has incorrect headers/format", t.Name)}
		}
	}
	for _, col := range t.Columns {
		if _, ok := index[col]; !ok {
			return nil, domain.ValidationError{Message: fmt.Sprintf("input file %q has incorrect headers/format", t.Name)}
		}
	}

	out := make(map[string]RowData)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.ValidationError{Message: fmt.Sprintf("input file %q has incorrect headers/format", t.Name)}
		}
		keyParts := make([]string, 0, len(t.IdentifierColumns))
		for _, col := range t.IdentifierColumns {
			keyParts = append(keyParts, strings.TrimSpace(record[index[col]]))
		}
		key := strings.Join(keyParts, "/")
		if key == "" {
			continue
		}
		row := make(RowData)
		for col, i := range index {
			if i >= len(record) {
				continue
			}
			if isIdentifier(t.IdentifierColumns, col) {
				continue
			}
			row[col] = strings.TrimSpace(record[i])
		}
		out[key] = row
	}
	return out, nil
}

func isIdentifier(ids []string, col string) bool {
	for _, id := range ids {
		if id == col {
			return true
		}
	}
	return false
}

// MergeInto applies parsed rows onto per-product data dictionaries. Rows whose
// key matches no product are ignored.
func MergeInto(rows map[string]RowData, data map[string]map[string]string) {
	for key, row := range rows {
		target, ok := data[key]
		if !ok {
			continue
		}
		for col, val := range row {
			target[col] = val
		}
	}
}
