package excel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyWorkbook is returned when an uploaded grid has no header row.
var ErrEmptyWorkbook = errors.New("workbook has no header row")

// DataType drives cell normalization for a declared column.
type DataType string

const (
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeDate    DataType = "date"
	TypeBoolean DataType = "boolean"
)

// ColumnDef declares one expected column for an import use case.
type ColumnDef struct {
	FieldName string   `json:"field_name"`
	Title     string   `json:"title"`
	Type      DataType `json:"data_type"`
}

// ColumnMapping associates a declared column with a discovered sheet header.
// Found and FileIndex are either both set or both nil.
type ColumnMapping struct {
	Expected  string  `json:"expected"`
	Found     *string `json:"found"`
	FileIndex *int    `json:"file_index"`
}

// Matched reports whether the declared column was located in the sheet.
func (m ColumnMapping) Matched() bool {
	return m.Found != nil && m.FileIndex != nil
}

// ExcelColumn renders the matched position as a spreadsheet column letter
// (0 -> A, 25 -> Z, 26 -> AA). Empty for unmatched entries.
func (m ColumnMapping) ExcelColumn() string {
	if m.FileIndex == nil {
		return ""
	}
	var out []byte
	n := *m.FileIndex + 1
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// Metadata summarizes a parsed workbook.
type Metadata struct {
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
	FileName string   `json:"file_name"`
}

// ExcelData is the import engine output: mapping, normalized rows, metadata.
// Constructed once per upload via FromRaw and never mutated afterwards.
type ExcelData struct {
	Metadata      Metadata            `json:"metadata"`
	Rows          []map[string]string `json:"rows"`
	ColumnMapping []ColumnMapping     `json:"column_mapping"`
	FileHeaders   []string            `json:"file_headers"`
}

// FromRaw builds ExcelData from a decoded grid. The first row is the header
// row; it is the only shape that is an error to be missing. Unmatched
// columns stay unmatched and contribute no key to any row record.
func FromRaw(raw [][]string, defs []ColumnDef, fileName string) (ExcelData, error) {
	if len(raw) == 0 {
		return ExcelData{}, ErrEmptyWorkbook
	}

	headers := raw[0]
	fileHeaders := make([]string, len(headers))
	for i, h := range headers {
		fileHeaders[i] = strings.TrimSpace(h)
	}

	mapping := MatchColumns(defs, headers)
	rows := ProjectRows(raw[1:], defs, mapping)

	fieldNames := make([]string, len(defs))
	for i, def := range defs {
		fieldNames[i] = def.FieldName
	}

	return ExcelData{
		Metadata: Metadata{
			Columns:  fieldNames,
			RowCount: len(rows),
			FileName: fileName,
		},
		Rows:          rows,
		ColumnMapping: mapping,
		FileHeaders:   fileHeaders,
	}, nil
}

// PrettyJSON renders the full structure for preview and debugging.
func (d ExcelData) PrettyJSON() (string, error) {
	encoded, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode excel data: %w", err)
	}
	return string(encoded), nil
}

// HasAllColumnsMapped reports whether every declared column was found.
func (d ExcelData) HasAllColumnsMapped() bool {
	for _, m := range d.ColumnMapping {
		if !m.Matched() {
			return false
		}
	}
	return true
}

// UnmappedCount returns the number of declared columns without a header.
func (d ExcelData) UnmappedCount() int {
	count := 0
	for _, m := range d.ColumnMapping {
		if !m.Matched() {
			count++
		}
	}
	return count
}
