package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketops/mpimport/internal/domain"
	"github.com/marketops/mpimport/internal/excel"
)

// SourceRow is one upstream row destined for an aggregate.
type SourceRow struct {
	ExternalKey string
	Label       string
	Properties  map[string]string
}

// Source feeds rows for one target aggregate. Next returns ok=false once
// the feed is exhausted.
type Source interface {
	Name() string
	Total() *int
	Next(ctx context.Context) (SourceRow, bool, error)
	Close() error
}

// SourceResolver opens a row feed for one target aggregate of a request.
// Implementations wrap 1C OData connections, marketplace APIs, or an
// uploaded spreadsheet.
type SourceResolver interface {
	Open(ctx context.Context, req domain.ImportRequest, aggregate string) (Source, error)
}

// ExcelSource feeds rows from a parsed spreadsheet upload. KeyField names
// the row-record field used as the external key; rows missing it are
// reported as row errors by the import service.
type ExcelSource struct {
	data     excel.ExcelData
	name     string
	keyField string
	pos      int
}

// NewExcelSource wraps ExcelData as an import source.
func NewExcelSource(data excel.ExcelData, name, keyField string) *ExcelSource {
	return &ExcelSource{data: data, name: name, keyField: keyField}
}

func (s *ExcelSource) Name() string { return s.name }

func (s *ExcelSource) Total() *int {
	total := s.data.Metadata.RowCount
	return &total
}

func (s *ExcelSource) Next(ctx context.Context) (SourceRow, bool, error) {
	if err := ctx.Err(); err != nil {
		return SourceRow{}, false, err
	}
	if s.pos >= len(s.data.Rows) {
		return SourceRow{}, false, nil
	}
	record := s.data.Rows[s.pos]
	s.pos++

	properties := make(map[string]string, len(record))
	for field, value := range record {
		properties[field] = value
	}
	key := strings.TrimSpace(properties[s.keyField])

	return SourceRow{
		ExternalKey: key,
		Label:       key,
		Properties:  properties,
	}, true, nil
}

func (s *ExcelSource) Close() error { return nil }

// ExcelSourceResolver serves a single uploaded workbook for every target
// aggregate of a request.
type ExcelSourceResolver struct {
	Data     excel.ExcelData
	KeyField string
}

func (r ExcelSourceResolver) Open(_ context.Context, _ domain.ImportRequest, aggregate string) (Source, error) {
	if strings.TrimSpace(r.KeyField) == "" {
		return nil, fmt.Errorf("excel source for %s: key field is required", aggregate)
	}
	return NewExcelSource(r.Data, aggregate, r.KeyField), nil
}
