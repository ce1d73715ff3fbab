package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/marketops/mpimport/internal/domain"
	"github.com/marketops/mpimport/internal/excel"
)

// Aggregate describes one importable target: its display title, the
// field that uniquely keys a row, and the columns expected in source
// spreadsheets.
type Aggregate struct {
	Index    string
	Title    string
	KeyField string
	Columns  []excel.ColumnDef
}

// Catalog lists the aggregates this server knows how to import.
var Catalog = map[string]Aggregate{
	"a002_organization": {
		Index:    "a002_organization",
		Title:    "Организации",
		KeyField: "inn",
		Columns: []excel.ColumnDef{
			{FieldName: "inn", Title: "ИНН", Type: excel.TypeString},
			{FieldName: "name", Title: "Наименование", Type: excel.TypeString},
			{FieldName: "kpp", Title: "КПП", Type: excel.TypeString},
		},
	},
	"a003_counterparty": {
		Index:    "a003_counterparty",
		Title:    "Контрагенты",
		KeyField: "inn",
		Columns: []excel.ColumnDef{
			{FieldName: "inn", Title: "ИНН", Type: excel.TypeString},
			{FieldName: "name", Title: "Наименование", Type: excel.TypeString},
			{FieldName: "is_supplier", Title: "Поставщик", Type: excel.TypeBoolean},
		},
	},
	"a004_nomenclature": {
		Index:    "a004_nomenclature",
		Title:    "Номенклатура",
		KeyField: "article",
		Columns: []excel.ColumnDef{
			{FieldName: "article", Title: "Артикул", Type: excel.TypeString},
			{FieldName: "name", Title: "Наименование", Type: excel.TypeString},
			{FieldName: "category", Title: "Категория", Type: excel.TypeString},
			{FieldName: "quantity", Title: "Кол-во", Type: excel.TypeNumber},
		},
	},
	"p901_barcodes": {
		Index:    "p901_barcodes",
		Title:    "Штрихкоды номенклатуры",
		KeyField: "barcode",
		Columns: []excel.ColumnDef{
			{FieldName: "barcode", Title: "Штрихкод", Type: excel.TypeString},
			{FieldName: "article", Title: "Артикул", Type: excel.TypeString},
		},
	},
	"p906_prices": {
		Index:    "p906_prices",
		Title:    "Плановые цены номенклатуры",
		KeyField: "article",
		Columns: []excel.ColumnDef{
			{FieldName: "article", Title: "Артикул", Type: excel.TypeString},
			{FieldName: "price", Title: "Цена", Type: excel.TypeNumber},
			{FieldName: "date", Title: "Дата", Type: excel.TypeDate},
		},
	},
	"a007_mp_products": {
		Index:    "a007_mp_products",
		Title:    "Товары маркетплейса",
		KeyField: "offer_id",
		Columns: []excel.ColumnDef{
			{FieldName: "offer_id", Title: "Артикул продавца", Type: excel.TypeString},
			{FieldName: "name", Title: "Наименование", Type: excel.TypeString},
			{FieldName: "barcode", Title: "Штрихкод", Type: excel.TypeString},
		},
	},
	"a008_sales": {
		Index:    "a008_sales",
		Title:    "Продажи маркетплейса",
		KeyField: "posting_number",
		Columns: []excel.ColumnDef{
			{FieldName: "posting_number", Title: "Номер отправления", Type: excel.TypeString},
			{FieldName: "offer_id", Title: "Артикул продавца", Type: excel.TypeString},
			{FieldName: "quantity", Title: "Кол-во", Type: excel.TypeNumber},
			{FieldName: "date", Title: "Дата", Type: excel.TypeDate},
		},
	},
}

// FileSourceResolver feeds aggregates from workbook drops on disk:
// <dir>/<aggregate>.xlsx or <dir>/<aggregate>.csv, columns per Catalog.
// It stands in for live 1C and marketplace connections.
type FileSourceResolver struct {
	Dir string
}

func (r FileSourceResolver) Open(_ context.Context, _ domain.ImportRequest, aggregate string) (Source, error) {
	entry, ok := Catalog[aggregate]
	if !ok {
		return nil, fmt.Errorf("unknown aggregate %q", aggregate)
	}
	path, err := r.findFile(aggregate)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	fileName := filepath.Base(path)
	grid, err := excel.ParseWorkbook(fileName, payload)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}
	data, err := excel.FromRaw(grid, entry.Columns, fileName)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", fileName, err)
	}
	return NewExcelSource(data, aggregate, entry.KeyField), nil
}

func (r FileSourceResolver) findFile(aggregate string) (string, error) {
	for _, ext := range []string{".xlsx", ".csv"} {
		path := filepath.Join(r.Dir, aggregate+ext)
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no source file for %s under %s", aggregate, r.Dir)
}
