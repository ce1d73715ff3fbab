package excel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseWorkbookCSV(t *testing.T) {
	payload := []byte("Артикул,Кол-во\nA100,5\nA101,2\n")

	grid, err := ParseWorkbook("items.csv", payload)
	if err != nil {
		t.Fatalf("ParseWorkbook returned error: %v", err)
	}
	if len(grid) != 3 {
		t.Fatalf("expected 3 grid rows, got %d", len(grid))
	}
	if grid[0][0] != "Артикул" || grid[2][1] != "2" {
		t.Fatalf("unexpected grid content: %v", grid)
	}
}

func TestParseWorkbookCSVStripsBOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Артикул\nA100\n")...)

	grid, err := ParseWorkbook("items.csv", payload)
	if err != nil {
		t.Fatalf("ParseWorkbook returned error: %v", err)
	}
	if grid[0][0] != "Артикул" {
		t.Fatalf("BOM leaked into first header: %q", grid[0][0])
	}
}

func TestParseWorkbookXLSXFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	_ = f.SetSheetRow("Sheet1", "A1", &[]any{"Артикул", "Кол-во"})
	_ = f.SetSheetRow("Sheet1", "A2", &[]any{"A100", 5})
	if _, err := f.NewSheet("Second"); err != nil {
		t.Fatalf("create sheet: %v", err)
	}
	_ = f.SetSheetRow("Second", "A1", &[]any{"другое"})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	grid, err := ParseWorkbook("items.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseWorkbook returned error: %v", err)
	}
	if len(grid) != 2 {
		t.Fatalf("expected 2 rows from the first sheet, got %d", len(grid))
	}
	if grid[0][0] != "Артикул" || grid[1][0] != "A100" {
		t.Fatalf("unexpected grid: %v", grid)
	}
}

func TestParseWorkbookRejectsUnknownExtension(t *testing.T) {
	_, err := ParseWorkbook("items.ods", []byte("data"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseWorkbookRejectsEmptyPayload(t *testing.T) {
	if _, err := ParseWorkbook("items.csv", nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
