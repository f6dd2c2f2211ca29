package parser

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseCSVBasic(t *testing.T) {
	data := []byte("a,b\n1,2\n3,4\n")
	columns, rows, err := Parse(data, ".csv")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(columns) != 2 || columns[0] != "a" || columns[1] != "b" {
		t.Fatalf("unexpected columns: %v", columns)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["a"] != int64(1) || rows[0]["b"] != int64(2) {
		t.Fatalf("expected numeric cells, got %#v", rows[0])
	}
	if rows[1]["a"] != int64(3) || rows[1]["b"] != int64(4) {
		t.Fatalf("expected numeric cells, got %#v", rows[1])
	}
}

func TestParseCSVValueCoercion(t *testing.T) {
	data := []byte("name,score,active,note\nalice,1.5,true,\nbob,-3,FALSE,ok\n")
	_, rows, err := Parse(data, ".csv")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if rows[0]["name"] != "alice" {
		t.Fatalf("expected string cell, got %#v", rows[0]["name"])
	}
	if rows[0]["score"] != 1.5 {
		t.Fatalf("expected float cell, got %#v", rows[0]["score"])
	}
	if rows[0]["active"] != true {
		t.Fatalf("expected bool cell, got %#v", rows[0]["active"])
	}
	if rows[0]["note"] != nil {
		t.Fatalf("expected nil for blank cell, got %#v", rows[0]["note"])
	}
	if rows[1]["score"] != int64(-3) || rows[1]["active"] != false {
		t.Fatalf("unexpected coercion: %#v", rows[1])
	}
}

func TestParseCSVErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		kind ErrorKind
	}{
		{"header only", "a,b\n", KindNoDataRows},
		{"blank header", " , \n1,2\n", KindNoColumns},
		{"ragged record", "a,b\n1,2,3\n", KindMalformed},
		{"unbalanced quote", "a,b\n\"1,2\n", KindMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tc.data), ".csv")
			assertKind(t, err, tc.kind)
		})
	}
}

func TestParseEmptyInput(t *testing.T) {
	_, _, err := Parse(nil, ".csv")
	assertKind(t, err, KindEmptyInput)
}

func TestParseUnsupportedExtension(t *testing.T) {
	_, _, err := Parse([]byte("a,b\n1,2\n"), ".json")
	assertKind(t, err, KindUnsupportedFormat)
}

func TestParseExcel(t *testing.T) {
	columns, rows, err := Parse(buildWorkbook(t, [][]any{
		{"city", "population"},
		{"oslo", 700000},
		{"bergen", 280000},
	}), ".xlsx")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(columns) != 2 || columns[0] != "city" {
		t.Fatalf("unexpected columns: %v", columns)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["city"] != "oslo" || rows[0]["population"] != int64(700000) {
		t.Fatalf("unexpected row: %#v", rows[0])
	}
}

func TestParseExcelHeaderOnly(t *testing.T) {
	_, _, err := Parse(buildWorkbook(t, [][]any{{"a", "b"}}), ".xlsx")
	assertKind(t, err, KindNoDataRows)
}

func TestParseExcelMalformed(t *testing.T) {
	_, _, err := Parse([]byte("not a zip archive"), ".xlsx")
	assertKind(t, err, KindMalformed)
}

func TestParseExcelPadsShortRows(t *testing.T) {
	_, rows, err := Parse(buildWorkbook(t, [][]any{
		{"a", "b", "c"},
		{"x", 1},
	}), ".xlsx")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if rows[0]["c"] != nil {
		t.Fatalf("expected nil padding for missing cell, got %#v", rows[0]["c"])
	}
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Kind != want {
		t.Fatalf("expected kind %s, got %s", want, parseErr.Kind)
	}
}

func buildWorkbook(t *testing.T, records [][]any) []byte {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()
	sheet := book.GetSheetName(0)
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := book.SetSheetRow(sheet, cell, &rec); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := book.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}
