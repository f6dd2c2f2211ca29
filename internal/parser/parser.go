package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrorKind is the stable machine-readable category of a parse failure.
type ErrorKind string

const (
	KindEmptyInput        ErrorKind = "empty_input"
	KindNoDataRows        ErrorKind = "no_data_rows"
	KindNoColumns         ErrorKind = "no_columns"
	KindMalformed         ErrorKind = "malformed"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
)

var kindMessages = map[ErrorKind]string{
	KindEmptyInput:        "file is empty",
	KindNoDataRows:        "file has a header but no data rows",
	KindNoColumns:         "no column names found in header",
	KindMalformed:         "malformed tabular content",
	KindUnsupportedFormat: "unsupported file format, expected CSV or Excel",
}

// ParseError reports why tabular bytes could not be decoded.
type ParseError struct {
	Kind  ErrorKind
	cause error
}

func (e *ParseError) Error() string {
	msg := kindMessages[e.Kind]
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.cause }

func newError(kind ErrorKind, cause error) *ParseError {
	return &ParseError{Kind: kind, cause: cause}
}

// Parse decodes raw tabular bytes into an ordered column-name list and one
// payload map per data row. The extension decides the decoder; column order
// is preserved as encountered. Parse has no side effects.
func Parse(data []byte, ext string) ([]string, []map[string]any, error) {
	if len(data) == 0 {
		return nil, nil, newError(KindEmptyInput, nil)
	}
	switch strings.ToLower(ext) {
	case ".csv":
		return parseCSV(data)
	case ".xlsx", ".xls":
		return parseExcel(data)
	default:
		return nil, nil, newError(KindUnsupportedFormat, fmt.Errorf("extension %q", ext))
	}
}

func parseCSV(data []byte) ([]string, []map[string]any, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	records, err := reader.ReadAll()
	if err != nil {
		// covers unbalanced quoting and inconsistent field counts
		return nil, nil, newError(KindMalformed, err)
	}
	if len(records) == 0 {
		return nil, nil, newError(KindNoColumns, nil)
	}
	columns := records[0]
	if !hasUsableHeader(columns) {
		return nil, nil, newError(KindNoColumns, nil)
	}
	rows := buildRows(columns, records[1:])
	if len(rows) == 0 {
		return nil, nil, newError(KindNoDataRows, nil)
	}
	return columns, rows, nil
}

func parseExcel(data []byte) ([]string, []map[string]any, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, newError(KindMalformed, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, newError(KindNoColumns, nil)
	}
	records, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, nil, newError(KindMalformed, err)
	}
	if len(records) == 0 {
		return nil, nil, newError(KindNoColumns, nil)
	}
	columns := records[0]
	if !hasUsableHeader(columns) {
		return nil, nil, newError(KindNoColumns, nil)
	}
	rows := buildRows(columns, records[1:])
	if len(rows) == 0 {
		return nil, nil, newError(KindNoDataRows, nil)
	}
	return columns, rows, nil
}

func hasUsableHeader(columns []string) bool {
	for _, col := range columns {
		if strings.TrimSpace(col) != "" {
			return true
		}
	}
	return false
}

// buildRows keys every record by the header columns. Excel sheets can yield
// ragged or fully blank trailing rows; short rows are padded with nil and
// blank rows dropped.
func buildRows(columns []string, records [][]string) []map[string]any {
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if isBlankRecord(rec) {
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = coerceValue(rec[i])
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func isBlankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// coerceValue maps a cell to number, bool, nil or string.
func coerceValue(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	return cell
}
