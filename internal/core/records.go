package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// MaxHeaderSearchRows is the maximum number of rows to scan for the header.
var MaxHeaderSearchRows = 20

// ContextCheckInterval is how often to check for context cancellation.
var ContextCheckInterval = 100

// maxXLSRows bounds how many rows are read from a legacy XLS sheet.
const maxXLSRows = 100000

// Spreadsheet magic numbers.
var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Table is a file split into records, with the header row located.
type Table struct {
	Header  []string
	Index   HeaderIndex
	Records [][]string
	// Line is the 1-based line of the first data record.
	Line int
}

// ReadRecords splits content into records. XLSX and XLS workbooks are
// recognised by their magic numbers and read from the first sheet; anything
// else is decoded with charset and read as delimited text using sep (","
// when empty).
func ReadRecords(content []byte, sep, charset string) ([][]string, error) {
	switch {
	case bytes.HasPrefix(content, zipMagic):
		return readXLSX(content)
	case bytes.HasPrefix(content, oleMagic):
		return readXLS(content)
	}

	text, err := DecodeText(content, charset)
	if err != nil {
		return nil, err
	}
	return parseCSV(text, sep)
}

// IsSpreadsheet reports whether content is an XLSX or XLS workbook.
func IsSpreadsheet(content []byte) bool {
	return bytes.HasPrefix(content, zipMagic) || bytes.HasPrefix(content, oleMagic)
}

func readXLSX(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", ErrMalformedFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMalformedFile)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrMalformedFile, sheets[0], err)
	}
	return rows, nil
}

func readXLS(content []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(content), "cp1252")
	if err != nil {
		return nil, fmt.Errorf("%w: open xls: %v", ErrMalformedFile, err)
	}
	return wb.ReadAllCells(maxXLSRows), nil
}

func parseCSV(text, sep string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if sep != "" {
		r.Comma = []rune(sep)[0]
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	return records, nil
}

// LocateTable drops the first skip records and finds the header row: the
// first of the next MaxHeaderSearchRows records that contains every label
// in required. Empty data records are dropped.
func LocateTable(ctx context.Context, records [][]string, skip int, required []string) (*Table, error) {
	if skip > 0 {
		if skip >= len(records) {
			return nil, ErrEmptyFile
		}
		records = records[skip:]
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	headerIdx := findHeaderInRecords(records, required)
	if headerIdx < 0 {
		return nil, &MappingError{Field: "header", Reason: fmt.Sprintf("missing required column: none of the first %d rows contains %s", MaxHeaderSearchRows, strings.Join(required, ", "))}
	}

	t := &Table{
		Header: records[headerIdx],
		Index:  MakeHeaderIndex(records[headerIdx]),
		Line:   skip + headerIdx + 2,
	}
	for i, rec := range records[headerIdx+1:] {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isEmptyRow(rec) {
			continue
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// findHeaderInRecords returns the index of the first record containing all
// required labels, in any order, or -1.
func findHeaderInRecords(records [][]string, required []string) int {
	maxRows := MaxHeaderSearchRows
	if len(records) < maxRows {
		maxRows = len(records)
	}

	for i := 0; i < maxRows; i++ {
		if isEmptyRow(records[i]) {
			continue
		}
		idx := MakeHeaderIndex(records[i])
		found := true
		for _, label := range required {
			if !idx.Has(label) {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
