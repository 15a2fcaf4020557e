package core

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestReadRecords_CSV(t *testing.T) {
	content := []byte("\xEF\xBB\xBFDate;Amount;Name\n2024-01-05;-45,00;\"Caf\xC3\xA9; Bar\"\n")
	records, err := ReadRecords(content, ";", "")
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	want := [][]string{
		{"Date", "Amount", "Name"},
		{"2024-01-05", "-45,00", "Café; Bar"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("ReadRecords() = %q, want %q", records, want)
	}
}

func TestReadRecords_Windows1252Fallback(t *testing.T) {
	// 0xE9 is é in Windows-1252 and invalid on its own in UTF-8.
	records, err := ReadRecords([]byte("Name\nCaf\xE9\n"), "", "")
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	if got := records[1][0]; got != "Café" {
		t.Errorf("decoded cell = %q, want %q", got, "Café")
	}
}

func TestReadRecords_UnknownCharset(t *testing.T) {
	_, err := ReadRecords([]byte("a,b\n"), "", "klingon")
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("ReadRecords() error = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestReadRecords_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Date", "Amount", "Name"},
		{"2024-01-05", "-45.00", "Corner Grocery"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	content := buf.Bytes()
	if !IsSpreadsheet(content) {
		t.Fatal("IsSpreadsheet() = false for an xlsx workbook")
	}
	records, err := ReadRecords(content, "", "")
	if err != nil {
		t.Fatalf("ReadRecords() error: %v", err)
	}
	if len(records) != 2 || records[1][2] != "Corner Grocery" {
		t.Errorf("ReadRecords() = %q", records)
	}
}

func TestReadRecords_BrokenZip(t *testing.T) {
	_, err := ReadRecords([]byte("PK\x03\x04not really a workbook"), "", "")
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("ReadRecords() error = %v, want ErrMalformedFile", err)
	}
}

func TestLocateTable(t *testing.T) {
	records := [][]string{
		{"Account History for 1234"},
		{""},
		{"Run Date", "Action", "Amount ($)"},
		{"03/01/2024", "YOU BOUGHT", "-50.00"},
		{"", "", ""},
		{"03/02/2024", "DIVIDEND RECEIVED", "1.25"},
	}
	ctx := context.Background()

	table, err := LocateTable(ctx, records, 0, []string{"run date", "amount ($)"})
	if err != nil {
		t.Fatalf("LocateTable() error: %v", err)
	}
	if table.Header[0] != "Run Date" {
		t.Errorf("header = %q", table.Header)
	}
	if len(table.Records) != 2 {
		t.Errorf("records = %d, want 2 with the blank line dropped", len(table.Records))
	}
	if table.Line != 4 {
		t.Errorf("Line = %d, want 4", table.Line)
	}

	table, err = LocateTable(ctx, records, 2, []string{"Action"})
	if err != nil {
		t.Fatalf("LocateTable(skip 2) error: %v", err)
	}
	if table.Line != 4 {
		t.Errorf("Line with skip = %d, want 4", table.Line)
	}

	if _, err := LocateTable(ctx, records, 0, []string{"Symbol"}); !IsMappingError(err) {
		t.Errorf("missing header error = %v, want MappingError", err)
	}
	if _, err := LocateTable(ctx, records, 10, nil); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("skip past end error = %v, want ErrEmptyFile", err)
	}
}

func TestLocateTable_HeaderSearchLimit(t *testing.T) {
	orig := MaxHeaderSearchRows
	defer func() { MaxHeaderSearchRows = orig }()
	MaxHeaderSearchRows = 2

	records := [][]string{{"preamble"}, {"more preamble"}, {"Date", "Amount"}}
	if _, err := LocateTable(context.Background(), records, 0, []string{"Date"}); err == nil {
		t.Error("expected header beyond the search window to be missed")
	}
}

// ----------------------------------------------------------------------------
// Text encoding Tests
// ----------------------------------------------------------------------------

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		charset string
		want    string
		wantErr bool
	}{
		{name: "utf8 passthrough", data: "Café", want: "Café"},
		{name: "bom stripped", data: "\xEF\xBB\xBFDate", want: "Date"},
		{name: "declared 1252", data: "Caf\xE9", charset: "1252", want: "Café"},
		{name: "declared latin1", data: "Caf\xE9", charset: "ISO-8859-1", want: "Café"},
		{name: "none means detect", data: "Caf\xE9", charset: "NONE", want: "Café"},
		{name: "undeclared non-utf8", data: "\x93quoted\x94", want: "“quoted”"},
		{name: "unknown label", data: "x", charset: "KLINGON", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText([]byte(tt.data), tt.charset)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizingReader(t *testing.T) {
	r := NewSanitizingReader(strings.NewReader("\xEF\xBB\xBFok\xffdone"))
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(out); got != "ok�done" {
		t.Errorf("sanitized = %q", got)
	}
}

func TestStripBOM(t *testing.T) {
	if got := StripBOM("\xEF\xBB\xBFa"); got != "a" {
		t.Errorf("StripBOM() = %q", got)
	}
	if got := string(StripBOMBytes([]byte("a\xEF\xBB\xBF"))); got != "a\xEF\xBB\xBF" {
		t.Errorf("StripBOMBytes() changed a non-leading BOM: %q", got)
	}
}
