package core

import (
	"reflect"
	"testing"
)

// ============================================================================
// isEmptyRow Tests
// ============================================================================

func TestIsEmptyRow(t *testing.T) {
	tests := []struct {
		name string
		row  []string
		want bool
	}{
		{name: "empty slice", row: []string{}, want: true},
		{name: "single empty string", row: []string{""}, want: true},
		{name: "whitespace only cells", row: []string{"   ", "\t", "  \t  "}, want: true},
		{name: "newlines only", row: []string{"\n", "\r\n", "\r"}, want: true},
		{name: "trailing amount", row: []string{"", "", "12.00"}, want: false},
		{name: "leading date", row: []string{"2024-01-05", "", ""}, want: false},
		{name: "zero amount is data", row: []string{"0"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEmptyRow(tt.row); got != tt.want {
				t.Errorf("isEmptyRow(%q) = %v, want %v", tt.row, got, tt.want)
			}
		})
	}
}

// ============================================================================
// parseCSV Tests
// ============================================================================

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		sep   string
		want  [][]string
	}{
		{
			name:  "simple export",
			input: "Date,Amount\n2024-01-05,-3.50",
			want:  [][]string{{"Date", "Amount"}, {"2024-01-05", "-3.50"}},
		},
		{
			name:  "quoted field with comma",
			input: "Name,Amount\n\"Smith, J\",10",
			want:  [][]string{{"Name", "Amount"}, {"Smith, J", "10"}},
		},
		{
			name:  "variable field count allowed",
			input: "a,b,c\n1,2\nx,y,z,w",
			want:  [][]string{{"a", "b", "c"}, {"1", "2"}, {"x", "y", "z", "w"}},
		},
		{
			name:  "semicolon separator",
			input: "Date;Amount\n05.01.2024;1.234,56",
			sep:   ";",
			want:  [][]string{{"Date", "Amount"}, {"05.01.2024", "1.234,56"}},
		},
		{
			name:  "tab separator",
			input: "Date\tAmount\n2024-01-05\t7",
			sep:   "\t",
			want:  [][]string{{"Date", "Amount"}, {"2024-01-05", "7"}},
		},
		{
			name:  "CRLF line endings",
			input: "a,b\r\n1,2\r\n",
			want:  [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:  "quoted field with newline",
			input: "Name,Notes\nRent,\"line 1\nline 2\"",
			want:  [][]string{{"Name", "Notes"}, {"Rent", "line 1\nline 2"}},
		},
		{
			name:  "stray quote tolerated",
			input: "Name\nJoe's \"Diner",
			want:  [][]string{{"Name"}, {"Joe's \"Diner"}},
		},
		{
			name:  "empty file",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCSV(tt.input, tt.sep)
			if err != nil {
				t.Fatalf("parseCSV() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCSV() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ============================================================================
// findHeaderInRecords Tests
// ============================================================================

func TestFindHeaderInRecords(t *testing.T) {
	tests := []struct {
		name     string
		records  [][]string
		required []string
		want     int
	}{
		{
			name:     "header in first row",
			records:  [][]string{{"Date", "Amount", "Name"}, {"2024-01-05", "1", "Shop"}},
			required: []string{"Date", "Amount"},
			want:     0,
		},
		{
			name: "header after statement preamble",
			records: [][]string{
				{"Account statement"},
				{""},
				{"Date", "Amount", "Name"},
			},
			required: []string{"Date", "Amount"},
			want:     2,
		},
		{
			name:     "column order does not matter",
			records:  [][]string{{"Amount", "Notes", "Date"}},
			required: []string{"Date", "Amount"},
			want:     0,
		},
		{
			name:     "case insensitive match",
			records:  [][]string{{"DATE", "AMOUNT"}},
			required: []string{"date", "amount"},
			want:     0,
		},
		{
			name:     "header not found",
			records:  [][]string{{"Posted", "Value"}},
			required: []string{"Date", "Amount"},
			want:     -1,
		},
		{
			name:     "empty records",
			records:  [][]string{},
			required: []string{"Date"},
			want:     -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findHeaderInRecords(tt.records, tt.required); got != tt.want {
				t.Errorf("findHeaderInRecords() = %d, want %d", got, tt.want)
			}
		})
	}
}
