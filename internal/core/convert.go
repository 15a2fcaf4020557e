package core

// convert.go turns the loosely typed strings of staged rows into dates and
// decimals.
//
// These functions handle the messy reality of exported financial data:
//   - strftime-style date formats chosen by the user, or a fallback list
//   - Currency symbols, accounting parentheses and trailing minus signs
//   - US, European, French and cent-less thousands conventions
//   - Excel formula prefixes (="value") and stray quotes

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a plain decimal after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Fallback layouts used when an import has no explicit date format.
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "1-2-06", "1.2.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "1-2-2006", "1.2.2006",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006",
		"20060102",
		time.RFC3339,
	}
)

// strftimeDirectives maps the strftime directives accepted in a column
// mapping to Go layout elements. Month and day use the non-padded forms so
// that both "1/5/2024" and "01/05/2024" parse.
var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'e': "2",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'H': "15",
	'M': "04",
	'S': "05",
	'p': "PM",
}

// GoLayout converts a strftime date format such as "%m/%d/%Y" to a Go
// layout. Unknown directives are an error.
func GoLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i < len(format) && format[i] == '-' {
			i++
		}
		if i >= len(format) {
			return "", fmt.Errorf("invalid date format %q: trailing %%", format)
		}
		elem, ok := strftimeDirectives[format[i]]
		if !ok {
			return "", fmt.Errorf("invalid date format %q: unknown directive %%%c", format, format[i])
		}
		b.WriteString(elem)
	}
	return b.String(), nil
}

// ParseDate parses s with the strftime format, or with the fallback layouts
// when format is empty.
func ParseDate(s, format string) (time.Time, error) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("invalid date: empty value")
	}

	if format != "" {
		layout, err := GoLayout(format)
		if err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q for format %s", s, format)
		}
		return pivotYear(t, strings.Contains(format, "%y")), nil
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pivotYear(t, true), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func pivotYear(t time.Time, twoDigit bool) time.Time {
	if twoDigit && t.Year() > time.Now().Year()+TwoDigitYearPivot {
		t = t.AddDate(-100, 0, 0)
	}
	return truncateDay(t)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a ledger date in the ISO form staged rows use.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDecimal parses a monetary or quantity string written in one of the
// supported number formats. Accounting parentheses and a trailing minus
// both mean negative. An empty numberFormat means "1,234.56".
func ParseDecimal(s, numberFormat string) (decimal.Decimal, error) {
	raw := s
	s = CleanCell(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("invalid number: empty value")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(strings.TrimSuffix(s, "-"))
	}

	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	switch numberFormat {
	case domain.NumberFormatEU:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case domain.NumberFormatFR:
		s = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\u00a0' || r == '\u202f' {
				return -1
			}
			return r
		}, s)
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", "")
	}
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "-") && negative {
		return decimal.Zero, fmt.Errorf("invalid number %q", raw)
	}
	if !numericRegex.MatchString(s) {
		return decimal.Zero, fmt.Errorf("invalid number %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// HeaderIndex maps normalised column labels to their position in a record.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a header record.
// Keys are normalised for case-insensitive matching.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := normalizeLabel(h)
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// Cell returns the cleaned value of column label in record, or "".
func (h HeaderIndex) Cell(record []string, label string) string {
	if label == "" {
		return ""
	}
	pos, ok := h[normalizeLabel(label)]
	if !ok || pos >= len(record) {
		return ""
	}
	return CleanCell(record[pos])
}

// Has reports whether label is a column of the header.
func (h HeaderIndex) Has(label string) bool {
	_, ok := h[normalizeLabel(label)]
	return ok
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(CleanCell(s)), " "))
}

// CleanCell removes common export artifacts from a cell value:
// whitespace, the Excel formula prefix (="...") and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
