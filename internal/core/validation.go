package core

// validation.go checks staged rows before an import may become publishable.
//
// Validation happens at two levels:
//  1. Header validation: every required field is bound to a column of the file
//  2. Row validation: required cells are present and typed cells parse under
//     the import's date and number formats
//
// Row problems are collected, not fatal, so the cleaning step can show all
// of them at once.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

// RowIssue is one validation failure found while cleaning.
type RowIssue struct {
	Index   int          `json:"index"`
	Field   domain.Field `json:"field"`
	Message string       `json:"message"`
}

func (i RowIssue) Error() string {
	return fmt.Sprintf("row %d: %s: %s", i.Index, i.Field, i.Message)
}

// ValidateHeaders checks that every required field is mapped to a label
// present in the header. The first missing field is reported.
func ValidateHeaders(idx HeaderIndex, required []domain.Field, labelOf func(domain.Field) string) error {
	for _, f := range required {
		label := labelOf(f)
		if label == "" || !idx.Has(label) {
			return &MappingError{Field: string(f), Reason: fmt.Sprintf("missing required column %q", label)}
		}
	}
	return nil
}

// ValidateRow checks that every required field is present and that the
// typed fields parse under the mapping.
func ValidateRow(r domain.Row, required []domain.Field, m domain.ColumnMapping) []RowIssue {
	var issues []RowIssue
	for _, f := range required {
		if strings.TrimSpace(r.Get(f)) == "" {
			issues = append(issues, RowIssue{Index: r.Index, Field: f, Message: "required field is empty"})
		}
	}

	if r.Date != "" {
		if _, err := RowDate(r, m); err != nil {
			issues = append(issues, RowIssue{Index: r.Index, Field: domain.FieldDate, Message: err.Error()})
		}
	}
	for _, f := range []domain.Field{domain.FieldAmount, domain.FieldQuantity, domain.FieldPrice} {
		v := r.Get(f)
		if v == "" {
			continue
		}
		if _, err := ParseDecimal(v, m.NumberFormat); err != nil {
			issues = append(issues, RowIssue{Index: r.Index, Field: f, Message: err.Error()})
		}
	}
	return issues
}

// ValidateRows validates every row and returns all issues in row order.
func ValidateRows(rows []domain.Row, required []domain.Field, m domain.ColumnMapping) []RowIssue {
	var issues []RowIssue
	for _, r := range rows {
		issues = append(issues, ValidateRow(r, required, m)...)
	}
	return issues
}
