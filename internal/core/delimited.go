package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

// DelimitedTable is a located table plus the mapping that located it.
type DelimitedTable struct {
	*Table
	Mapping domain.ColumnMapping
}

// LocateDelimited reads content and finds the header using the import's
// own mapping when it labels every required field, else each preset in
// turn with the import's settings layered over it. The first mapping whose
// labels all appear in one header row wins.
func LocateDelimited(ctx context.Context, content []byte, imp *domain.Import, required []domain.Field, presets []Preset) (*DelimitedTable, error) {
	candidates := candidateMappings(imp.Mapping, required, presets)
	if len(candidates) == 0 {
		return nil, &MappingError{Field: string(required[0]), Reason: "missing required column: no column mapping or preset labels it"}
	}

	var lastErr error
	var records [][]string
	var readSep, readCharset string
	for _, m := range candidates {
		if records == nil || m.ColSep != readSep || m.Encoding != readCharset {
			var err error
			records, err = ReadRecords(content, m.ColSep, m.Encoding)
			if err != nil {
				return nil, err
			}
			readSep, readCharset = m.ColSep, m.Encoding
		}

		labels := make([]string, 0, len(required))
		for _, f := range required {
			labels = append(labels, m.Label(f))
		}
		t, err := LocateTable(ctx, records, m.RowsToSkip, labels)
		if err == nil {
			return &DelimitedTable{Table: t, Mapping: m}, nil
		}
		if errors.Is(err, ErrEmptyFile) || ctx.Err() != nil {
			return nil, err
		}
		if lastErr == nil {
			lastErr = err
		}
	}
	return nil, lastErr
}

func candidateMappings(own domain.ColumnMapping, required []domain.Field, presets []Preset) []domain.ColumnMapping {
	if labelsAll(own, required) {
		return []domain.ColumnMapping{own}
	}
	var out []domain.ColumnMapping
	for _, p := range presets {
		m := MergeMapping(p.Mapping, own)
		if labelsAll(m, required) {
			out = append(out, m)
		}
	}
	return out
}

func labelsAll(m domain.ColumnMapping, required []domain.Field) bool {
	for _, f := range required {
		if m.Label(f) == "" {
			return false
		}
	}
	return true
}

// StageRows copies every labelled column of the table into rows. Fields
// whose label is not a column of the file stay empty.
func StageRows(t *DelimitedTable) []domain.Row {
	rows := make([]domain.Row, 0, len(t.Records))
	for i, rec := range t.Records {
		row := domain.Row{Index: i + 1}
		for _, f := range domain.AllFields {
			if label := t.Mapping.Label(f); label != "" {
				row.Set(f, t.Index.Cell(rec, label))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// ParseDelimited is the Parse step shared by the column-mapped formats.
func ParseDelimited(ctx context.Context, in ParseInput, kind domain.FormatKind, required []domain.Field) (*Parsed, error) {
	t, err := LocateDelimited(ctx, in.Content, in.Import, required, in.Presets)
	if err != nil {
		var me *MappingError
		if errors.As(err, &me) {
			return nil, err
		}
		return nil, NewParseError(kind, err)
	}
	rows := StageRows(t)
	if len(rows) == 0 {
		return nil, NewParseError(kind, fmt.Errorf("%w: no data rows after header", ErrEmptyFile))
	}

	mapping := t.Mapping
	return &Parsed{
		Rows:      rows,
		RowsCount: len(rows),
		State:     domain.FormatState{Delimited: &domain.DelimitedState{Headers: t.Header}},
		Mapping:   &mapping,
	}, nil
}
