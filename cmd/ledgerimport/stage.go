package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
)

// stageOptions describes one file to take from upload to publishable.
type stageOptions struct {
	Path          string
	PositionsPath string
	Format        domain.FormatKind
	FamilyID      uuid.UUID
	AccountID     *uuid.UUID
	Currency      string
	Preset        string

	// Mapping overrides applied on top of the preset and header discovery.
	Labels       map[string]string
	DateFormat   string
	NumberFormat string
	ColSep       string

	SelectedAccount string
}

// staged is the outcome of stageImport. Issues is non-empty when the rows
// need fixing before the import can be published.
type staged struct {
	Import *domain.Import
	Issues []core.RowIssue
}

// stageImport creates an import for opts.Path, uploads the file and walks it
// through configuration and cleaning.
func stageImport(ctx context.Context, svc *core.Service, opts stageOptions) (*staged, error) {
	content, err := os.ReadFile(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", opts.Path, err)
	}
	var positions []byte
	if opts.PositionsPath != "" {
		if positions, err = os.ReadFile(opts.PositionsPath); err != nil {
			return nil, fmt.Errorf("read %s: %w", opts.PositionsPath, err)
		}
	}

	kind := opts.Format
	if kind == "" {
		if kind, err = detectFormat(opts.Path); err != nil {
			return nil, err
		}
	}
	f, err := core.Lookup(kind)
	if err != nil {
		return nil, err
	}

	in := core.NewImport{
		FamilyID:  opts.FamilyID,
		Format:    kind,
		AccountID: opts.AccountID,
		Currency:  opts.Currency,
		Preset:    opts.Preset,
	}
	if override, ok := opts.mapping(); ok {
		in.Mapping = &override
	}
	imp, err := svc.CreateImport(ctx, in)
	if err != nil {
		return nil, err
	}
	if imp, err = svc.Upload(ctx, imp.ID, content, positions); err != nil {
		return nil, err
	}

	cfg := core.Configuration{}
	if opts.SelectedAccount != "" {
		cfg.SelectedAccount = &opts.SelectedAccount
	}

	if f.Traits().SchemaLess {
		if cfg.SelectedAccount != nil {
			if imp, err = svc.Configure(ctx, imp.ID, cfg); err != nil {
				return nil, err
			}
		}
		return &staged{Import: imp}, nil
	}

	if _, err = svc.Configure(ctx, imp.ID, cfg); err != nil {
		return nil, err
	}
	result, err := svc.Clean(ctx, imp.ID)
	if err != nil {
		return nil, err
	}
	return &staged{Import: result.Import, Issues: result.Issues}, nil
}

// mapping returns the column mapping overrides, if any were given.
func (o stageOptions) mapping() (domain.ColumnMapping, bool) {
	m := domain.ColumnMapping{
		DateFormat:   o.DateFormat,
		NumberFormat: o.NumberFormat,
		ColSep:       o.ColSep,
	}
	if len(o.Labels) > 0 {
		m.Labels = make(map[domain.Field]string, len(o.Labels))
		for field, label := range o.Labels {
			m.Labels[domain.Field(field)] = label
		}
	}
	set := len(m.Labels) > 0 || m.DateFormat != "" || m.NumberFormat != "" || m.ColSep != ""
	return m, set
}

// detectFormat infers the format from the file extension when exactly one
// registered format claims it.
func detectFormat(path string) (domain.FormatKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var matches []domain.FormatKind
	for _, f := range core.All() {
		for _, e := range f.Traits().Extensions {
			if e == ext {
				matches = append(matches, f.Kind())
				break
			}
		}
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("cannot infer the format of %s, pass --format", filepath.Base(path))
	}
	return matches[0], nil
}
