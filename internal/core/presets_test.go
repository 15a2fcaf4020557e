package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
)

func TestLoadPresets_BuiltIn(t *testing.T) {
	p := MustLoadPresets()

	tests := []struct {
		format domain.FormatKind
		name   string
	}{
		{domain.FormatTransactions, "generic"},
		{domain.FormatTransactions, "description"},
		{domain.FormatMint, "mint"},
		{domain.FormatTrades, "generic"},
		{domain.FormatBrokerage, "fidelity"},
		{domain.FormatBrokerage, "schwab"},
	}
	for _, tt := range tests {
		preset, ok := p.Get(tt.format, tt.name)
		if !ok {
			t.Errorf("preset %s/%s missing", tt.format, tt.name)
			continue
		}
		if preset.Mapping.Label(domain.FieldDate) == "" {
			t.Errorf("preset %s/%s has no date column", tt.format, tt.name)
		}
	}

	mint, _ := p.Get(domain.FormatMint, "MINT")
	if mint.Mapping.AmountStrategy != domain.AmountTypeColumn || mint.Mapping.InflowValue != "credit" {
		t.Errorf("mint mapping = %+v", mint.Mapping)
	}
	if got := p.ForFormat(domain.FormatTransactions)[0].Name; got != "generic" {
		t.Errorf("first transactions preset = %q, want file order", got)
	}
	if len(p.All()) < len(tests) {
		t.Errorf("All() = %d presets", len(p.All()))
	}
}

func TestLoadPresets_ExtraFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	extra := `presets:
  - name: schwab
    format: brokerage
    mapping:
      labels:
        date: Trade Date
        entity_type: Action
        amount: Amount
      date_format: "%Y-%m-%d"
  - name: monzo
    format: transactions
    mapping:
      labels:
        date: Date
        amount: Money Out
        name: Name
      sign_convention: inflows_negative
`
	if err := os.WriteFile(path, []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets() error: %v", err)
	}
	schwab, _ := p.Get(domain.FormatBrokerage, "schwab")
	if got := schwab.Mapping.Label(domain.FieldDate); got != "Trade Date" {
		t.Errorf("overridden schwab date label = %q", got)
	}
	if n := len(p.ForFormat(domain.FormatBrokerage)); n != 3 {
		t.Errorf("brokerage presets = %d, want the override to replace, not add", n)
	}
	if _, ok := p.Get(domain.FormatTransactions, "monzo"); !ok {
		t.Error("extra preset monzo missing")
	}
}

func TestLoadPresets_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "presets: [",
		"missing name":    "presets:\n  - format: transactions\n",
		"type column bad": "presets:\n  - name: x\n    format: mint\n    mapping:\n      amount_strategy: type_column\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "presets.yaml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadPresets(path); err == nil {
				t.Error("LoadPresets() error = nil, want error")
			}
		})
	}
	if _, err := LoadPresets(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadPresets(missing file) error = nil")
	}
}

func TestMergeMapping(t *testing.T) {
	rent := uuid.New()
	base := domain.ColumnMapping{
		Labels:         map[domain.Field]string{domain.FieldDate: "Date", domain.FieldAmount: "Amount"},
		DateFormat:     "%m/%d/%Y",
		SignConvention: domain.InflowsPositive,
	}
	over := domain.ColumnMapping{
		Labels:           map[domain.Field]string{domain.FieldAmount: "Value"},
		NumberFormat:     domain.NumberFormatEU,
		CategoryBindings: map[string]uuid.UUID{"Rent": rent},
	}

	got := MergeMapping(base, over)
	if got.Label(domain.FieldDate) != "Date" || got.Label(domain.FieldAmount) != "Value" {
		t.Errorf("labels = %v", got.Labels)
	}
	if got.DateFormat != "%m/%d/%Y" || got.NumberFormat != domain.NumberFormatEU {
		t.Errorf("formats = %q %q", got.DateFormat, got.NumberFormat)
	}
	if got.SignConvention != domain.InflowsPositive {
		t.Errorf("sign convention = %q", got.SignConvention)
	}
	if got.CategoryBindings["Rent"] != rent {
		t.Error("category binding lost")
	}
	if base.Labels[domain.FieldAmount] != "Amount" {
		t.Error("MergeMapping modified base labels")
	}
}
