package core

import (
	"reflect"
	"testing"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func TestRowSignedAmount(t *testing.T) {
	typeColumn := domain.ColumnMapping{AmountStrategy: domain.AmountTypeColumn, InflowValue: "credit"}

	tests := []struct {
		name    string
		row     domain.Row
		m       domain.ColumnMapping
		want    string
		wantErr bool
	}{
		{"inflows negative keeps sign", domain.Row{Amount: "45.00"}, domain.ColumnMapping{SignConvention: domain.InflowsNegative}, "45", false},
		{"inflows positive flips expense", domain.Row{Amount: "-45.00"}, domain.ColumnMapping{SignConvention: domain.InflowsPositive}, "45", false},
		{"inflows positive flips income", domain.Row{Amount: "1,200.00"}, domain.ColumnMapping{SignConvention: domain.InflowsPositive}, "-1200", false},
		{"statement mapping", domain.Row{Amount: "-45.00"}, StatementMapping, "45", false},
		{"type column inflow", domain.Row{Amount: "2,000.00", EntityType: "Credit"}, typeColumn, "-2000", false},
		{"type column outflow", domain.Row{Amount: "-4.75", EntityType: "debit"}, typeColumn, "4.75", false},
		{"EU number format", domain.Row{Amount: "1.234,50"}, domain.ColumnMapping{NumberFormat: domain.NumberFormatEU}, "1234.5", false},
		{"unparseable", domain.Row{Amount: "n/a"}, domain.ColumnMapping{}, "", true},
		{"type column without inflow value", domain.Row{Amount: "1"}, domain.ColumnMapping{AmountStrategy: domain.AmountTypeColumn}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RowSignedAmount(tt.row, tt.m)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RowSignedAmount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("RowSignedAmount() = %s, want %s", got.String(), tt.want)
			}
		})
	}

	if _, err := RowSignedAmount(domain.Row{Amount: "1"}, domain.ColumnMapping{AmountStrategy: domain.AmountTypeColumn}); !IsMappingError(err) {
		t.Errorf("missing inflow value should be a MappingError, got %v", err)
	}
}

func TestRowQuantity(t *testing.T) {
	tests := []struct {
		qty, entity string
		want        string
	}{
		{"10", "buy", "10"},
		{"-10", "Bought", "10"},
		{"10", "sell", "-10"},
		{"10", "SOLD", "-10"},
		{"-3", "", "-3"},
		{"3", "dividend", "3"},
	}
	for _, tt := range tests {
		got, err := RowQuantity(domain.Row{Quantity: tt.qty, EntityType: tt.entity}, domain.ColumnMapping{})
		if err != nil {
			t.Fatalf("RowQuantity(%q, %q) error: %v", tt.qty, tt.entity, err)
		}
		if got.String() != tt.want {
			t.Errorf("RowQuantity(%q, %q) = %s, want %s", tt.qty, tt.entity, got.String(), tt.want)
		}
	}
}

func TestTradeDirection(t *testing.T) {
	tests := map[string]string{
		"buy":               EntityBuy,
		"Purchase":          EntityBuy,
		"reinvestment":      EntityBuy,
		"Sell":              EntitySell,
		"sale":              EntitySell,
		"redemption payout": EntitySell,
		"dividend":          "",
		"":                  "",
	}
	for in, want := range tests {
		if got := TradeDirection(in); got != want {
			t.Errorf("TradeDirection(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRowTags(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"travel", []string{"travel"}},
		{"travel, work", []string{"travel", "work"}},
		{"a,b|c", []string{"a,b", "c"}},
		{"work|work| ", []string{"work"}},
	}
	for _, tt := range tests {
		if got := RowTags(domain.Row{Tags: tt.raw}); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("RowTags(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestValidateRows(t *testing.T) {
	m := domain.ColumnMapping{DateFormat: "%m/%d/%Y"}
	rows := []domain.Row{
		{Index: 1, Date: "01/15/2024", Amount: "12.00"},
		{Index: 2, Date: "2024-01-15", Amount: "12.00"},
		{Index: 3, Date: "01/16/2024", Amount: ""},
		{Index: 4, Date: "01/17/2024", Amount: "twelve"},
	}
	issues := ValidateRows(rows, []domain.Field{domain.FieldDate, domain.FieldAmount}, m)

	var got []int
	for _, i := range issues {
		got = append(got, i.Index)
	}
	if want := []int{2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("issue rows = %v, want %v (issues: %v)", got, want, issues)
	}
}
