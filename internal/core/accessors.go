package core

import (
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/shopspring/decimal"
)

// StatementMapping is the mapping used to read rows staged by formats that
// have no user-configurable columns (OFX, QIF, brokerage activity). Those
// parsers stage ISO dates and amounts in the bank-statement convention.
var StatementMapping = domain.ColumnMapping{
	DateFormat:     "%Y-%m-%d",
	NumberFormat:   domain.NumberFormatUS,
	SignConvention: domain.InflowsPositive,
	AmountStrategy: domain.AmountSigned,
}

// Trade direction values staged in Row.EntityType.
const (
	EntityBuy  = "buy"
	EntitySell = "sell"
)

var (
	buyWords  = []string{"buy", "bought", "purchase", "reinvest"}
	sellWords = []string{"sell", "sold", "sale", "redemption"}
)

// RowDate returns the row's date interpreted with the mapping's format.
func RowDate(r domain.Row, m domain.ColumnMapping) (time.Time, error) {
	return ParseDate(r.Date, m.DateFormat)
}

// RowSignedAmount returns the row amount in the ledger sign convention:
// positive when value leaves the account, negative when it enters.
func RowSignedAmount(r domain.Row, m domain.ColumnMapping) (decimal.Decimal, error) {
	amt, err := ParseDecimal(r.Amount, m.NumberFormat)
	if err != nil {
		return decimal.Zero, err
	}

	if m.AmountStrategy == domain.AmountTypeColumn {
		if m.InflowValue == "" {
			return decimal.Zero, &MappingError{Field: string(domain.FieldEntityType), Reason: "inflow value is required for the type column strategy"}
		}
		if strings.EqualFold(strings.TrimSpace(r.EntityType), strings.TrimSpace(m.InflowValue)) {
			return amt.Abs().Neg(), nil
		}
		return amt.Abs(), nil
	}

	if m.SignConvention == domain.InflowsPositive {
		return amt.Neg(), nil
	}
	return amt, nil
}

// RowQuantity returns the signed trade quantity. When the row carries a
// buy or sell indicator it overrides the sign the source used.
func RowQuantity(r domain.Row, m domain.ColumnMapping) (decimal.Decimal, error) {
	q, err := ParseDecimal(r.Quantity, m.NumberFormat)
	if err != nil {
		return decimal.Zero, err
	}
	switch TradeDirection(r.EntityType) {
	case EntityBuy:
		return q.Abs(), nil
	case EntitySell:
		return q.Abs().Neg(), nil
	}
	return q, nil
}

// TradeDirection classifies a free-text type value as buy, sell or "".
func TradeDirection(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	for _, w := range sellWords {
		if strings.HasPrefix(s, w) {
			return EntitySell
		}
	}
	for _, w := range buyWords {
		if strings.HasPrefix(s, w) {
			return EntityBuy
		}
	}
	return ""
}

// RowPrice returns the unit price, which is always non-negative.
func RowPrice(r domain.Row, m domain.ColumnMapping) (decimal.Decimal, error) {
	p, err := ParseDecimal(r.Price, m.NumberFormat)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Abs(), nil
}

// RowCurrency returns the row currency, falling back to def.
func RowCurrency(r domain.Row, def string) string {
	if c := strings.ToUpper(strings.TrimSpace(r.Currency)); c != "" {
		return c
	}
	return strings.ToUpper(def)
}

// RowTags splits the row's tag list on "|" or ",".
func RowTags(r domain.Row) []string {
	raw := strings.TrimSpace(r.Tags)
	if raw == "" {
		return nil
	}
	sep := ","
	if strings.Contains(raw, "|") {
		sep = "|"
	}
	var tags []string
	seen := make(map[string]bool)
	for _, t := range strings.Split(raw, sep) {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		tags = append(tags, t)
	}
	return tags
}

// RowTicker returns the ticker with decoration some brokers append removed.
func RowTicker(r domain.Row) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(r.Ticker), "*"))
}

// RowName returns the entry name, falling back to fallback when empty.
func RowName(r domain.Row, fallback string) string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return fallback
}
