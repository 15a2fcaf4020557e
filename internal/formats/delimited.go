package formats

import (
	"bytes"
	"context"
	"fmt"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func init() {
	core.Register(ledgerFormat{
		kind: domain.FormatTransactions,
		traits: core.Traits{
			Label:       "Transactions",
			Description: "Bank or card transactions exported as CSV or a spreadsheet",
			Extensions:  []string{".csv", ".txt", ".xlsx", ".xls"},
			Publishable: true,
		},
	})
	core.Register(ledgerFormat{
		kind: domain.FormatMint,
		traits: core.Traits{
			Label:       "Mint",
			Description: "Mint transaction export",
			Extensions:  []string{".csv"},
			Publishable: true,
		},
	})
	core.Register(tradesFormat{})
}

// sniffDelimited accepts spreadsheets and anything that reads as text.
func sniffDelimited(content []byte) error {
	if core.IsSpreadsheet(content) {
		return nil
	}
	sample := content
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return fmt.Errorf("%w: binary content is not a delimited file", core.ErrMalformedFile)
	}
	if bytes.HasPrefix(sample, []byte("%PDF")) {
		return fmt.Errorf("%w: PDF documents cannot be read as a table", core.ErrMalformedFile)
	}
	return nil
}

// ledgerFormat is a column-mapped file of cash transactions. Rows claim
// matching manual entries instead of duplicating them.
type ledgerFormat struct {
	core.NopReconcile
	kind   domain.FormatKind
	traits core.Traits
}

func (f ledgerFormat) Kind() domain.FormatKind  { return f.kind }
func (f ledgerFormat) Traits() core.Traits      { return f.traits }
func (ledgerFormat) Dedup() core.DedupStrategy  { return core.DedupClaim }
func (ledgerFormat) Sniff(content []byte) error { return sniffDelimited(content) }

func (ledgerFormat) RequiredFields(imp *domain.Import) []domain.Field {
	fields := []domain.Field{domain.FieldDate, domain.FieldAmount}
	if imp != nil && imp.Mapping.AmountStrategy == domain.AmountTypeColumn {
		fields = append(fields, domain.FieldEntityType)
	}
	return fields
}

func (f ledgerFormat) Parse(ctx context.Context, in core.ParseInput) (*core.Parsed, error) {
	return core.ParseDelimited(ctx, in, f.kind, f.RequiredFields(in.Import))
}

func (ledgerFormat) Build(ctx context.Context, run *core.Run) error {
	return core.BuildTransactions(ctx, run, core.DedupClaim)
}

// tradesFormat is a generic trade history: one security trade per row.
type tradesFormat struct {
	core.NopReconcile
}

func (tradesFormat) Kind() domain.FormatKind { return domain.FormatTrades }

func (tradesFormat) Traits() core.Traits {
	return core.Traits{
		Label:       "Trades",
		Description: "Security trades with date, ticker, quantity and price",
		Extensions:  []string{".csv", ".txt", ".xlsx", ".xls"},
		Publishable: true,
	}
}

func (tradesFormat) Dedup() core.DedupStrategy  { return core.DedupComposite }
func (tradesFormat) Sniff(content []byte) error { return sniffDelimited(content) }

func (tradesFormat) RequiredFields(*domain.Import) []domain.Field {
	return []domain.Field{domain.FieldDate, domain.FieldTicker, domain.FieldQuantity}
}

func (f tradesFormat) Parse(ctx context.Context, in core.ParseInput) (*core.Parsed, error) {
	return core.ParseDelimited(ctx, in, domain.FormatTrades, f.RequiredFields(in.Import))
}

func (tradesFormat) Build(ctx context.Context, run *core.Run) error {
	return core.BuildTrades(ctx, run)
}
