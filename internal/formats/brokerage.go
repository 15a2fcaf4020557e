package formats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func init() {
	core.Register(brokerageFormat{})
}

// Positions snapshot column labels, tried in order.
var (
	positionAccountLabels  = []string{"Account Number", "Account", "Account Name"}
	positionTickerLabels   = []string{"Symbol", "Ticker"}
	positionQuantityLabels = []string{"Quantity", "Qty", "Shares"}
	positionPriceLabels    = []string{"Last Price", "Price", "Current Price"}
	positionNameLabels     = []string{"Description", "Name", "Security Name"}
	positionCurrencyLabels = []string{"Currency"}
)

// brokerageFormat is a brokerage activity history with an optional
// positions snapshot. Actions are classified by prefix; positions the
// history cannot explain become opening trades.
type brokerageFormat struct{}

func (brokerageFormat) Kind() domain.FormatKind { return domain.FormatBrokerage }

func (brokerageFormat) Traits() core.Traits {
	return core.Traits{
		Label:           "Brokerage activity",
		Description:     "Brokerage account history with an optional positions snapshot",
		Extensions:      []string{".csv", ".xlsx", ".xls"},
		Publishable:     true,
		RequiresAccount: true,
		Statement:       true,
	}
}

func (brokerageFormat) Dedup() core.DedupStrategy  { return core.DedupComposite }
func (brokerageFormat) Sniff(content []byte) error { return sniffDelimited(content) }

// activityColumns locate the header of an activity file. Staged rows only
// require a date: trades may lack an amount and cash lines a type.
var activityColumns = []domain.Field{domain.FieldDate, domain.FieldEntityType, domain.FieldAmount}

func (brokerageFormat) RequiredFields(*domain.Import) []domain.Field {
	return []domain.Field{domain.FieldDate}
}

// Ready blocks publishing until a sub-account is chosen when the files
// span several.
func (brokerageFormat) Ready(imp *domain.Import) error {
	if imp.State.Brokerage.NeedsSelection() {
		return &core.MappingError{
			Field:  string(domain.FieldAccount),
			Reason: fmt.Sprintf("account selection required: files contain %s", strings.Join(imp.State.Brokerage.DetectedAccounts, ", ")),
		}
	}
	return nil
}

func (brokerageFormat) Parse(ctx context.Context, in core.ParseInput) (*core.Parsed, error) {
	t, err := core.LocateDelimited(ctx, in.Content, in.Import, activityColumns, in.Presets)
	if err != nil {
		var me *core.MappingError
		if errors.As(err, &me) {
			return nil, err
		}
		return nil, core.NewParseError(domain.FormatBrokerage, err)
	}

	state := &domain.BrokerageState{}
	accounts := make(map[string]bool)
	var rows []domain.Row
	for i, raw := range core.StageRows(t) {
		if i%core.ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		row, ok := stageActivity(raw, t.Mapping)
		if !ok {
			state.Skipped++
			continue
		}
		if row.Account != "" {
			accounts[row.Account] = true
		}
		row.Index = len(rows) + 1
		rows = append(rows, row)
	}

	if len(in.Positions) > 0 {
		positions, err := parsePositions(ctx, in.Positions, in.DefaultCurrency)
		if err != nil {
			return nil, err
		}
		for _, p := range positions {
			if p.Account != "" {
				accounts[p.Account] = true
			}
		}
		state.Positions = positions
	}

	for a := range accounts {
		state.DetectedAccounts = append(state.DetectedAccounts, a)
	}
	sort.Strings(state.DetectedAccounts)

	if len(rows) == 0 && len(state.Positions) == 0 {
		return nil, core.NewParseError(domain.FormatBrokerage, fmt.Errorf("%w: no activity or positions found", core.ErrEmptyFile))
	}

	mapping := t.Mapping
	return &core.Parsed{
		Rows:      rows,
		RowsCount: len(rows) + len(state.Positions),
		State:     domain.FormatState{Brokerage: state},
		Mapping:   &mapping,
	}, nil
}

// stageActivity normalises one activity line into the statement layout:
// ISO date, US decimals, cash amounts positive for inflows. ok is false for
// unparseable lines and actions that are informational or unknown.
func stageActivity(raw domain.Row, m domain.ColumnMapping) (domain.Row, bool) {
	kind := classifyAction(raw.EntityType)
	if kind == actionUnknown || kind == actionIgnore {
		return domain.Row{}, false
	}
	date, err := core.ParseDate(raw.Date, m.DateFormat)
	if err != nil {
		return domain.Row{}, false
	}

	row := domain.Row{
		Date:     core.FormatDate(date),
		Name:     raw.Name,
		Currency: raw.Currency,
		Account:  strings.TrimSpace(raw.Account),
		Notes:    strings.TrimSpace(raw.EntityType),
	}
	if strings.TrimSpace(raw.Amount) != "" {
		amt, err := core.ParseDecimal(raw.Amount, m.NumberFormat)
		if err != nil {
			return domain.Row{}, false
		}
		row.Amount = amt.String()
	}

	switch kind {
	case actionBuy, actionSell:
		qty, err := core.ParseDecimal(raw.Quantity, m.NumberFormat)
		if err != nil || qty.IsZero() || strings.TrimSpace(raw.Ticker) == "" {
			return domain.Row{}, false
		}
		row.Ticker = strings.TrimSpace(raw.Ticker)
		row.ExchangeMIC = raw.ExchangeMIC
		row.Quantity = qty.Abs().String()
		row.EntityType = core.EntityBuy
		if kind == actionSell {
			row.EntityType = core.EntitySell
		}
		if strings.TrimSpace(raw.Price) != "" {
			price, err := core.ParseDecimal(raw.Price, m.NumberFormat)
			if err != nil {
				return domain.Row{}, false
			}
			row.Price = price.Abs().String()
		}
		if row.Price == "" && row.Amount == "" {
			return domain.Row{}, false
		}
		if row.Name == "" {
			row.Name = strings.TrimSpace(raw.EntityType)
		}
	case actionCash, actionTransfer:
		if row.Amount == "" {
			return domain.Row{}, false
		}
		if kind == actionTransfer {
			row.EntityType = string(domain.TransactionTransfer)
		}
		if row.Name == "" {
			row.Name = strings.TrimSpace(raw.EntityType)
		}
	}
	return row, true
}

// parsePositions reads a positions snapshot. Lines without a ticker or a
// numeric quantity (totals, cash sweeps, disclaimers) are dropped.
func parsePositions(ctx context.Context, content []byte, currency string) ([]domain.Position, error) {
	records, err := core.ReadRecords(content, "", "")
	if err != nil {
		return nil, core.NewParseError(domain.FormatBrokerage, fmt.Errorf("positions: %w", err))
	}

	var t *core.Table
	for _, tl := range positionTickerLabels {
		for _, ql := range positionQuantityLabels {
			t, err = core.LocateTable(ctx, records, 0, []string{tl, ql})
			if err == nil {
				return readPositions(t, tl, ql, currency), nil
			}
			if errors.Is(err, core.ErrEmptyFile) {
				return nil, core.NewParseError(domain.FormatBrokerage, fmt.Errorf("positions: %w", err))
			}
		}
	}
	return nil, &core.MappingError{Field: string(domain.FieldTicker), Reason: "missing required column: positions file has no symbol and quantity columns"}
}

func readPositions(t *core.Table, tickerLabel, qtyLabel, currency string) []domain.Position {
	accountLabel := firstPresent(t.Index, positionAccountLabels)
	priceLabel := firstPresent(t.Index, positionPriceLabels)
	nameLabel := firstPresent(t.Index, positionNameLabels)
	currencyLabel := firstPresent(t.Index, positionCurrencyLabels)

	var out []domain.Position
	for _, rec := range t.Records {
		ticker := strings.ToUpper(strings.Trim(t.Index.Cell(rec, tickerLabel), "*"))
		if ticker == "" || strings.Contains(ticker, " ") {
			continue
		}
		qty, err := core.ParseDecimal(t.Index.Cell(rec, qtyLabel), domain.NumberFormatUS)
		if err != nil || qty.IsZero() {
			continue
		}
		p := domain.Position{
			Account:  t.Index.Cell(rec, accountLabel),
			Ticker:   ticker,
			Name:     t.Index.Cell(rec, nameLabel),
			Quantity: qty.String(),
			Currency: strings.ToUpper(t.Index.Cell(rec, currencyLabel)),
		}
		if p.Currency == "" {
			p.Currency = strings.ToUpper(currency)
		}
		if price, err := core.ParseDecimal(t.Index.Cell(rec, priceLabel), domain.NumberFormatUS); err == nil {
			p.Price = price.Abs().String()
		}
		out = append(out, p)
	}
	return out
}

func firstPresent(idx core.HeaderIndex, labels []string) string {
	for _, l := range labels {
		if idx.Has(l) {
			return l
		}
	}
	return ""
}

// selected returns the sub-account the run is restricted to, or "" when
// every line belongs to the target account.
func selected(state *domain.BrokerageState) string {
	if state == nil {
		return ""
	}
	if state.SelectedAccount != "" {
		return state.SelectedAccount
	}
	if len(state.DetectedAccounts) == 1 {
		return state.DetectedAccounts[0]
	}
	return ""
}

func (brokerageFormat) Build(ctx context.Context, run *core.Run) error {
	state := run.Import.State.Brokerage
	if state.NeedsSelection() {
		return nil
	}
	account := selected(state)

	rows := make([]domain.Row, 0, len(run.Rows))
	for _, row := range run.Rows {
		if account != "" && row.Account != "" && row.Account != account {
			continue
		}
		row.Account = ""
		rows = append(rows, row)
	}
	run.Rows = rows
	return core.BuildTrades(ctx, run)
}

// Reconcile seeds opening trades for snapshot positions of the selected
// sub-account. Nothing is synthesised while a selection is pending.
func (brokerageFormat) Reconcile(ctx context.Context, run *core.Run) error {
	state := run.Import.State.Brokerage
	if state == nil || len(state.Positions) == 0 || state.NeedsSelection() || run.Account == nil {
		return nil
	}
	account := selected(state)

	var positions []domain.Position
	for _, p := range state.Positions {
		if account == "" || p.Account == "" || p.Account == account {
			positions = append(positions, p)
		}
	}
	return core.SynthesizeOpeningTrades(ctx, run, run.Account, positions)
}
