package formats

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func init() {
	core.Register(qifFormat{})
}

// Investment actions, by how they move shares or cash. Actions ending in X
// move cash through another account; the sign rules are the same.
var (
	qifBuyActions = actionSet(
		"Buy", "BuyX", "ReinvDiv", "ReinvLg", "ReinvSh", "ReinvMd", "ReinvInt", "ShrsIn",
	)
	qifSellActions = actionSet(
		"Sell", "SellX", "ShrsOut",
	)
	qifInflowActions = actionSet(
		"Div", "DivX", "IntInc", "IntIncX", "XIn", "CGLong", "CGLongX", "CGMid", "CGMidX",
		"CGShort", "CGShortX", "MiscInc", "MiscIncX", "RtrnCap", "RtrnCapX", "ContribX",
	)
	qifOutflowActions = actionSet(
		"XOut", "MiscExp", "MiscExpX", "MargInt", "MargIntX", "WithdrwX",
	)
)

func actionSet(actions ...string) map[string]bool {
	m := make(map[string]bool, len(actions))
	for _, a := range actions {
		m[strings.ToLower(a)] = true
	}
	return m
}

// Section headers holding transactions. Everything else (category,
// class, memorised and security lists) is skipped.
var qifTransactionTypes = map[string]string{
	"bank":  "bank",
	"ccard": "credit_card",
	"cash":  "cash",
	"oth a": "other_asset",
	"oth l": "other_liability",
	"invst": "investment",
}

// qifFormat is a Quicken Interchange Format file: either a plain ledger or
// an investment account, chosen by the first transaction section's type.
type qifFormat struct{}

func (qifFormat) Kind() domain.FormatKind { return domain.FormatQIF }

func (qifFormat) Traits() core.Traits {
	return core.Traits{
		Label:           "QIF",
		Description:     "Quicken Interchange Format ledger or investment account",
		Extensions:      []string{".qif"},
		Publishable:     true,
		RequiresAccount: true,
		Statement:       true,
	}
}

func (qifFormat) Dedup() core.DedupStrategy { return core.DedupClaim }

func (qifFormat) RequiredFields(imp *domain.Import) []domain.Field {
	if imp != nil && imp.State.QIF != nil && imp.State.QIF.Investment {
		return []domain.Field{domain.FieldDate}
	}
	return []domain.Field{domain.FieldDate, domain.FieldAmount}
}

func (qifFormat) Sniff(content []byte) error {
	head := content
	if len(head) > 4096 {
		head = head[:4096]
	}
	if bytes.Contains(bytes.ToUpper(head), []byte("!TYPE:")) {
		return nil
	}
	return fmt.Errorf("%w: no !Type header", core.ErrMalformedFile)
}

// qifRecord is one ^-terminated record, keyed by field code.
type qifRecord struct {
	section string
	fields  map[byte]string
	line    int
}

func (r qifRecord) get(code byte) string { return strings.TrimSpace(r.fields[code]) }

func (qifFormat) Parse(ctx context.Context, in core.ParseInput) (*core.Parsed, error) {
	text, err := core.DecodeText(in.Content, in.Import.Mapping.Encoding)
	if err != nil {
		return nil, core.NewParseError(domain.FormatQIF, err)
	}

	records, accountType, err := readQIF(ctx, text)
	if err != nil {
		return nil, err
	}
	if accountType == "" {
		return nil, core.NewParseError(domain.FormatQIF, fmt.Errorf("%w: no transaction section", core.ErrMalformedFile))
	}

	state := &domain.QIFState{
		AccountType: qifTransactionTypes[accountType],
		Investment:  accountType == "invst",
	}
	m := in.Import.Mapping
	rows := make([]domain.Row, 0, len(records))
	for _, rec := range records {
		if rec.section != accountType {
			state.Skipped++
			continue
		}
		row, opening, ok := stageQIF(rec, m, state.Investment)
		switch {
		case !ok:
			state.Skipped++
			continue
		case opening != nil:
			if state.OpeningBalance == nil {
				state.OpeningBalance = opening
			}
			continue
		}
		row.Index = len(rows) + 1
		rows = append(rows, row)
	}

	count := len(rows)
	if state.OpeningBalance != nil {
		count++
	}
	return &core.Parsed{
		Rows:      rows,
		RowsCount: count,
		State:     domain.FormatState{QIF: state},
	}, nil
}

// readQIF splits text into records. It returns the records of transaction
// sections and the type of the first such section.
func readQIF(ctx context.Context, text string) ([]qifRecord, string, error) {
	var (
		records   []qifRecord
		first     string
		section   string
		cur       = qifRecord{fields: make(map[byte]string)}
		started   bool
		lineNum   int
		lastField byte
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNum++
		if lineNum%core.ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if line[0] == '!' {
			header := strings.ToLower(strings.TrimSpace(line[1:]))
			switch {
			case strings.HasPrefix(header, "type:"):
				t := strings.TrimSpace(header[len("type:"):])
				if _, ok := qifTransactionTypes[t]; ok {
					section = t
					if first == "" {
						first = t
					}
				} else {
					section = ""
				}
			case header == "account":
				section = ""
			}
			started = false
			cur = qifRecord{fields: make(map[byte]string)}
			continue
		}

		if line[0] == '^' {
			if started && section != "" {
				cur.section = section
				records = append(records, cur)
			}
			started = false
			cur = qifRecord{fields: make(map[byte]string)}
			continue
		}

		code, value := line[0], line[1:]
		if !started {
			cur.line = lineNum
			started = true
		}
		switch code {
		case 'M', 'A':
			if prev, ok := cur.fields[code]; ok && lastField == code {
				value = prev + "\n" + value
			}
			cur.fields[code] = value
		case 'S', 'E', '$':
			// Splits keep their first occurrence.
			if _, ok := cur.fields[code]; !ok {
				cur.fields[code] = value
			}
		case 'U':
			if _, ok := cur.fields['T']; !ok {
				cur.fields['T'] = value
			}
		default:
			cur.fields[code] = value
		}
		lastField = code
	}
	if err := sc.Err(); err != nil {
		return nil, "", core.NewParseError(domain.FormatQIF, fmt.Errorf("%w: %v", core.ErrMalformedFile, err))
	}
	if started && section != "" {
		cur.section = section
		records = append(records, cur)
	}
	return records, first, nil
}

// qifDate parses the date shapes Quicken writes: 1/5/24, 1/ 5'24,
// 01/05/2024 and ISO dates.
func qifDate(s, format string) (string, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, "'", "/")
	d, err := core.ParseDate(s, format)
	if err != nil {
		return "", err
	}
	return core.FormatDate(d), nil
}

func qifAmount(s string, m domain.ColumnMapping) (decimal.Decimal, error) {
	format := m.NumberFormat
	if format == "" {
		format = domain.NumberFormatUS
	}
	return core.ParseDecimal(s, format)
}

// stageQIF turns one record into a statement-layout row. An opening
// balance record is returned separately. ok is false for records that are
// malformed or carry an unknown action.
func stageQIF(rec qifRecord, m domain.ColumnMapping, investment bool) (domain.Row, *domain.OpeningBalance, bool) {
	date, err := qifDate(rec.get('D'), m.DateFormat)
	if err != nil {
		return domain.Row{}, nil, false
	}
	if investment {
		row, ok := stageQIFInvestment(rec, date, m)
		return row, nil, ok
	}

	amount, err := qifAmount(rec.get('T'), m)
	if err != nil {
		return domain.Row{}, nil, false
	}
	payee := rec.get('P')
	if strings.EqualFold(payee, "Opening Balance") {
		return domain.Row{}, &domain.OpeningBalance{Date: date, Amount: amount.String()}, true
	}

	row := domain.Row{
		Date:   date,
		Amount: amount.String(),
		Name:   payee,
		Notes:  rec.get('M'),
	}
	if n := rec.get('N'); n != "" && row.Notes == "" {
		row.Notes = "#" + n
	}
	label := rec.get('L')
	if label == "" {
		label = rec.get('S')
	}
	applyQIFCategory(&row, label)
	return row, nil, true
}

// applyQIFCategory reads an L field: "Parent:Child/Class" is a category
// with class tags, "[Account]" is a transfer.
func applyQIFCategory(row *domain.Row, label string) {
	if label == "" {
		return
	}
	if strings.HasPrefix(label, "[") {
		row.EntityType = string(domain.TransactionTransfer)
		return
	}
	category, class, _ := strings.Cut(label, "/")
	row.Category = strings.TrimSpace(category)
	if class = strings.TrimSpace(class); class != "" {
		row.Tags = strings.Join(strings.Split(class, ":"), "|")
	}
}

func stageQIFInvestment(rec qifRecord, date string, m domain.ColumnMapping) (domain.Row, bool) {
	action := strings.ToLower(rec.get('N'))
	row := domain.Row{
		Date:  date,
		Name:  rec.get('P'),
		Notes: rec.get('M'),
	}

	var total decimal.Decimal
	if t := rec.get('T'); t != "" {
		v, err := qifAmount(t, m)
		if err != nil {
			return domain.Row{}, false
		}
		total = v.Abs()
	}

	switch {
	case qifBuyActions[action], qifSellActions[action]:
		qty, err := qifAmount(rec.get('Q'), m)
		if err != nil || qty.IsZero() || rec.get('Y') == "" {
			return domain.Row{}, false
		}
		row.Ticker = strings.ToUpper(rec.get('Y'))
		row.Quantity = qty.Abs().String()
		row.EntityType = core.EntityBuy
		if qifSellActions[action] {
			row.EntityType = core.EntitySell
		}
		if p := rec.get('I'); p != "" {
			price, err := qifAmount(p, m)
			if err != nil {
				return domain.Row{}, false
			}
			row.Price = price.Abs().String()
		}
		if !total.IsZero() {
			row.Amount = total.String()
		}
		if row.Price == "" && row.Amount == "" {
			return domain.Row{}, false
		}
	case qifInflowActions[action]:
		if total.IsZero() {
			return domain.Row{}, false
		}
		row.Amount = total.String()
		cashName(&row, rec, action)
	case qifOutflowActions[action]:
		if total.IsZero() {
			return domain.Row{}, false
		}
		row.Amount = total.Neg().String()
		cashName(&row, rec, action)
	default:
		return domain.Row{}, false
	}
	return row, true
}

func cashName(row *domain.Row, rec qifRecord, action string) {
	if strings.HasPrefix(action, "x") || strings.HasSuffix(action, "x") {
		row.EntityType = string(domain.TransactionTransfer)
	}
	if row.Name != "" {
		return
	}
	row.Name = rec.get('N')
	if y := rec.get('Y'); y != "" {
		row.Name += " " + y
	}
}

func (qifFormat) Build(ctx context.Context, run *core.Run) error {
	if st := run.Import.State.QIF; st != nil && st.Investment {
		return core.BuildTrades(ctx, run)
	}
	return core.BuildTransactions(ctx, run, core.DedupClaim)
}

// Reconcile makes an explicit opening balance the account's anchor;
// without one, an existing anchor is moved back to cover the import.
func (qifFormat) Reconcile(ctx context.Context, run *core.Run) error {
	if run.Account == nil {
		return nil
	}
	st := run.Import.State.QIF
	if st != nil && st.OpeningBalance != nil {
		date, err := core.ParseDate(st.OpeningBalance.Date, "%Y-%m-%d")
		if err != nil {
			return fmt.Errorf("opening balance date: %w", err)
		}
		amount, err := decimal.NewFromString(st.OpeningBalance.Amount)
		if err != nil {
			return fmt.Errorf("opening balance amount: %w", err)
		}
		return core.SetOpeningAnchor(ctx, run, run.Account, date, amount)
	}
	return core.AdjustOpeningAnchor(ctx, run, run.Account)
}
