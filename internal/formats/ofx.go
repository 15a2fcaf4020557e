package formats

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func init() {
	core.Register(ofxFormat{})
}

// charsetHeader matches the CHARSET line of an OFX 1.x SGML header.
var charsetHeader = regexp.MustCompile(`(?m)^(\s*CHARSET:)([^\r\n]*)`)

// ofxFormat is an OFX or QFX statement download. Only the first statement
// in the file is read; its transaction ids are the sole dedup key.
type ofxFormat struct {
	core.NopReconcile
}

func (ofxFormat) Kind() domain.FormatKind { return domain.FormatOFX }

func (ofxFormat) Traits() core.Traits {
	return core.Traits{
		Label:           "OFX / QFX",
		Description:     "Open Financial Exchange statement download",
		Extensions:      []string{".ofx", ".qfx"},
		Publishable:     true,
		RequiresAccount: true,
		Statement:       true,
	}
}

func (ofxFormat) Dedup() core.DedupStrategy { return core.DedupExternalID }

func (ofxFormat) RequiredFields(*domain.Import) []domain.Field {
	return []domain.Field{domain.FieldDate, domain.FieldAmount, domain.FieldExternalID}
}

func (ofxFormat) Sniff(content []byte) error {
	head := content
	if len(head) > 4096 {
		head = head[:4096]
	}
	upper := bytes.ToUpper(head)
	if bytes.Contains(upper, []byte("OFXHEADER")) || bytes.Contains(upper, []byte("<OFX")) {
		return nil
	}
	return fmt.Errorf("%w: no OFX header", core.ErrMalformedFile)
}

func (ofxFormat) Parse(ctx context.Context, in core.ParseInput) (*core.Parsed, error) {
	text, err := decodeOFX(in.Content)
	if err != nil {
		return nil, core.NewParseError(domain.FormatOFX, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(text))
	if err != nil {
		return nil, core.NewParseError(domain.FormatOFX, fmt.Errorf("%w: %v", core.ErrMalformedFile, err))
	}

	stmt, err := firstStatement(resp)
	if err != nil {
		return nil, core.NewParseError(domain.FormatOFX, err)
	}

	currency := stmt.currency
	if currency == "" {
		currency = strings.ToUpper(in.DefaultCurrency)
	}
	state := &domain.OFXState{
		Currency:      stmt.currency,
		AccountNumber: stmt.account,
		StatementType: stmt.kind,
	}

	occurrences := make(map[string]int)
	rows := make([]domain.Row, 0, len(stmt.transactions))
	for _, txn := range stmt.transactions {
		row, ok := stageOFX(txn, currency)
		if !ok {
			state.Skipped++
			continue
		}
		if row.ExternalID == "" {
			row.ExternalID = contentID(row, currency, occurrences)
		}
		row.Currency = stmt.currency
		row.Index = len(rows) + 1
		rows = append(rows, row)
	}
	state.Skipped += stmt.skipped

	return &core.Parsed{
		Rows:      rows,
		RowsCount: len(rows),
		State:     domain.FormatState{OFX: state},
	}, nil
}

// decodeOFX converts a 1.x file in its declared charset to UTF-8 and marks
// the header accordingly. ASCII content and XML (2.x) files pass through.
func decodeOFX(content []byte) (string, error) {
	m := charsetHeader.FindSubmatch(content)
	if m == nil {
		return core.DecodeText(content, "")
	}
	text, err := core.DecodeText(content, string(bytes.TrimSpace(m[2])))
	if err != nil {
		return "", err
	}
	if text == string(content) {
		return text, nil
	}
	return charsetHeader.ReplaceAllString(text, "${1}NONE"), nil
}

type ofxStatement struct {
	kind         string
	account      string
	currency     string
	transactions []ofxgo.Transaction
	skipped      int
}

func firstStatement(resp *ofxgo.Response) (*ofxStatement, error) {
	switch {
	case len(resp.Bank) > 0:
		s, ok := resp.Bank[0].(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected bank statement type %T", core.ErrMalformedFile, resp.Bank[0])
		}
		out := &ofxStatement{kind: "bank", account: s.BankAcctFrom.AcctID.String(), currency: ofxCurrency(s.CurDef)}
		if s.BankTranList != nil {
			out.transactions = s.BankTranList.Transactions
		}
		return out, nil
	case len(resp.CreditCard) > 0:
		s, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected credit card statement type %T", core.ErrMalformedFile, resp.CreditCard[0])
		}
		out := &ofxStatement{kind: "credit_card", account: s.CCAcctFrom.AcctID.String(), currency: ofxCurrency(s.CurDef)}
		if s.BankTranList != nil {
			out.transactions = s.BankTranList.Transactions
		}
		return out, nil
	case len(resp.InvStmt) > 0:
		s, ok := resp.InvStmt[0].(*ofxgo.InvStatementResponse)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected investment statement type %T", core.ErrMalformedFile, resp.InvStmt[0])
		}
		out := &ofxStatement{kind: "investment", account: s.InvAcctFrom.AcctID.String(), currency: ofxCurrency(s.CurDef)}
		if s.InvTranList != nil {
			for _, bt := range s.InvTranList.BankTransactions {
				out.transactions = append(out.transactions, bt.Transactions...)
			}
			// Security transactions are not cash lines.
			out.skipped = len(s.InvTranList.InvTransactions)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: no bank, credit card or investment statement", core.ErrMalformedFile)
}

// ofxCurrency returns the statement currency, or "" when it is unset.
func ofxCurrency(c ofxgo.CurrSymbol) string {
	s := strings.ToUpper(strings.TrimSpace(c.String()))
	if s == "XXX" {
		return ""
	}
	return s
}

func stageOFX(txn ofxgo.Transaction, currency string) (domain.Row, bool) {
	date := txn.DtPosted.Time
	if date.IsZero() && txn.DtUser != nil {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return domain.Row{}, false
	}
	amount, err := decimal.NewFromString(txn.TrnAmt.String())
	if err != nil {
		return domain.Row{}, false
	}

	name := strings.TrimSpace(txn.Name.String())
	if name == "" && txn.Payee != nil {
		name = strings.TrimSpace(txn.Payee.Name.String())
	}
	memo := strings.TrimSpace(txn.Memo.String())
	if name == "" {
		name, memo = memo, ""
	}

	row := domain.Row{
		Date:       core.FormatDate(date),
		Amount:     amount.String(),
		Name:       name,
		Notes:      memo,
		ExternalID: strings.TrimSpace(txn.FiTID.String()),
	}
	if txn.TrnType == ofxgo.TrnTypeXfer {
		row.EntityType = string(domain.TransactionTransfer)
	}
	return row, true
}

// contentID derives a stable id for a transaction without a FITID from its
// date, amount, currency and name. Identical lines in one file are told
// apart by their occurrence number.
func contentID(row domain.Row, currency string, occurrences map[string]int) string {
	amount, _ := decimal.NewFromString(row.Amount)
	key := strings.Join([]string{row.Date, amount.StringFixed(2), strings.ToUpper(currency), core.NormalizeName(row.Name)}, "|")
	sum := sha256.Sum256([]byte(key))
	id := "ofx-" + hex.EncodeToString(sum[:12])
	occurrences[id]++
	if n := occurrences[id]; n > 1 {
		id = fmt.Sprintf("%s-%d", id, n)
	}
	return id
}

// Build fills in the account currency for lines whose statement declared
// none, ahead of the import default.
func (ofxFormat) Build(ctx context.Context, run *core.Run) error {
	if run.Account != nil && run.Account.Currency != "" {
		for i := range run.Rows {
			if run.Rows[i].Currency == "" {
				run.Rows[i].Currency = run.Account.Currency
			}
		}
	}
	return core.BuildTransactions(ctx, run, core.DedupExternalID)
}
