package formats

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func init() {
	core.Register(ndjsonFormat{})
}

// Record types understood by the bulk builder.
const (
	recordAccount     = "account"
	recordCategory    = "category"
	recordTag         = "tag"
	recordTransaction = "transaction"
	recordTrade       = "trade"
	recordValuation   = "valuation"
)

var knownRecordTypes = map[string]bool{
	recordAccount: true, recordCategory: true, recordTag: true,
	recordTransaction: true, recordTrade: true, recordValuation: true,
}

const maxRecordSize = 4 * 1024 * 1024

// errBadRecord marks a line that is skipped and counted.
var errBadRecord = errors.New("malformed record")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type accountRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Kind     string `json:"accountable_type"`
}

type categoryRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type tagRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type entryRecord struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"account_id"`
	Date        string   `json:"date"`
	Amount      string   `json:"amount"`
	Currency    string   `json:"currency"`
	Name        string   `json:"name"`
	Notes       string   `json:"notes"`
	CategoryID  string   `json:"category_id"`
	TagIDs      []string `json:"tag_ids"`
	Kind        string   `json:"kind"`
	Ticker      string   `json:"ticker"`
	ExchangeMIC string   `json:"exchange_operating_mic"`
	Qty         string   `json:"qty"`
	Price       string   `json:"price"`
}

// ndjsonFormat is a bulk export: one {type, data} object per line covering
// accounts, reference data and entries. It keeps no rows; Build streams the
// stored content.
type ndjsonFormat struct {
	core.NopReconcile
}

func (ndjsonFormat) Kind() domain.FormatKind { return domain.FormatNDJSON }

func (ndjsonFormat) Traits() core.Traits {
	return core.Traits{
		Label:       "NDJSON bulk export",
		Description: "Newline-delimited JSON export of accounts, categories, tags and entries",
		Extensions:  []string{".ndjson", ".jsonl"},
		SchemaLess:  true,
		Publishable: true,
	}
}

func (ndjsonFormat) Dedup() core.DedupStrategy                   { return core.DedupNone }
func (ndjsonFormat) RequiredFields(*domain.Import) []domain.Field { return nil }

// Sniff parses only the first non-blank line.
func (ndjsonFormat) Sniff(content []byte) error {
	sc := newLineScanner(core.StripBOMBytes(content))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return fmt.Errorf("%w: first line is not a JSON object: %v", core.ErrMalformedFile, err)
		}
		if env.Type == "" {
			return fmt.Errorf("%w: first line has no type", core.ErrMalformedFile)
		}
		return nil
	}
	return core.ErrEmptyFile
}

func newLineScanner(content []byte) *bufio.Scanner {
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 64*1024), maxRecordSize)
	return sc
}

// eachRecord calls fn for every well-formed line. Lines that are not a
// typed object of a known type are counted and skipped.
func eachRecord(ctx context.Context, content []byte, fn func(env envelope) error) (skipped int, err error) {
	sc := newLineScanner(content)
	n := 0
	for sc.Scan() {
		n++
		if n%core.ContextCheckInterval == 0 && ctx.Err() != nil {
			return skipped, ctx.Err()
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var env envelope
		if json.Unmarshal(line, &env) != nil || !knownRecordTypes[strings.ToLower(env.Type)] || len(env.Data) == 0 {
			skipped++
			continue
		}
		env.Type = strings.ToLower(env.Type)
		if err := fn(env); err != nil {
			if errors.Is(err, errBadRecord) {
				skipped++
				continue
			}
			return skipped, err
		}
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("%w: %v", core.ErrMalformedFile, err)
	}
	return skipped, nil
}

func (ndjsonFormat) Parse(ctx context.Context, in core.ParseInput) (*core.Parsed, error) {
	state := &domain.NDJSONState{Counts: make(map[string]int)}
	total := 0
	skipped, err := eachRecord(ctx, core.StripBOMBytes(in.Content), func(env envelope) error {
		state.Counts[env.Type]++
		total++
		return nil
	})
	if err != nil {
		return nil, core.NewParseError(domain.FormatNDJSON, err)
	}
	state.Skipped = skipped
	if total == 0 {
		return nil, core.NewParseError(domain.FormatNDJSON, fmt.Errorf("%w: no valid records", core.ErrEmptyFile))
	}
	return &core.Parsed{
		State:     domain.FormatState{NDJSON: state},
		RowsCount: total,
	}, nil
}

func (ndjsonFormat) Build(ctx context.Context, run *core.Run) error {
	content := core.StripBOMBytes([]byte(run.Import.Content))

	if run.DryRun {
		skipped, err := eachRecord(ctx, content, func(env envelope) error {
			run.Summary.CountType(env.Type)
			return nil
		})
		run.Summary.Skipped += skipped
		return err
	}

	b := &bulkBuilder{
		run:        run,
		accounts:   make(map[string]*domain.Account),
		categories: make(map[string]string),
		tags:       make(map[string]string),
	}
	skipped, err := eachRecord(ctx, content, func(env envelope) error {
		if err := b.build(ctx, env); err != nil {
			return err
		}
		run.Summary.CountType(env.Type)
		return nil
	})
	run.Summary.Skipped += skipped
	return err
}

// bulkBuilder creates ledger entities from bulk records, remapping the
// source ids records use to refer to each other.
type bulkBuilder struct {
	run        *core.Run
	accounts   map[string]*domain.Account
	categories map[string]string // source id -> category path
	tags       map[string]string // source id -> tag name
}

func decodeRecord(env envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", errBadRecord, env.Type, err)
	}
	return nil
}

func (b *bulkBuilder) build(ctx context.Context, env envelope) error {
	switch env.Type {
	case recordAccount:
		var rec accountRecord
		if err := decodeRecord(env, &rec); err != nil {
			return err
		}
		return b.account(ctx, rec)
	case recordCategory:
		var rec categoryRecord
		if err := decodeRecord(env, &rec); err != nil {
			return err
		}
		return b.category(ctx, rec)
	case recordTag:
		var rec tagRecord
		if err := decodeRecord(env, &rec); err != nil {
			return err
		}
		return b.tag(ctx, rec)
	default:
		var rec entryRecord
		if err := decodeRecord(env, &rec); err != nil {
			return err
		}
		return b.entry(ctx, env.Type, rec)
	}
}

func (b *bulkBuilder) account(ctx context.Context, rec accountRecord) error {
	name := strings.TrimSpace(rec.Name)
	if rec.ID == "" || name == "" {
		return fmt.Errorf("%w: account needs id and name", errBadRecord)
	}
	if acct, bound, err := b.run.Cache.BoundAccount(ctx, name); err != nil {
		return err
	} else if bound {
		b.accounts[rec.ID] = acct
		return nil
	}

	currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
	if currency == "" {
		currency = b.run.Currency(nil)
	}
	acct := &domain.Account{
		ID:        uuid.New(),
		FamilyID:  b.run.Import.FamilyID,
		Name:      name,
		Currency:  currency,
		Kind:      accountKind(rec.Kind),
		CreatedAt: time.Now().UTC(),
	}
	if err := b.run.Repo.CreateAccount(ctx, acct); err != nil {
		return fmt.Errorf("create account %q: %w", name, err)
	}
	b.run.Created.Add(domain.KindAccount, acct.ID)
	b.run.Summary.Accounts++
	b.accounts[rec.ID] = acct
	return nil
}

func accountKind(s string) domain.AccountKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "depository":
		return domain.AccountDepository
	case "creditcard", "credit_card":
		return domain.AccountCreditCard
	case "investment", "crypto":
		return domain.AccountInvestment
	case "loan":
		return domain.AccountLoan
	}
	return domain.AccountOther
}

func (b *bulkBuilder) category(ctx context.Context, rec categoryRecord) error {
	name := strings.TrimSpace(rec.Name)
	if rec.ID == "" || name == "" {
		return fmt.Errorf("%w: category needs id and name", errBadRecord)
	}
	parent := b.categories[rec.ParentID]
	if _, err := b.run.Cache.Category(ctx, name, parent); err != nil {
		return err
	}
	path := name
	if parent != "" {
		path = parent + ":" + name
	}
	b.categories[rec.ID] = path
	return nil
}

func (b *bulkBuilder) tag(ctx context.Context, rec tagRecord) error {
	name := strings.TrimSpace(rec.Name)
	if rec.ID == "" || name == "" {
		return fmt.Errorf("%w: tag needs id and name", errBadRecord)
	}
	if _, err := b.run.Cache.Tags(ctx, []string{name}); err != nil {
		return err
	}
	b.tags[rec.ID] = name
	return nil
}

// entryAccount returns the account an entry record is posted to: its
// remapped source account, else the import's target account.
func (b *bulkBuilder) entryAccount(rec entryRecord) (*domain.Account, error) {
	if acct, ok := b.accounts[rec.AccountID]; ok {
		return acct, nil
	}
	if b.run.Account != nil {
		return b.run.Account, nil
	}
	return nil, fmt.Errorf("%w: unknown account %q", errBadRecord, rec.AccountID)
}

func (b *bulkBuilder) entry(ctx context.Context, kind string, rec entryRecord) error {
	acct, err := b.entryAccount(rec)
	if err != nil {
		return err
	}
	date, err := core.ParseDate(rec.Date, "")
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRecord, err)
	}
	currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
	if currency == "" {
		currency = b.run.Currency(acct)
	}

	e := domain.Entry{
		AccountID:  acct.ID,
		Date:       date,
		Currency:   currency,
		Name:       strings.TrimSpace(rec.Name),
		Notes:      strings.TrimSpace(rec.Notes),
		ExternalID: rec.ID,
	}
	if rec.Amount != "" {
		if e.Amount, err = decimal.NewFromString(rec.Amount); err != nil {
			return fmt.Errorf("%w: amount %q", errBadRecord, rec.Amount)
		}
	}

	switch kind {
	case recordTransaction:
		categoryID, err := b.run.Cache.Category(ctx, b.categories[rec.CategoryID], "")
		if err != nil {
			return err
		}
		var names []string
		for _, id := range rec.TagIDs {
			if n, ok := b.tags[id]; ok {
				names = append(names, n)
			}
		}
		tagIDs, err := b.run.Cache.Tags(ctx, names)
		if err != nil {
			return err
		}
		txKind := domain.TransactionStandard
		if strings.EqualFold(rec.Kind, string(domain.TransactionTransfer)) {
			txKind = domain.TransactionTransfer
		}
		e.Kind = domain.EntryTransaction
		e.Transaction = &domain.Transaction{CategoryID: categoryID, TagIDs: tagIDs, Kind: txKind}
		b.run.Summary.Transactions++

	case recordTrade:
		qty, err := decimal.NewFromString(strings.TrimSpace(rec.Qty))
		if err != nil || qty.IsZero() {
			return fmt.Errorf("%w: trade quantity %q", errBadRecord, rec.Qty)
		}
		price := decimal.Zero
		if rec.Price != "" {
			if price, err = decimal.NewFromString(rec.Price); err != nil {
				return fmt.Errorf("%w: trade price %q", errBadRecord, rec.Price)
			}
		}
		sec, err := b.run.Cache.Security(ctx, rec.Ticker, rec.ExchangeMIC, "")
		if err != nil {
			if errors.Is(err, core.ErrUnresolvableSecurity) {
				return fmt.Errorf("%w: %v", errBadRecord, err)
			}
			return err
		}
		if rec.Amount == "" {
			e.Amount = qty.Mul(price)
		}
		activity := core.EntityBuy
		if qty.IsNegative() {
			activity = core.EntitySell
		}
		if rec.Kind != "" {
			activity = strings.ToLower(rec.Kind)
		}
		e.Kind = domain.EntryTrade
		e.Trade = &domain.Trade{
			SecurityID: sec.ID,
			Ticker:     sec.Ticker,
			Qty:        qty,
			Price:      price.Abs(),
			Currency:   currency,
			Activity:   activity,
		}
		b.run.Summary.Trades++

	case recordValuation:
		vk := domain.ValuationReconciliation
		if strings.EqualFold(rec.Kind, string(domain.ValuationOpeningAnchor)) {
			vk = domain.ValuationOpeningAnchor
			b.run.Summary.OpeningBalances++
		}
		e.Kind = domain.EntryValuation
		e.Valuation = &domain.Valuation{Kind: vk}
	}

	if e.Name == "" {
		e.Name = kind
	}
	b.run.AddEntry(e)
	return nil
}
