package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// defaultEntryName names entries whose source record carries no name.
const defaultEntryName = "Imported transaction"

// Run is one execution of the committer over an import. It owns the label
// cache, the dedup indexes and the entries built so far, and is discarded
// when the transaction ends.
type Run struct {
	Import  *domain.Import
	Format  Format
	Account *domain.Account
	Rows    []domain.Row
	Mapping domain.ColumnMapping
	Repo    domain.Repository
	Cache   *Cache
	DryRun  bool
	Summary *Summary
	Created domain.CreatedEntities
	Logger  *slog.Logger

	defaultCurrency string
	now             func() time.Time

	pending []domain.Entry
	updates []*domain.Entry

	externalIDs map[uuid.UUID]*ExternalIDIndex
	composite   map[uuid.UUID]CompositeIndex
	claimers    map[uuid.UUID]*ClaimMatcher
}

func newRun(imp *domain.Import, f Format, rows []domain.Row, repo domain.Repository, dryRun bool, defaultCurrency string, logger *slog.Logger) *Run {
	mapping := imp.Mapping
	if f.Traits().Statement {
		mapping = StatementMapping
		mapping.AccountBindings = imp.Mapping.AccountBindings
		mapping.CategoryBindings = imp.Mapping.CategoryBindings
		mapping.TagBindings = imp.Mapping.TagBindings
	}

	r := &Run{
		Import:          imp,
		Format:          f,
		Rows:            rows,
		Mapping:         mapping,
		Repo:            repo,
		DryRun:          dryRun,
		Summary:         &Summary{DryRun: dryRun},
		Logger:          logger,
		defaultCurrency: defaultCurrency,
		now:             time.Now,
		externalIDs:     make(map[uuid.UUID]*ExternalIDIndex),
		composite:       make(map[uuid.UUID]CompositeIndex),
		claimers:        make(map[uuid.UUID]*ClaimMatcher),
	}
	r.Cache = NewCache(repo, imp.FamilyID, mapping, &r.Created, r.Summary)
	return r
}

// Currency returns the currency a record on acct defaults to: the import
// currency, then the account currency, then the service default.
func (r *Run) Currency(acct *domain.Account) string {
	switch {
	case r.Import.Currency != "":
		return strings.ToUpper(r.Import.Currency)
	case acct != nil && acct.Currency != "":
		return acct.Currency
	}
	return r.defaultCurrency
}

// AccountFor returns the ledger account a row is posted to: its bound
// source account when it names one, else the import's target account.
func (r *Run) AccountFor(ctx context.Context, row domain.Row) (*domain.Account, error) {
	if label := strings.TrimSpace(row.Account); label != "" {
		acct, ok, err := r.Cache.BoundAccount(ctx, label)
		if err != nil {
			return nil, err
		}
		if ok {
			return acct, nil
		}
	}
	if r.Account == nil {
		return nil, &MappingError{Field: string(domain.FieldAccount), Row: row.Index, Reason: "no account bound"}
	}
	return r.Account, nil
}

// Skip counts a record that is dropped without failing the run.
func (r *Run) Skip(row domain.Row, reason error) {
	r.Summary.Skipped++
	r.Logger.Debug("record skipped", "row", row.Index, "reason", reason)
}

// AddEntry queues a new entry for insertion and records it as created.
func (r *Run) AddEntry(e domain.Entry) uuid.UUID {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	importID := r.Import.ID
	e.ImportID = &importID
	e.ImportLocked = true
	if e.Source == "" {
		e.Source = string(r.Import.Format)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	r.pending = append(r.pending, e)
	r.Created.Add(domain.KindEntry, e.ID)
	return e.ID
}

// Claim merges a row's category, tags and notes into an existing entry and
// takes it over for this import. The entry's prior state is recorded for
// revert.
func (r *Run) Claim(e *domain.Entry, categoryID *uuid.UUID, tagIDs []uuid.UUID, notes string) {
	prior := domain.ClaimedEntry{EntryID: e.ID, ImportID: e.ImportID, Notes: e.Notes}
	if e.Transaction == nil {
		e.Transaction = &domain.Transaction{Kind: domain.TransactionStandard}
	}
	prior.CategoryID = e.Transaction.CategoryID
	prior.TagIDs = append([]uuid.UUID(nil), e.Transaction.TagIDs...)
	r.Created.Claimed = append(r.Created.Claimed, prior)

	if categoryID != nil {
		e.Transaction.CategoryID = categoryID
	}
	e.Transaction.TagIDs = mergeIDs(e.Transaction.TagIDs, tagIDs)
	if notes = strings.TrimSpace(notes); notes != "" && !strings.Contains(e.Notes, notes) {
		if e.Notes == "" {
			e.Notes = notes
		} else {
			e.Notes += "\n" + notes
		}
	}
	importID := r.Import.ID
	e.ImportID = &importID
	e.ImportLocked = true

	r.updates = append(r.updates, e)
	r.Summary.Duplicates++
	r.Summary.Updated++
}

func mergeIDs(have, add []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(have))
	for _, id := range have {
		seen[id] = true
	}
	for _, id := range add {
		if !seen[id] {
			seen[id] = true
			have = append(have, id)
		}
	}
	return have
}

// Flush writes queued entries and claimed-entry updates.
func (r *Run) Flush(ctx context.Context) error {
	if len(r.pending) > 0 {
		if err := r.Repo.InsertEntries(ctx, r.pending); err != nil {
			return fmt.Errorf("insert entries: %w", err)
		}
		r.pending = nil
	}
	for _, e := range r.updates {
		if err := r.Repo.UpdateEntry(ctx, e); err != nil {
			return fmt.Errorf("update claimed entry %s: %w", e.ID, err)
		}
	}
	r.updates = nil
	return nil
}

// DateRange returns the earliest and latest row dates that parse. ok is
// false when no row date parses.
func (r *Run) DateRange() (from, to time.Time, ok bool) {
	for _, row := range r.Rows {
		d, err := RowDate(row, r.Mapping)
		if err != nil {
			continue
		}
		if !ok || d.Before(from) {
			from = d
		}
		if !ok || d.After(to) {
			to = d
		}
		ok = true
	}
	return from, to, ok
}

func (r *Run) externalIDIndex(ctx context.Context, acct uuid.UUID) (*ExternalIDIndex, error) {
	if idx, ok := r.externalIDs[acct]; ok {
		return idx, nil
	}
	idx, err := LoadExternalIDIndex(ctx, r.Repo, acct)
	if err != nil {
		return nil, err
	}
	r.externalIDs[acct] = idx
	return idx, nil
}

func (r *Run) compositeIndex(ctx context.Context, acct uuid.UUID) (CompositeIndex, error) {
	if idx, ok := r.composite[acct]; ok {
		return idx, nil
	}
	from, to, ok := r.DateRange()
	if !ok {
		idx := CompositeIndex{}
		r.composite[acct] = idx
		return idx, nil
	}
	idx, err := LoadCompositeIndex(ctx, r.Repo, acct, from, to)
	if err != nil {
		return nil, err
	}
	r.composite[acct] = idx
	return idx, nil
}

func (r *Run) claimMatcher(ctx context.Context, acct uuid.UUID) (*ClaimMatcher, error) {
	if m, ok := r.claimers[acct]; ok {
		return m, nil
	}
	from, to, ok := r.DateRange()
	if !ok {
		from, to = time.Time{}, time.Time{}
	}
	m, err := LoadClaimMatcher(ctx, r.Repo, acct, from, to)
	if err != nil {
		return nil, err
	}
	r.claimers[acct] = m
	return m, nil
}

// isDuplicate applies a key-based strategy to one record.
func (r *Run) isDuplicate(ctx context.Context, strategy DedupStrategy, acct uuid.UUID, externalID string, key CompositeKey) (bool, error) {
	switch strategy {
	case DedupExternalID:
		if externalID == "" {
			return false, nil
		}
		idx, err := r.externalIDIndex(ctx, acct)
		if err != nil {
			return false, err
		}
		if idx.Seen(externalID) {
			return true, nil
		}
		idx.Add(externalID)
	case DedupComposite:
		idx, err := r.compositeIndex(ctx, acct)
		if err != nil {
			return false, err
		}
		return idx.Has(key), nil
	}
	return false, nil
}

// BuildTransactions turns every row into a cash transaction using the
// given dedup strategy.
func BuildTransactions(ctx context.Context, run *Run, strategy DedupStrategy) error {
	for i, row := range run.Rows {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := run.BuildTransaction(ctx, row, strategy); err != nil {
			return err
		}
	}
	return nil
}

// BuildTransaction builds one cash transaction. Unparseable dates or
// amounts skip the row; mapping failures are returned.
func (r *Run) BuildTransaction(ctx context.Context, row domain.Row, strategy DedupStrategy) error {
	acct, err := r.AccountFor(ctx, row)
	if err != nil {
		return err
	}
	date, err := RowDate(row, r.Mapping)
	if err != nil {
		r.Skip(row, err)
		return nil
	}
	amount, err := RowSignedAmount(row, r.Mapping)
	if err != nil {
		var me *MappingError
		if errors.As(err, &me) {
			return err
		}
		r.Skip(row, err)
		return nil
	}
	currency := RowCurrency(row, r.Currency(acct))
	name := RowName(row, defaultEntryName)

	categoryID, err := r.Cache.Category(ctx, row.Category, row.CategoryParent)
	if err != nil {
		return err
	}
	tagIDs, err := r.Cache.Tags(ctx, RowTags(row))
	if err != nil {
		return err
	}

	if strategy == DedupClaim {
		m, err := r.claimMatcher(ctx, acct.ID)
		if err != nil {
			return err
		}
		matchName := strings.TrimSpace(row.Name)
		if e := m.Claim(date, amount, currency, matchName); e != nil {
			r.Claim(e, categoryID, tagIDs, row.Notes)
			return nil
		}
	} else {
		dup, err := r.isDuplicate(ctx, strategy, acct.ID, row.ExternalID, NewCompositeKey(date, amount, ""))
		if err != nil {
			return err
		}
		if dup {
			r.Summary.Duplicates++
			return nil
		}
	}

	kind := domain.TransactionStandard
	if strings.EqualFold(row.EntityType, string(domain.TransactionTransfer)) {
		kind = domain.TransactionTransfer
	}
	r.AddEntry(domain.Entry{
		AccountID:  acct.ID,
		Kind:       domain.EntryTransaction,
		Date:       date,
		Amount:     amount,
		Currency:   currency,
		Name:       name,
		Notes:      strings.TrimSpace(row.Notes),
		ExternalID: row.ExternalID,
		Transaction: &domain.Transaction{
			CategoryID: categoryID,
			TagIDs:     tagIDs,
			Kind:       kind,
		},
	})
	r.Summary.Transactions++
	return nil
}

// BuildTrades turns rows carrying a ticker and quantity into trades and the
// rest into cash transactions, all deduplicated by composite key.
func BuildTrades(ctx context.Context, run *Run) error {
	for i, row := range run.Rows {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if RowTicker(row) == "" || strings.TrimSpace(row.Quantity) == "" {
			if err := run.BuildTransaction(ctx, row, DedupComposite); err != nil {
				return err
			}
			continue
		}
		if err := run.BuildTrade(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// BuildTrade builds one trade. The entry amount is the signed quantity
// times the price, so buys are positive and sells negative.
func (r *Run) BuildTrade(ctx context.Context, row domain.Row) error {
	acct, err := r.AccountFor(ctx, row)
	if err != nil {
		return err
	}
	date, err := RowDate(row, r.Mapping)
	if err != nil {
		r.Skip(row, err)
		return nil
	}
	qty, err := RowQuantity(row, r.Mapping)
	if err != nil {
		r.Skip(row, err)
		return nil
	}
	if qty.IsZero() {
		r.Skip(row, fmt.Errorf("zero quantity"))
		return nil
	}
	price, err := r.tradePrice(row, qty)
	if err != nil {
		r.Skip(row, err)
		return nil
	}

	ticker := RowTicker(row)
	sec, err := r.Cache.Security(ctx, ticker, row.ExchangeMIC, "")
	if err != nil {
		if errors.Is(err, ErrUnresolvableSecurity) {
			r.Skip(row, err)
			return nil
		}
		return err
	}

	amount := qty.Mul(price)
	dup, err := r.isDuplicate(ctx, DedupComposite, acct.ID, "", NewCompositeKey(date, amount, sec.Ticker))
	if err != nil {
		return err
	}
	if dup {
		r.Summary.Duplicates++
		return nil
	}

	activity := TradeDirection(row.EntityType)
	if activity == "" {
		activity = EntityBuy
		if qty.IsNegative() {
			activity = EntitySell
		}
	}
	currency := RowCurrency(row, r.Currency(acct))
	name := RowName(row, fmt.Sprintf("%s %s shares of %s", activityLabel(activity), qty.Abs().String(), sec.Ticker))

	r.AddEntry(domain.Entry{
		AccountID:  acct.ID,
		Kind:       domain.EntryTrade,
		Date:       date,
		Amount:     amount,
		Currency:   currency,
		Name:       name,
		Notes:      strings.TrimSpace(row.Notes),
		ExternalID: row.ExternalID,
		Trade: &domain.Trade{
			SecurityID: sec.ID,
			Ticker:     sec.Ticker,
			Qty:        qty,
			Price:      price,
			Currency:   currency,
			Activity:   activity,
		},
	})
	r.Summary.Trades++
	return nil
}

func activityLabel(a string) string {
	if a == "" {
		return a
	}
	return strings.ToUpper(a[:1]) + a[1:]
}

// tradePrice returns the row price, or the amount divided by the quantity
// when the source only states a total.
func (r *Run) tradePrice(row domain.Row, qty decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(row.Price) != "" {
		return RowPrice(row, r.Mapping)
	}
	if strings.TrimSpace(row.Amount) == "" {
		return decimal.Zero, fmt.Errorf("trade has neither price nor amount")
	}
	amt, err := ParseDecimal(row.Amount, r.Mapping.NumberFormat)
	if err != nil {
		return decimal.Zero, err
	}
	return amt.Abs().DivRound(qty.Abs(), 4), nil
}
