// Package postgres implements domain.Store on PostgreSQL through pgx.
//
// Every repository method runs against a DBTX, so the same queries serve
// both the pool and an open transaction. Ledger writes against one account
// are serialised with transaction-scoped advisory locks.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is a domain.Store backed by a pgx connection pool.
type Store struct {
	*repo
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

// New returns a Store using pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{repo: &repo{db: pool}, pool: pool}
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ResetImports removes every import and its staged rows.
func (s *Store) ResetImports(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE imports, import_rows`); err != nil {
		return fmt.Errorf("reset imports: %w", err)
	}
	return nil
}

// ResetLedger removes all ledger data: entries, reference data and accounts.
func (s *Store) ResetLedger(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE entries, securities, tags, categories, accounts`); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

// WithTx runs fn inside one database transaction, committing only when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Repository) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&repo{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type repo struct {
	db DBTX
}

// notFound translates pgx's empty-result error.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ---- Imports ----

const importColumns = `id, family_id, format, status, account_id, currency, mapping, state,
	content, positions, rows_count, created, error, created_at, updated_at, published_at`

func (r *repo) CreateImport(ctx context.Context, imp *domain.Import) error {
	if imp.ID == uuid.Nil {
		imp.ID = uuid.New()
	}
	now := time.Now().UTC()
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = now
	}
	if imp.UpdatedAt.IsZero() {
		imp.UpdatedAt = now
	}
	_, err := r.db.Exec(ctx, `INSERT INTO imports (`+importColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		imp.ID, imp.FamilyID, imp.Format, imp.Status, imp.AccountID, imp.Currency,
		imp.Mapping, imp.State, []byte(imp.Content), []byte(imp.Positions),
		imp.RowsCount, imp.Created, imp.Error, imp.CreatedAt, imp.UpdatedAt, imp.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

func (r *repo) GetImport(ctx context.Context, id uuid.UUID) (*domain.Import, error) {
	var (
		imp                domain.Import
		content, positions []byte
	)
	err := r.db.QueryRow(ctx, `SELECT `+importColumns+` FROM imports WHERE id = $1`, id).Scan(
		&imp.ID, &imp.FamilyID, &imp.Format, &imp.Status, &imp.AccountID, &imp.Currency,
		&imp.Mapping, &imp.State, &content, &positions,
		&imp.RowsCount, &imp.Created, &imp.Error, &imp.CreatedAt, &imp.UpdatedAt, &imp.PublishedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	imp.Content = string(content)
	imp.Positions = string(positions)
	return &imp, nil
}

func (r *repo) UpdateImport(ctx context.Context, imp *domain.Import) error {
	tag, err := r.db.Exec(ctx, `UPDATE imports SET
		status = $2, account_id = $3, currency = $4, mapping = $5, state = $6,
		content = $7, positions = $8, rows_count = $9, created = $10, error = $11,
		updated_at = $12, published_at = $13
		WHERE id = $1`,
		imp.ID, imp.Status, imp.AccountID, imp.Currency, imp.Mapping, imp.State,
		[]byte(imp.Content), []byte(imp.Positions), imp.RowsCount, imp.Created, imp.Error,
		imp.UpdatedAt, imp.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("update import: %w", err)
	}
	return affected(tag)
}

// ReplaceRows swaps an import's staged rows using COPY.
func (r *repo) ReplaceRows(ctx context.Context, importID uuid.UUID, rows []domain.Row) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM imports WHERE id = $1)`, importID).Scan(&exists); err != nil {
		return fmt.Errorf("check import: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM import_rows WHERE import_id = $1`, importID); err != nil {
		return fmt.Errorf("clear rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"import_rows"},
		[]string{"import_id", "idx", "data"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return []any{importID, int32(rows[i].Index), rows[i]}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}
	return nil
}

func (r *repo) ListRows(ctx context.Context, importID uuid.UUID) ([]domain.Row, error) {
	rows, err := r.db.Query(ctx, `SELECT data FROM import_rows WHERE import_id = $1 ORDER BY idx`, importID)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Row, error) {
		var staged domain.Row
		err := row.Scan(&staged)
		staged.ImportID = importID
		return staged, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	return out, nil
}

func (r *repo) UpdateRow(ctx context.Context, row domain.Row) error {
	tag, err := r.db.Exec(ctx, `UPDATE import_rows SET data = $3 WHERE import_id = $1 AND idx = $2`,
		row.ImportID, int32(row.Index), row)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	return affected(tag)
}

// ---- Accounts ----

func (r *repo) CreateAccount(ctx context.Context, acct *domain.Account) error {
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (id, family_id, name, currency, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		acct.ID, acct.FamilyID, acct.Name, acct.Currency, acct.Kind, acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *repo) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRow(ctx, `SELECT id, family_id, name, currency, kind, created_at
		FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.FamilyID, &a.Name, &a.Currency, &a.Kind, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *repo) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return affected(tag)
}

// LockAccount takes a transaction-scoped advisory lock keyed on the account
// id. Outside a transaction the lock is released as soon as it is taken.
func (r *repo) LockAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended(id::text, 0))
		FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return affected(tag)
}

// ---- Entries ----

const entryColumns = `id, account_id, import_id, kind, date, amount::text, currency, name, notes,
	external_id, source, import_locked, created_at,
	category_id, tag_ids, transaction_kind,
	security_id, ticker, qty::text, price::text, trade_currency, activity,
	valuation_kind`

// entryWhere renders f as a WHERE clause and its arguments.
func entryWhere(f domain.EntryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != uuid.Nil {
		add("account_id = $%d", f.AccountID)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if !f.From.IsZero() {
		add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("date <= $%d", f.To)
	}
	if f.Ticker != "" {
		add("upper(ticker) = upper($%d)", f.Ticker)
	}
	if f.ImportID != nil {
		add("import_id = $%d", *f.ImportID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repo) ListEntries(ctx context.Context, f domain.EntryFilter) ([]domain.Entry, error) {
	where, args := entryWhere(f)
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM entries`+where+
		` ORDER BY date, created_at, id::text`, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Entry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return out, nil
}

func (r *repo) GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func scanEntry(row pgx.Row) (domain.Entry, error) {
	var (
		e                      domain.Entry
		amount                 string
		categoryID, securityID *uuid.UUID
		tagIDs                 []uuid.UUID
		txKind, valuationKind  *string
		ticker, tradeCcy       *string
		qty, price, activity   *string
	)
	err := row.Scan(
		&e.ID, &e.AccountID, &e.ImportID, &e.Kind, &e.Date, &amount, &e.Currency, &e.Name, &e.Notes,
		&e.ExternalID, &e.Source, &e.ImportLocked, &e.CreatedAt,
		&categoryID, &tagIDs, &txKind,
		&securityID, &ticker, &qty, &price, &tradeCcy, &activity,
		&valuationKind,
	)
	if err != nil {
		return e, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("entry %s amount: %w", e.ID, err)
	}

	switch e.Kind {
	case domain.EntryTransaction:
		e.Transaction = &domain.Transaction{CategoryID: categoryID, TagIDs: tagIDs, Kind: domain.TransactionKind(deref(txKind))}
	case domain.EntryTrade:
		t := &domain.Trade{Ticker: deref(ticker), Currency: deref(tradeCcy), Activity: deref(activity)}
		if securityID != nil {
			t.SecurityID = *securityID
		}
		if t.Qty, err = decimalOrZero(qty); err != nil {
			return e, fmt.Errorf("entry %s qty: %w", e.ID, err)
		}
		if t.Price, err = decimalOrZero(price); err != nil {
			return e, fmt.Errorf("entry %s price: %w", e.ID, err)
		}
		e.Trade = t
	case domain.EntryValuation:
		e.Valuation = &domain.Valuation{Kind: domain.ValuationKind(deref(valuationKind))}
	}
	return e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decimalOrZero(s *string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*s)
}

// entryArgs flattens e into the column order of insertEntry.
func entryArgs(e domain.Entry) []any {
	var (
		categoryID, securityID                         *uuid.UUID
		tagIDs                                         []uuid.UUID
		txKind, ticker, qty, price, tradeCcy, activity *string
		valuationKind                                  *string
	)
	str := func(s string) *string { return &s }
	if t := e.Transaction; t != nil {
		categoryID, tagIDs, txKind = t.CategoryID, t.TagIDs, str(string(t.Kind))
	}
	if t := e.Trade; t != nil {
		id := t.SecurityID
		securityID = &id
		ticker, qty, price = str(t.Ticker), str(t.Qty.String()), str(t.Price.String())
		tradeCcy, activity = str(t.Currency), str(t.Activity)
	}
	if v := e.Valuation; v != nil {
		valuationKind = str(string(v.Kind))
	}
	return []any{
		e.ID, e.AccountID, e.ImportID, string(e.Kind), e.Date, e.Amount.String(), e.Currency,
		e.Name, e.Notes, e.ExternalID, e.Source, e.ImportLocked, e.CreatedAt,
		categoryID, tagIDs, txKind,
		securityID, ticker, qty, price, tradeCcy, activity,
		valuationKind,
	}
}

const insertEntry = `INSERT INTO entries (
	id, account_id, import_id, kind, date, amount, currency, name, notes,
	external_id, source, import_locked, created_at,
	category_id, tag_ids, transaction_kind,
	security_id, ticker, qty, price, trade_currency, activity,
	valuation_kind)
	VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13,
	$14, $15, $16, $17, $18, $19::numeric, $20::numeric, $21, $22, $23)`

// InsertEntries sends every insert in one batch.
func (r *repo) InsertEntries(ctx context.Context, entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i := range entries {
		e := entries[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		batch.Queue(insertEntry, entryArgs(e)...)
	}

	results := r.db.SendBatch(ctx, batch)
	for i := range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	return results.Close()
}

func (r *repo) UpdateEntry(ctx context.Context, e *domain.Entry) error {
	args := entryArgs(*e)
	tag, err := r.db.Exec(ctx, `UPDATE entries SET
		account_id = $2, import_id = $3, kind = $4, date = $5, amount = $6::numeric,
		currency = $7, name = $8, notes = $9, external_id = $10, source = $11,
		import_locked = $12, created_at = $13,
		category_id = $14, tag_ids = $15, transaction_kind = $16,
		security_id = $17, ticker = $18, qty = $19::numeric, price = $20::numeric,
		trade_currency = $21, activity = $22, valuation_kind = $23
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return affected(tag)
}

func (r *repo) DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM entries WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- Categories ----

func (r *repo) CreateCategory(ctx context.Context, c *domain.Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO categories (id, family_id, name, parent_id, color)
		VALUES ($1, $2, $3, $4, $5)`, c.ID, c.FamilyID, c.Name, c.ParentID, c.Color)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func scanCategory(row pgx.Row) (*domain.Category, error) {
	var c domain.Category
	if err := row.Scan(&c.ID, &c.FamilyID, &c.Name, &c.ParentID, &c.Color); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *repo) GetCategory(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	return scanCategory(r.db.QueryRow(ctx, `SELECT id, family_id, name, parent_id, color
		FROM categories WHERE id = $1`, id))
}

// FindCategory matches names case-insensitively. A nil parentID only
// matches top-level categories.
func (r *repo) FindCategory(ctx context.Context, familyID uuid.UUID, name string, parentID *uuid.UUID) (*domain.Category, error) {
	return scanCategory(r.db.QueryRow(ctx, `SELECT id, family_id, name, parent_id, color
		FROM categories
		WHERE family_id = $1 AND lower(name) = lower($2) AND parent_id IS NOT DISTINCT FROM $3
		ORDER BY id LIMIT 1`, familyID, name, parentID))
}

func (r *repo) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return affected(tag)
}

// ---- Tags ----

func (r *repo) CreateTag(ctx context.Context, t *domain.Tag) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO tags (id, family_id, name, color) VALUES ($1, $2, $3, $4)`,
		t.ID, t.FamilyID, t.Name, t.Color)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func scanTag(row pgx.Row) (*domain.Tag, error) {
	var t domain.Tag
	if err := row.Scan(&t.ID, &t.FamilyID, &t.Name, &t.Color); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *repo) GetTag(ctx context.Context, id uuid.UUID) (*domain.Tag, error) {
	return scanTag(r.db.QueryRow(ctx, `SELECT id, family_id, name, color FROM tags WHERE id = $1`, id))
}

func (r *repo) FindTag(ctx context.Context, familyID uuid.UUID, name string) (*domain.Tag, error) {
	return scanTag(r.db.QueryRow(ctx, `SELECT id, family_id, name, color FROM tags
		WHERE family_id = $1 AND lower(name) = lower($2) ORDER BY id LIMIT 1`, familyID, name))
}

func (r *repo) DeleteTag(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return affected(tag)
}

// ---- Securities ----

func (r *repo) CreateSecurity(ctx context.Context, sec *domain.Security) error {
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO securities (id, ticker, name, exchange_mic) VALUES ($1, $2, $3, $4)`,
		sec.ID, sec.Ticker, sec.Name, sec.ExchangeMIC)
	if err != nil {
		return fmt.Errorf("insert security: %w", err)
	}
	return nil
}

func (r *repo) FindSecurity(ctx context.Context, ticker, mic string) (*domain.Security, error) {
	var s domain.Security
	err := r.db.QueryRow(ctx, `SELECT id, ticker, name, exchange_mic FROM securities
		WHERE upper(ticker) = upper($1) AND upper(exchange_mic) = upper($2)`, ticker, mic).
		Scan(&s.ID, &s.Ticker, &s.Name, &s.ExchangeMIC)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *repo) DeleteSecurity(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM securities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete security: %w", err)
	}
	return affected(tag)
}

// inUseQueries answers InUse per entity kind.
var inUseQueries = map[string]string{
	domain.KindAccount:  `SELECT EXISTS (SELECT 1 FROM entries WHERE account_id = $1)`,
	domain.KindSecurity: `SELECT EXISTS (SELECT 1 FROM entries WHERE security_id = $1)`,
	domain.KindCategory: `SELECT EXISTS (SELECT 1 FROM categories WHERE parent_id = $1)
		OR EXISTS (SELECT 1 FROM entries WHERE category_id = $1)`,
	domain.KindTag: `SELECT EXISTS (SELECT 1 FROM entries WHERE $1 = ANY(tag_ids))`,
}

func (r *repo) InUse(ctx context.Context, kind string, id uuid.UUID) (bool, error) {
	q, ok := inUseQueries[kind]
	if !ok {
		return false, nil
	}
	var used bool
	if err := r.db.QueryRow(ctx, q, id).Scan(&used); err != nil {
		return false, fmt.Errorf("check %s in use: %w", kind, err)
	}
	return used, nil
}
