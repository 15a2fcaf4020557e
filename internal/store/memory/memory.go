// Package memory is an in-process implementation of domain.Store. Writes
// inside WithTx go to a private copy of the data that replaces the live
// data only when the function succeeds.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
)

type dataset struct {
	imports    map[uuid.UUID]*domain.Import
	rows       map[uuid.UUID][]domain.Row
	accounts   map[uuid.UUID]domain.Account
	entries    map[uuid.UUID]domain.Entry
	categories map[uuid.UUID]domain.Category
	tags       map[uuid.UUID]domain.Tag
	securities map[uuid.UUID]domain.Security
}

func newDataset() *dataset {
	return &dataset{
		imports:    make(map[uuid.UUID]*domain.Import),
		rows:       make(map[uuid.UUID][]domain.Row),
		accounts:   make(map[uuid.UUID]domain.Account),
		entries:    make(map[uuid.UUID]domain.Entry),
		categories: make(map[uuid.UUID]domain.Category),
		tags:       make(map[uuid.UUID]domain.Tag),
		securities: make(map[uuid.UUID]domain.Security),
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// values themselves can be shared.
func (d *dataset) clone() *dataset {
	out := &dataset{
		imports:    cloneMap(d.imports),
		rows:       make(map[uuid.UUID][]domain.Row, len(d.rows)),
		accounts:   cloneMap(d.accounts),
		entries:    cloneMap(d.entries),
		categories: cloneMap(d.categories),
		tags:       cloneMap(d.tags),
		securities: cloneMap(d.securities),
	}
	for k, rows := range d.rows {
		out.rows[k] = append([]domain.Row(nil), rows...)
	}
	return out
}

// Store is a mutex-guarded in-memory domain.Store.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: newDataset()}
}

var _ domain.Store = (*Store)(nil)

// WithTx runs fn against a copy of the data and keeps the copy only when fn
// succeeds. Transactions are serialised; fn must use tx, not the Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&repo{data: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

// ResetImports removes every import and its staged rows.
func (s *Store) ResetImports(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.imports = make(map[uuid.UUID]*domain.Import)
	s.data.rows = make(map[uuid.UUID][]domain.Row)
	return ctx.Err()
}

// ResetLedger removes all ledger data: entries, reference data and accounts.
func (s *Store) ResetLedger(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := newDataset()
	fresh.imports, fresh.rows = s.data.imports, s.data.rows
	s.data = fresh
	return ctx.Err()
}

func (s *Store) do(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{data: s.data})
}

func (s *Store) CreateImport(ctx context.Context, imp *domain.Import) error {
	return s.do(func(r *repo) error { return r.CreateImport(ctx, imp) })
}

func (s *Store) GetImport(ctx context.Context, id uuid.UUID) (imp *domain.Import, err error) {
	err = s.do(func(r *repo) error { imp, err = r.GetImport(ctx, id); return err })
	return imp, err
}

func (s *Store) UpdateImport(ctx context.Context, imp *domain.Import) error {
	return s.do(func(r *repo) error { return r.UpdateImport(ctx, imp) })
}

func (s *Store) ReplaceRows(ctx context.Context, importID uuid.UUID, rows []domain.Row) error {
	return s.do(func(r *repo) error { return r.ReplaceRows(ctx, importID, rows) })
}

func (s *Store) ListRows(ctx context.Context, importID uuid.UUID) (rows []domain.Row, err error) {
	err = s.do(func(r *repo) error { rows, err = r.ListRows(ctx, importID); return err })
	return rows, err
}

func (s *Store) UpdateRow(ctx context.Context, row domain.Row) error {
	return s.do(func(r *repo) error { return r.UpdateRow(ctx, row) })
}

func (s *Store) CreateAccount(ctx context.Context, acct *domain.Account) error {
	return s.do(func(r *repo) error { return r.CreateAccount(ctx, acct) })
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (acct *domain.Account, err error) {
	err = s.do(func(r *repo) error { acct, err = r.GetAccount(ctx, id); return err })
	return acct, err
}

func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r *repo) error { return r.DeleteAccount(ctx, id) })
}

func (s *Store) LockAccount(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r *repo) error { return r.LockAccount(ctx, id) })
}

func (s *Store) ListEntries(ctx context.Context, f domain.EntryFilter) (entries []domain.Entry, err error) {
	err = s.do(func(r *repo) error { entries, err = r.ListEntries(ctx, f); return err })
	return entries, err
}

func (s *Store) GetEntry(ctx context.Context, id uuid.UUID) (e *domain.Entry, err error) {
	err = s.do(func(r *repo) error { e, err = r.GetEntry(ctx, id); return err })
	return e, err
}

func (s *Store) InsertEntries(ctx context.Context, entries []domain.Entry) error {
	return s.do(func(r *repo) error { return r.InsertEntries(ctx, entries) })
}

func (s *Store) UpdateEntry(ctx context.Context, e *domain.Entry) error {
	return s.do(func(r *repo) error { return r.UpdateEntry(ctx, e) })
}

func (s *Store) DeleteEntries(ctx context.Context, ids []uuid.UUID) (n int64, err error) {
	err = s.do(func(r *repo) error { n, err = r.DeleteEntries(ctx, ids); return err })
	return n, err
}

func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	return s.do(func(r *repo) error { return r.CreateCategory(ctx, c) })
}

func (s *Store) GetCategory(ctx context.Context, id uuid.UUID) (c *domain.Category, err error) {
	err = s.do(func(r *repo) error { c, err = r.GetCategory(ctx, id); return err })
	return c, err
}

func (s *Store) FindCategory(ctx context.Context, familyID uuid.UUID, name string, parentID *uuid.UUID) (c *domain.Category, err error) {
	err = s.do(func(r *repo) error { c, err = r.FindCategory(ctx, familyID, name, parentID); return err })
	return c, err
}

func (s *Store) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r *repo) error { return r.DeleteCategory(ctx, id) })
}

func (s *Store) CreateTag(ctx context.Context, t *domain.Tag) error {
	return s.do(func(r *repo) error { return r.CreateTag(ctx, t) })
}

func (s *Store) GetTag(ctx context.Context, id uuid.UUID) (t *domain.Tag, err error) {
	err = s.do(func(r *repo) error { t, err = r.GetTag(ctx, id); return err })
	return t, err
}

func (s *Store) FindTag(ctx context.Context, familyID uuid.UUID, name string) (t *domain.Tag, err error) {
	err = s.do(func(r *repo) error { t, err = r.FindTag(ctx, familyID, name); return err })
	return t, err
}

func (s *Store) DeleteTag(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r *repo) error { return r.DeleteTag(ctx, id) })
}

func (s *Store) CreateSecurity(ctx context.Context, sec *domain.Security) error {
	return s.do(func(r *repo) error { return r.CreateSecurity(ctx, sec) })
}

func (s *Store) FindSecurity(ctx context.Context, ticker, mic string) (sec *domain.Security, err error) {
	err = s.do(func(r *repo) error { sec, err = r.FindSecurity(ctx, ticker, mic); return err })
	return sec, err
}

func (s *Store) DeleteSecurity(ctx context.Context, id uuid.UUID) error {
	return s.do(func(r *repo) error { return r.DeleteSecurity(ctx, id) })
}

func (s *Store) InUse(ctx context.Context, kind string, id uuid.UUID) (used bool, err error) {
	err = s.do(func(r *repo) error { used, err = r.InUse(ctx, kind, id); return err })
	return used, err
}

// repo implements domain.Repository over one dataset. The caller holds the
// Store's lock.
type repo struct {
	data *dataset
}

func (r *repo) CreateImport(_ context.Context, imp *domain.Import) error {
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
	r.data.imports[imp.ID] = cloneImport(imp)
	return nil
}

func (r *repo) GetImport(_ context.Context, id uuid.UUID) (*domain.Import, error) {
	imp, ok := r.data.imports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneImport(imp), nil
}

func (r *repo) UpdateImport(_ context.Context, imp *domain.Import) error {
	if _, ok := r.data.imports[imp.ID]; !ok {
		return domain.ErrNotFound
	}
	r.data.imports[imp.ID] = cloneImport(imp)
	return nil
}

func (r *repo) ReplaceRows(_ context.Context, importID uuid.UUID, rows []domain.Row) error {
	if _, ok := r.data.imports[importID]; !ok {
		return domain.ErrNotFound
	}
	stored := make([]domain.Row, len(rows))
	for i, row := range rows {
		row.ImportID = importID
		stored[i] = row
	}
	r.data.rows[importID] = stored
	return nil
}

func (r *repo) ListRows(_ context.Context, importID uuid.UUID) ([]domain.Row, error) {
	return append([]domain.Row(nil), r.data.rows[importID]...), nil
}

func (r *repo) UpdateRow(_ context.Context, row domain.Row) error {
	rows := r.data.rows[row.ImportID]
	for i := range rows {
		if rows[i].Index == row.Index {
			updated := append([]domain.Row(nil), rows...)
			updated[i] = row
			r.data.rows[row.ImportID] = updated
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *repo) CreateAccount(_ context.Context, acct *domain.Account) error {
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	r.data.accounts[acct.ID] = *acct
	return nil
}

func (r *repo) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	a, ok := r.data.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *repo) DeleteAccount(_ context.Context, id uuid.UUID) error {
	if _, ok := r.data.accounts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.data.accounts, id)
	return nil
}

// LockAccount checks the account exists. Transactions are already
// serialised by the Store's lock.
func (r *repo) LockAccount(_ context.Context, id uuid.UUID) error {
	if _, ok := r.data.accounts[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) ListEntries(_ context.Context, f domain.EntryFilter) ([]domain.Entry, error) {
	var out []domain.Entry
	for _, e := range r.data.entries {
		if !matches(e, f) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out, nil
}

func matches(e domain.Entry, f domain.EntryFilter) bool {
	switch {
	case f.AccountID != uuid.Nil && e.AccountID != f.AccountID:
		return false
	case f.Kind != "" && e.Kind != f.Kind:
		return false
	case !f.From.IsZero() && e.Date.Before(f.From):
		return false
	case !f.To.IsZero() && e.Date.After(f.To):
		return false
	case f.Ticker != "" && !strings.EqualFold(e.Ticker(), f.Ticker):
		return false
	case f.ImportID != nil && (e.ImportID == nil || *e.ImportID != *f.ImportID):
		return false
	}
	return true
}

func (r *repo) GetEntry(_ context.Context, id uuid.UUID) (*domain.Entry, error) {
	e, ok := r.data.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneEntry(e)
	return &out, nil
}

func (r *repo) InsertEntries(_ context.Context, entries []domain.Entry) error {
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		r.data.entries[e.ID] = cloneEntry(e)
	}
	return nil
}

func (r *repo) UpdateEntry(_ context.Context, e *domain.Entry) error {
	if _, ok := r.data.entries[e.ID]; !ok {
		return domain.ErrNotFound
	}
	r.data.entries[e.ID] = cloneEntry(*e)
	return nil
}

func (r *repo) DeleteEntries(_ context.Context, ids []uuid.UUID) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := r.data.entries[id]; ok {
			delete(r.data.entries, id)
			n++
		}
	}
	return n, nil
}

func (r *repo) CreateCategory(_ context.Context, c *domain.Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.data.categories[c.ID] = cloneCategory(*c)
	return nil
}

func (r *repo) GetCategory(_ context.Context, id uuid.UUID) (*domain.Category, error) {
	c, ok := r.data.categories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneCategory(c)
	return &out, nil
}

func (r *repo) FindCategory(_ context.Context, familyID uuid.UUID, name string, parentID *uuid.UUID) (*domain.Category, error) {
	for _, c := range r.data.categories {
		if c.FamilyID != familyID || !strings.EqualFold(c.Name, name) {
			continue
		}
		if (c.ParentID == nil) != (parentID == nil) {
			continue
		}
		if c.ParentID != nil && *c.ParentID != *parentID {
			continue
		}
		out := cloneCategory(c)
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

func (r *repo) DeleteCategory(_ context.Context, id uuid.UUID) error {
	if _, ok := r.data.categories[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.data.categories, id)
	return nil
}

func (r *repo) CreateTag(_ context.Context, t *domain.Tag) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.data.tags[t.ID] = *t
	return nil
}

func (r *repo) GetTag(_ context.Context, id uuid.UUID) (*domain.Tag, error) {
	t, ok := r.data.tags[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r *repo) FindTag(_ context.Context, familyID uuid.UUID, name string) (*domain.Tag, error) {
	for _, t := range r.data.tags {
		if t.FamilyID == familyID && strings.EqualFold(t.Name, name) {
			out := t
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *repo) DeleteTag(_ context.Context, id uuid.UUID) error {
	if _, ok := r.data.tags[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.data.tags, id)
	return nil
}

func (r *repo) CreateSecurity(_ context.Context, sec *domain.Security) error {
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	r.data.securities[sec.ID] = *sec
	return nil
}

func (r *repo) FindSecurity(_ context.Context, ticker, mic string) (*domain.Security, error) {
	for _, s := range r.data.securities {
		if strings.EqualFold(s.Ticker, ticker) && strings.EqualFold(s.ExchangeMIC, mic) {
			out := s
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *repo) DeleteSecurity(_ context.Context, id uuid.UUID) error {
	if _, ok := r.data.securities[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.data.securities, id)
	return nil
}

func (r *repo) InUse(_ context.Context, kind string, id uuid.UUID) (bool, error) {
	switch kind {
	case domain.KindAccount:
		for _, e := range r.data.entries {
			if e.AccountID == id {
				return true, nil
			}
		}
	case domain.KindSecurity:
		for _, e := range r.data.entries {
			if e.Trade != nil && e.Trade.SecurityID == id {
				return true, nil
			}
		}
	case domain.KindCategory:
		for _, c := range r.data.categories {
			if c.ParentID != nil && *c.ParentID == id {
				return true, nil
			}
		}
		for _, e := range r.data.entries {
			if e.Transaction != nil && e.Transaction.CategoryID != nil && *e.Transaction.CategoryID == id {
				return true, nil
			}
		}
	case domain.KindTag:
		for _, e := range r.data.entries {
			if e.Transaction == nil {
				continue
			}
			for _, t := range e.Transaction.TagIDs {
				if t == id {
					return true, nil
				}
			}
		}
	}
	return false, nil
}
