package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// EntryFilter narrows ListEntries. Zero values do not filter.
type EntryFilter struct {
	AccountID uuid.UUID
	Kind      EntryKind
	From      time.Time
	To        time.Time
	Ticker    string
	ImportID  *uuid.UUID
}

// Repository is the set of reads and writes the import pipeline performs.
// It is satisfied both by a Store and by the transaction handle a Store
// passes to WithTx.
type Repository interface {
	CreateImport(ctx context.Context, imp *Import) error
	GetImport(ctx context.Context, id uuid.UUID) (*Import, error)
	UpdateImport(ctx context.Context, imp *Import) error
	ReplaceRows(ctx context.Context, importID uuid.UUID, rows []Row) error
	ListRows(ctx context.Context, importID uuid.UUID) ([]Row, error)
	UpdateRow(ctx context.Context, row Row) error

	CreateAccount(ctx context.Context, acct *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	// LockAccount serialises ledger writes against one account for the
	// rest of the current transaction.
	LockAccount(ctx context.Context, id uuid.UUID) error

	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	InsertEntries(ctx context.Context, entries []Entry) error
	UpdateEntry(ctx context.Context, e *Entry) error
	DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error)

	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id uuid.UUID) (*Category, error)
	FindCategory(ctx context.Context, familyID uuid.UUID, name string, parentID *uuid.UUID) (*Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error

	CreateTag(ctx context.Context, t *Tag) error
	GetTag(ctx context.Context, id uuid.UUID) (*Tag, error)
	FindTag(ctx context.Context, familyID uuid.UUID, name string) (*Tag, error)
	DeleteTag(ctx context.Context, id uuid.UUID) error

	CreateSecurity(ctx context.Context, s *Security) error
	FindSecurity(ctx context.Context, ticker, exchangeMIC string) (*Security, error)
	DeleteSecurity(ctx context.Context, id uuid.UUID) error

	// InUse reports whether any entry, category or account still references
	// the entity of the given kind.
	InUse(ctx context.Context, kind string, id uuid.UUID) (bool, error)
}

// Store is a Repository that can run a function inside one atomic
// transaction. If fn returns an error every write it made is discarded.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}
