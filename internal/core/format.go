package core

import (
	"context"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

// DedupStrategy selects how a format decides a row is already in the ledger.
type DedupStrategy string

const (
	// DedupNone imports every row.
	DedupNone DedupStrategy = "none"
	// DedupExternalID matches the row's external id exactly.
	DedupExternalID DedupStrategy = "external_id"
	// DedupComposite matches (date, amount, ticker) against a set built
	// once per run.
	DedupComposite DedupStrategy = "composite"
	// DedupClaim claims an unclaimed existing entry with the same date,
	// amount, currency and name and merges the row into it.
	DedupClaim DedupStrategy = "claim"
)

// Traits are the static properties of a format.
type Traits struct {
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Extensions  []string `json:"extensions,omitempty"`

	// SchemaLess formats have no column mapping step; configured and
	// cleaned collapse into uploaded.
	SchemaLess bool `json:"schema_less"`
	// Publishable is false for formats that never reach the ledger.
	Publishable bool `json:"publishable"`
	// RequiresAccount formats need a target account before publishing.
	RequiresAccount bool `json:"requires_account"`
	// Statement formats stage rows in StatementMapping rather than the
	// import's own column mapping.
	Statement bool `json:"statement"`
}

// ParseInput is what a format parses.
type ParseInput struct {
	Import    *domain.Import
	Content   []byte
	Positions []byte
	// DefaultCurrency is the import currency, else the service default.
	DefaultCurrency string
	// Presets are the column presets registered for the format.
	Presets []Preset
}

// Parsed is the outcome of a successful parse.
type Parsed struct {
	Rows  []domain.Row
	State domain.FormatState
	// RowsCount is the number of records the import will commit: len(Rows)
	// plus any record held in State (a QIF opening balance), or the number
	// of valid records for formats that keep no rows.
	RowsCount int
	// Mapping, when set, is the column mapping the parser resolved. It is
	// saved back onto the import.
	Mapping *domain.ColumnMapping
}

// Format is one source file format. A Format is stateless; everything a
// run needs lives on the Import or the Run.
type Format interface {
	Kind() domain.FormatKind
	Traits() Traits

	// Sniff is a cheap structural check of raw content.
	Sniff(content []byte) error

	// Parse turns content into staged rows. It never touches the ledger.
	Parse(ctx context.Context, in ParseInput) (*Parsed, error)

	// RequiredFields lists the row fields every row must carry.
	RequiredFields(imp *domain.Import) []domain.Field

	Dedup() DedupStrategy

	// Build turns the run's rows into pending ledger entries.
	Build(ctx context.Context, run *Run) error

	// Reconcile runs after the built entries are flushed, inside the same
	// transaction.
	Reconcile(ctx context.Context, run *Run) error
}

// Guard is implemented by formats with extra publish prerequisites.
type Guard interface {
	Ready(imp *domain.Import) error
}

// NopReconcile is embedded by formats without a reconciliation step.
type NopReconcile struct{}

// Reconcile does nothing.
func (NopReconcile) Reconcile(context.Context, *Run) error { return nil }
