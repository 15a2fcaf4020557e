package domain

import (
	"time"

	"github.com/google/uuid"
)

// FormatKind is the discriminator selecting an import's Format.
type FormatKind string

const (
	FormatTransactions FormatKind = "transactions"
	FormatMint         FormatKind = "mint"
	FormatTrades       FormatKind = "trades"
	FormatBrokerage    FormatKind = "brokerage"
	FormatOFX          FormatKind = "ofx"
	FormatQIF          FormatKind = "qif"
	FormatNDJSON       FormatKind = "ndjson"
	FormatDocument     FormatKind = "document"
)

// Status is an import's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUploaded    Status = "uploaded"
	StatusConfigured  Status = "configured"
	StatusCleaned     Status = "cleaned"
	StatusPublishable Status = "publishable"
	StatusPublished   Status = "published"
	StatusReverted    Status = "reverted"
)

// Field names a Row column a mapping can bind a source label to.
type Field string

const (
	FieldDate           Field = "date"
	FieldAmount         Field = "amount"
	FieldCurrency       Field = "currency"
	FieldName           Field = "name"
	FieldCategory       Field = "category"
	FieldCategoryParent Field = "category_parent"
	FieldTicker         Field = "ticker"
	FieldExchangeMIC    Field = "exchange_mic"
	FieldQuantity       Field = "quantity"
	FieldPrice          Field = "price"
	FieldEntityType     Field = "entity_type"
	FieldNotes          Field = "notes"
	FieldTags           Field = "tags"
	FieldExternalID     Field = "external_id"
	FieldAccount        Field = "account"
)

// SignConvention states how a source file expresses direction.
type SignConvention string

const (
	// InflowsNegative matches the ledger: money in is negative.
	InflowsNegative SignConvention = "inflows_negative"
	// InflowsPositive is the bank-statement convention: money in is positive.
	InflowsPositive SignConvention = "inflows_positive"
)

// AmountStrategy states where a row's direction comes from.
type AmountStrategy string

const (
	AmountSigned     AmountStrategy = "signed_amount"
	AmountTypeColumn AmountStrategy = "type_column"
)

// Number formats understood by the decimal parser.
const (
	NumberFormatUS     = "1,234.56"
	NumberFormatEU     = "1.234,56"
	NumberFormatFR     = "1 234,56"
	NumberFormatNoCent = "1,234"
)

// ColumnMapping is an import's column-mapping configuration.
type ColumnMapping struct {
	Labels         map[Field]string `json:"labels,omitempty"`
	DateFormat     string           `json:"date_format,omitempty"`
	NumberFormat   string           `json:"number_format,omitempty"`
	ColSep         string           `json:"col_sep,omitempty"`
	RowsToSkip     int              `json:"rows_to_skip,omitempty"`
	SignConvention SignConvention   `json:"sign_convention,omitempty"`
	AmountStrategy AmountStrategy   `json:"amount_strategy,omitempty"`
	InflowValue    string           `json:"inflow_value,omitempty"`
	Encoding       string           `json:"encoding,omitempty"`

	CategoryBindings map[string]uuid.UUID `json:"category_bindings,omitempty"`
	TagBindings      map[string]uuid.UUID `json:"tag_bindings,omitempty"`
	AccountBindings  map[string]uuid.UUID `json:"account_bindings,omitempty"`
}

// Label returns the source label bound to f, or "".
func (m ColumnMapping) Label(f Field) string {
	if m.Labels == nil {
		return ""
	}
	return m.Labels[f]
}

// Import is one import job.
type Import struct {
	ID        uuid.UUID
	FamilyID  uuid.UUID
	Format    FormatKind
	Status    Status
	AccountID *uuid.UUID
	Currency  string
	Mapping   ColumnMapping
	State     FormatState

	// Content and Positions are the raw files handed over by the upload flow.
	Content   string
	Positions string

	RowsCount   int
	Created     CreatedEntities
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt *time.Time
}

// FormatState carries per-format transient state. Only the member matching
// the import's format is set.
type FormatState struct {
	Delimited *DelimitedState `json:"delimited,omitempty"`
	Brokerage *BrokerageState `json:"brokerage,omitempty"`
	OFX       *OFXState       `json:"ofx,omitempty"`
	QIF       *QIFState       `json:"qif,omitempty"`
	NDJSON    *NDJSONState    `json:"ndjson,omitempty"`
}

// DelimitedState is the state of the column-mapped CSV formats.
type DelimitedState struct {
	Headers []string `json:"headers,omitempty"`
	Skipped int      `json:"skipped"`
}

// Position is one line of a brokerage positions snapshot.
type Position struct {
	Account  string `json:"account"`
	Ticker   string `json:"ticker"`
	Name     string `json:"name,omitempty"`
	Quantity string `json:"quantity"`
	Price    string `json:"price,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// BrokerageState is the state of the brokerage activity format.
type BrokerageState struct {
	DetectedAccounts []string   `json:"detected_accounts,omitempty"`
	SelectedAccount  string     `json:"selected_account,omitempty"`
	Positions        []Position `json:"positions,omitempty"`
	Skipped          int        `json:"skipped"`
}

// NeedsSelection reports whether several sub-accounts were detected and
// none has been selected yet.
func (b *BrokerageState) NeedsSelection() bool {
	return b != nil && len(b.DetectedAccounts) > 1 && b.SelectedAccount == ""
}

// OFXState is the state of the OFX format.
type OFXState struct {
	Currency      string `json:"currency,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	StatementType string `json:"statement_type,omitempty"`
	Skipped       int    `json:"skipped"`
}

// OpeningBalance is an explicit opening-balance statement found in a file.
type OpeningBalance struct {
	Date   string `json:"date"`
	Amount string `json:"amount"`
}

// QIFState is the state of the QIF format.
type QIFState struct {
	AccountType    string          `json:"account_type,omitempty"`
	Investment     bool            `json:"investment"`
	OpeningBalance *OpeningBalance `json:"opening_balance,omitempty"`
	Skipped        int             `json:"skipped"`
}

// NDJSONState is the state of the NDJSON bulk format.
type NDJSONState struct {
	Counts  map[string]int `json:"counts,omitempty"`
	Skipped int            `json:"skipped"`
}

// Entity kinds used for created-entity bookkeeping.
const (
	KindEntry    = "entries"
	KindAccount  = "accounts"
	KindCategory = "categories"
	KindTag      = "tags"
	KindSecurity = "securities"
)

// ClaimedEntry is the pre-merge state of an existing entry an import updated
// in place, kept so a revert can restore it.
type ClaimedEntry struct {
	EntryID    uuid.UUID   `json:"entry_id"`
	ImportID   *uuid.UUID  `json:"import_id,omitempty"`
	CategoryID *uuid.UUID  `json:"category_id,omitempty"`
	TagIDs     []uuid.UUID `json:"tag_ids,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}

// AnchorMove records an opening anchor an import moved or overwrote.
type AnchorMove struct {
	EntryID uuid.UUID `json:"entry_id"`
	Date    time.Time `json:"date"`
	Amount  string    `json:"amount"`
}

// CreatedEntities is an import's revert bookkeeping.
type CreatedEntities struct {
	IDs     map[string][]uuid.UUID `json:"ids,omitempty"`
	Claimed []ClaimedEntry         `json:"claimed,omitempty"`
	Anchor  *AnchorMove            `json:"anchor,omitempty"`
}

// Add records ids created under kind.
func (c *CreatedEntities) Add(kind string, ids ...uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	if c.IDs == nil {
		c.IDs = make(map[string][]uuid.UUID)
	}
	c.IDs[kind] = append(c.IDs[kind], ids...)
}

// Of returns the ids created under kind.
func (c CreatedEntities) Of(kind string) []uuid.UUID {
	return c.IDs[kind]
}

// Empty reports whether nothing was recorded.
func (c CreatedEntities) Empty() bool {
	for _, ids := range c.IDs {
		if len(ids) > 0 {
			return false
		}
	}
	return len(c.Claimed) == 0 && c.Anchor == nil
}
