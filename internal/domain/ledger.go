// Package domain holds the ledger entities produced by imports, the import
// staging model, and the repository interfaces both are persisted through.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind discriminates what an Entry carries.
type EntryKind string

const (
	EntryTransaction EntryKind = "transaction"
	EntryTrade       EntryKind = "trade"
	EntryValuation   EntryKind = "valuation"
)

// TransactionKind classifies a cash transaction.
type TransactionKind string

const (
	TransactionStandard TransactionKind = "standard"
	TransactionTransfer TransactionKind = "transfer"
)

// ValuationKind classifies a balance valuation.
type ValuationKind string

const (
	ValuationOpeningAnchor  ValuationKind = "opening_anchor"
	ValuationReconciliation ValuationKind = "reconciliation"
)

// ActivityOpeningBalance labels trades synthesized from a positions snapshot.
const ActivityOpeningBalance = "opening_balance"

// AccountKind describes the accountable type of an account.
type AccountKind string

const (
	AccountDepository AccountKind = "depository"
	AccountCreditCard AccountKind = "credit_card"
	AccountInvestment AccountKind = "investment"
	AccountLoan       AccountKind = "loan"
	AccountOther      AccountKind = "other_asset"
)

// Account is a family-scoped ledger account.
type Account struct {
	ID        uuid.UUID
	FamilyID  uuid.UUID
	Name      string
	Currency  string
	Kind      AccountKind
	CreatedAt time.Time
}

// Entry is a dated, signed monetary movement on an account.
//
// Amount follows the ledger sign convention: positive is value leaving the
// account, negative is value entering it.
type Entry struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	ImportID     *uuid.UUID
	Kind         EntryKind
	Date         time.Time
	Amount       decimal.Decimal
	Currency     string
	Name         string
	Notes        string
	ExternalID   string
	Source       string
	ImportLocked bool
	CreatedAt    time.Time

	Transaction *Transaction
	Trade       *Trade
	Valuation   *Valuation
}

// Transaction is the cash detail of a transaction entry.
type Transaction struct {
	CategoryID *uuid.UUID
	TagIDs     []uuid.UUID
	Kind       TransactionKind
}

// Trade is the security detail of a trade entry. Qty is signed: positive
// for acquisitions, negative for disposals.
type Trade struct {
	SecurityID uuid.UUID
	Ticker     string
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Currency   string
	Activity   string
}

// Valuation is the detail of a balance valuation entry.
type Valuation struct {
	Kind ValuationKind
}

// Security is shared reference data identified by ticker and exchange.
type Security struct {
	ID          uuid.UUID
	Ticker      string
	Name        string
	ExchangeMIC string
}

// Category is a family-scoped, optionally nested transaction category.
type Category struct {
	ID       uuid.UUID
	FamilyID uuid.UUID
	Name     string
	ParentID *uuid.UUID
	Color    string
}

// Tag is a family-scoped transaction label.
type Tag struct {
	ID       uuid.UUID
	FamilyID uuid.UUID
	Name     string
	Color    string
}

// Ticker returns the security ticker of a trade entry, or "" otherwise.
func (e *Entry) Ticker() string {
	if e.Trade == nil {
		return ""
	}
	return e.Trade.Ticker
}

// IsOpeningAnchor reports whether e is an account's opening anchor valuation.
func (e *Entry) IsOpeningAnchor() bool {
	return e.Kind == EntryValuation && e.Valuation != nil && e.Valuation.Kind == ValuationOpeningAnchor
}
