package core

import (
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
)

// Summary is the count-by-kind outcome of a preview or publish.
type Summary struct {
	Transactions    int            `json:"transactions"`
	Trades          int            `json:"trades"`
	OpeningBalances int            `json:"opening_balances"`
	Updated         int            `json:"updated"`
	Duplicates      int            `json:"duplicates"`
	Skipped         int            `json:"skipped"`
	Accounts        int            `json:"accounts"`
	Categories      int            `json:"categories"`
	Tags            int            `json:"tags"`
	Securities      int            `json:"securities"`
	ByType          map[string]int `json:"by_type,omitempty"`
	DryRun          bool           `json:"dry_run"`
}

// CountType increments the by-type counter for t.
func (s *Summary) CountType(t string) {
	if s.ByType == nil {
		s.ByType = make(map[string]int)
	}
	s.ByType[t]++
}

// NewImport is the input to CreateImport.
type NewImport struct {
	FamilyID  uuid.UUID         `json:"family_id"`
	Format    domain.FormatKind `json:"format"`
	AccountID *uuid.UUID        `json:"account_id,omitempty"`
	Currency  string            `json:"currency,omitempty"`
	// Preset names a column preset applied to the initial mapping.
	Preset string `json:"preset,omitempty"`
	// Mapping overlays the preset before the first upload.
	Mapping *domain.ColumnMapping `json:"mapping,omitempty"`
}

// Configuration is the input to Configure. Nil members are left unchanged.
type Configuration struct {
	AccountID *uuid.UUID            `json:"account_id,omitempty"`
	Currency  *string               `json:"currency,omitempty"`
	Mapping   *domain.ColumnMapping `json:"mapping,omitempty"`
	// SelectedAccount picks one of the sub-accounts a positions file
	// detected.
	SelectedAccount *string `json:"selected_account,omitempty"`
}

// CleanResult is the outcome of Clean.
type CleanResult struct {
	Import *domain.Import `json:"import"`
	Issues []RowIssue     `json:"issues,omitempty"`
}

// RevertResult counts what a revert removed or restored.
type RevertResult struct {
	Deleted  map[string]int `json:"deleted"`
	Restored int            `json:"restored"`
	// Kept counts reference data left in place because other records
	// still use it.
	Kept int `json:"kept"`
}

// FormatInfo describes a registered format.
type FormatInfo struct {
	Kind     domain.FormatKind `json:"kind"`
	Traits   Traits            `json:"traits"`
	Dedup    DedupStrategy     `json:"dedup"`
	Required []domain.Field    `json:"required"`
}
