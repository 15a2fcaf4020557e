package core

// dedup.go decides whether a row is already in the ledger.
//
// Three strategies exist, one per family of formats:
//   - ExternalIDIndex: exact match on a per-format external id (OFX)
//   - CompositeIndex: (date, amount to 2 places, ticker) set built once per
//     run over the entries inside the run's date range (brokerage, trades)
//   - ClaimMatcher: an unclaimed existing entry with the same date, amount,
//     currency and name is claimed and updated in place (manual ledgers)
//
// Indexes are loaded once per account per run from the repository handle of
// the publish transaction, after the account lock is held.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ExternalIDIndex is the set of external ids already on an account.
type ExternalIDIndex struct {
	seen map[string]bool
}

// LoadExternalIDIndex indexes the external ids of every entry on account.
func LoadExternalIDIndex(ctx context.Context, repo domain.Repository, accountID uuid.UUID) (*ExternalIDIndex, error) {
	entries, err := repo.ListEntries(ctx, domain.EntryFilter{AccountID: accountID})
	if err != nil {
		return nil, fmt.Errorf("load external ids: %w", err)
	}
	idx := &ExternalIDIndex{seen: make(map[string]bool, len(entries))}
	for _, e := range entries {
		if e.ExternalID != "" {
			idx.seen[e.ExternalID] = true
		}
	}
	return idx, nil
}

// Seen reports whether id is known.
func (x *ExternalIDIndex) Seen(id string) bool {
	return x.seen[id]
}

// Add marks id as known, so a repeat later in the same file is a duplicate.
func (x *ExternalIDIndex) Add(id string) {
	x.seen[id] = true
}

// CompositeKey identifies a record by date, amount rounded to cents and
// ticker (empty for cash lines).
type CompositeKey struct {
	Date   string
	Amount string
	Ticker string
}

// NewCompositeKey builds the key for one record.
func NewCompositeKey(date time.Time, amount decimal.Decimal, ticker string) CompositeKey {
	return CompositeKey{
		Date:   FormatDate(date),
		Amount: amount.Round(2).StringFixed(2),
		Ticker: strings.ToUpper(ticker),
	}
}

// CompositeIndex is the composite-key set of an account's entries.
type CompositeIndex map[CompositeKey]bool

// LoadCompositeIndex builds the set over entries on account dated within
// [from, to].
func LoadCompositeIndex(ctx context.Context, repo domain.Repository, accountID uuid.UUID, from, to time.Time) (CompositeIndex, error) {
	entries, err := repo.ListEntries(ctx, domain.EntryFilter{AccountID: accountID, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("load composite keys: %w", err)
	}
	idx := make(CompositeIndex, len(entries))
	for _, e := range entries {
		if e.Kind == domain.EntryValuation {
			continue
		}
		idx[NewCompositeKey(e.Date, e.Amount, e.Ticker())] = true
	}
	return idx, nil
}

// Has reports whether k is in the set.
func (c CompositeIndex) Has(k CompositeKey) bool {
	return c[k]
}

type claimKey struct {
	date     string
	amount   string
	currency string
}

// ClaimMatcher finds existing transaction entries a row may claim. Each
// entry is claimed at most once per run.
type ClaimMatcher struct {
	candidates map[claimKey][]*domain.Entry
	claimed    map[uuid.UUID]bool
}

// LoadClaimMatcher indexes the transaction entries on account dated within
// [from, to]. Candidates sharing a key are ordered by date, then creation
// time, then id, so the earliest unclaimed match always wins.
func LoadClaimMatcher(ctx context.Context, repo domain.Repository, accountID uuid.UUID, from, to time.Time) (*ClaimMatcher, error) {
	entries, err := repo.ListEntries(ctx, domain.EntryFilter{
		AccountID: accountID,
		Kind:      domain.EntryTransaction,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, fmt.Errorf("load claim candidates: %w", err)
	}

	m := &ClaimMatcher{
		candidates: make(map[claimKey][]*domain.Entry),
		claimed:    make(map[uuid.UUID]bool),
	}
	for i := range entries {
		e := &entries[i]
		k := newClaimKey(e.Date, e.Amount, e.Currency)
		m.candidates[k] = append(m.candidates[k], e)
	}
	for _, list := range m.candidates {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if !a.Date.Equal(b.Date) {
				return a.Date.Before(b.Date)
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID.String() < b.ID.String()
		})
	}
	return m, nil
}

func newClaimKey(date time.Time, amount decimal.Decimal, currency string) claimKey {
	return claimKey{
		date:     FormatDate(date),
		amount:   amount.StringFixed(4),
		currency: strings.ToUpper(currency),
	}
}

// Claim returns the first unclaimed entry matching the record and marks it
// claimed, or nil. An empty name matches any entry name.
func (m *ClaimMatcher) Claim(date time.Time, amount decimal.Decimal, currency, name string) *domain.Entry {
	want := NormalizeName(name)
	for _, e := range m.candidates[newClaimKey(date, amount, currency)] {
		if m.claimed[e.ID] {
			continue
		}
		if want != "" && NormalizeName(e.Name) != want {
			continue
		}
		m.claimed[e.ID] = true
		return e
	}
	return nil
}

// Exclude marks id as claimed so no row can claim it.
func (m *ClaimMatcher) Exclude(id uuid.UUID) {
	m.claimed[id] = true
}

// NormalizeName folds a payee name for comparison: accents are removed,
// case is folded and runs of whitespace collapse to one space.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
