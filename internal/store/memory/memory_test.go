package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := &domain.Account{Name: "Checking", Currency: "USD"}
	require.NoError(t, s.CreateAccount(ctx, acct))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx domain.Repository) error {
		require.NoError(t, tx.InsertEntries(ctx, []domain.Entry{{AccountID: acct.ID, Kind: domain.EntryTransaction, Date: day("2024-01-01")}}))
		require.NoError(t, tx.DeleteAccount(ctx, acct.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetAccount(ctx, acct.ID)
	assert.NoError(t, err, "account delete must roll back")
	entries, err := s.ListEntries(ctx, domain.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTx_Commits(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := &domain.Account{Name: "Checking", Currency: "USD"}
	require.NoError(t, s.CreateAccount(ctx, acct))

	err := s.WithTx(ctx, func(tx domain.Repository) error {
		if err := tx.LockAccount(ctx, acct.ID); err != nil {
			return err
		}
		return tx.InsertEntries(ctx, []domain.Entry{{AccountID: acct.ID, Kind: domain.EntryTransaction, Date: day("2024-01-01")}})
	})
	require.NoError(t, err)

	entries, err := s.ListEntries(ctx, domain.EntryFilter{AccountID: acct.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.False(t, entries[0].CreatedAt.IsZero())

	err = s.WithTx(ctx, func(tx domain.Repository) error { return tx.LockAccount(ctx, uuid.New()) })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithTx_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().WithTx(ctx, func(domain.Repository) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestListEntries_Filters(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := uuid.New(), uuid.New()
	imp := uuid.New()
	require.NoError(t, s.InsertEntries(ctx, []domain.Entry{
		{AccountID: a, Kind: domain.EntryTransaction, Date: day("2024-01-03"), Name: "third"},
		{AccountID: a, Kind: domain.EntryTransaction, Date: day("2024-01-01"), Name: "first", ImportID: &imp},
		{AccountID: a, Kind: domain.EntryTrade, Date: day("2024-01-02"), Name: "trade", Trade: &domain.Trade{Ticker: "VTI", Qty: decimal.NewFromInt(1)}},
		{AccountID: b, Kind: domain.EntryTransaction, Date: day("2024-01-02"), Name: "other account"},
	}))

	names := func(f domain.EntryFilter) []string {
		entries, err := s.ListEntries(ctx, f)
		require.NoError(t, err)
		var out []string
		for _, e := range entries {
			out = append(out, e.Name)
		}
		return out
	}

	assert.Equal(t, []string{"first", "trade", "third"}, names(domain.EntryFilter{AccountID: a}))
	assert.Equal(t, []string{"first", "third"}, names(domain.EntryFilter{AccountID: a, Kind: domain.EntryTransaction}))
	assert.Equal(t, []string{"trade", "third"}, names(domain.EntryFilter{AccountID: a, From: day("2024-01-02")}))
	assert.Equal(t, []string{"first", "trade"}, names(domain.EntryFilter{AccountID: a, To: day("2024-01-02")}))
	assert.Equal(t, []string{"trade"}, names(domain.EntryFilter{Ticker: "vti"}))
	assert.Equal(t, []string{"first"}, names(domain.EntryFilter{ImportID: &imp}))
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	cat := uuid.New()
	e := domain.Entry{
		ID:          uuid.New(),
		Kind:        domain.EntryTransaction,
		Date:        day("2024-01-01"),
		Transaction: &domain.Transaction{CategoryID: &cat, TagIDs: []uuid.UUID{uuid.New()}},
	}
	require.NoError(t, s.InsertEntries(ctx, []domain.Entry{e}))

	got, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	got.Transaction.CategoryID = nil
	got.Transaction.TagIDs[0] = uuid.Nil

	again, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, again.Transaction.CategoryID)
	assert.Equal(t, cat, *again.Transaction.CategoryID)
	assert.NotEqual(t, uuid.Nil, again.Transaction.TagIDs[0])
}

func TestFindCategory(t *testing.T) {
	ctx := context.Background()
	s := New()
	family := uuid.New()
	food := &domain.Category{FamilyID: family, Name: "Food"}
	require.NoError(t, s.CreateCategory(ctx, food))
	coffee := &domain.Category{FamilyID: family, Name: "Coffee", ParentID: &food.ID}
	require.NoError(t, s.CreateCategory(ctx, coffee))

	got, err := s.FindCategory(ctx, family, "coffee", &food.ID)
	require.NoError(t, err)
	assert.Equal(t, coffee.ID, got.ID)

	_, err = s.FindCategory(ctx, family, "Coffee", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound, "a top-level lookup must not match a child")
	_, err = s.FindCategory(ctx, uuid.New(), "Food", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInUse(t *testing.T) {
	ctx := context.Background()
	s := New()
	family := uuid.New()
	acct := &domain.Account{FamilyID: family, Name: "Brokerage"}
	parent := &domain.Category{FamilyID: family, Name: "Food"}
	child := &domain.Category{FamilyID: family, Name: "Coffee"}
	tag := &domain.Tag{FamilyID: family, Name: "travel"}
	sec := &domain.Security{Ticker: "VTI"}
	unused := &domain.Tag{FamilyID: family, Name: "unused"}
	require.NoError(t, s.CreateAccount(ctx, acct))
	require.NoError(t, s.CreateCategory(ctx, parent))
	child.ParentID = &parent.ID
	require.NoError(t, s.CreateCategory(ctx, child))
	require.NoError(t, s.CreateTag(ctx, tag))
	require.NoError(t, s.CreateTag(ctx, unused))
	require.NoError(t, s.CreateSecurity(ctx, sec))
	require.NoError(t, s.InsertEntries(ctx, []domain.Entry{
		{AccountID: acct.ID, Kind: domain.EntryTransaction, Date: day("2024-01-01"), Transaction: &domain.Transaction{CategoryID: &child.ID, TagIDs: []uuid.UUID{tag.ID}}},
		{AccountID: acct.ID, Kind: domain.EntryTrade, Date: day("2024-01-01"), Trade: &domain.Trade{SecurityID: sec.ID, Ticker: "VTI"}},
	}))

	tests := []struct {
		name string
		kind string
		id   uuid.UUID
		want bool
	}{
		{"account with entries", domain.KindAccount, acct.ID, true},
		{"parent category", domain.KindCategory, parent.ID, true},
		{"category on a transaction", domain.KindCategory, child.ID, true},
		{"tag on a transaction", domain.KindTag, tag.ID, true},
		{"unused tag", domain.KindTag, unused.ID, false},
		{"security with trades", domain.KindSecurity, sec.ID, true},
		{"unknown account", domain.KindAccount, uuid.New(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.InUse(ctx, tt.kind, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportsAndRows(t *testing.T) {
	ctx := context.Background()
	s := New()
	imp := &domain.Import{FamilyID: uuid.New(), Format: domain.FormatTransactions, Status: domain.StatusPending}
	require.NoError(t, s.CreateImport(ctx, imp))
	require.NotEqual(t, uuid.Nil, imp.ID)

	require.NoError(t, s.ReplaceRows(ctx, imp.ID, []domain.Row{{Index: 1, Name: "a"}, {Index: 2, Name: "b"}}))
	require.NoError(t, s.ReplaceRows(ctx, imp.ID, []domain.Row{{Index: 1, Name: "c"}}))
	rows, err := s.ListRows(ctx, imp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, imp.ID, rows[0].ImportID)

	rows[0].Name = "edited"
	require.NoError(t, s.UpdateRow(ctx, rows[0]))
	rows, err = s.ListRows(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", rows[0].Name)

	assert.ErrorIs(t, s.UpdateRow(ctx, domain.Row{ImportID: imp.ID, Index: 9}), domain.ErrNotFound)
	_, err = s.GetImport(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
