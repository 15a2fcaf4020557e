package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ---- entryWhere Tests ----

func TestEntryWhere(t *testing.T) {
	acct := uuid.New()
	imp := uuid.New()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   domain.EntryFilter
		wantSQL  string
		wantArgs int
	}{
		{"empty", domain.EntryFilter{}, "", 0},
		{"account", domain.EntryFilter{AccountID: acct}, " WHERE account_id = $1", 1},
		{
			"account kind from",
			domain.EntryFilter{AccountID: acct, Kind: domain.EntryTrade, From: from},
			" WHERE account_id = $1 AND kind = $2 AND date >= $3",
			3,
		},
		{
			"ticker import",
			domain.EntryFilter{Ticker: "acme", ImportID: &imp},
			" WHERE upper(ticker) = upper($1) AND import_id = $2",
			2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := entryWhere(tt.filter)
			if sql != tt.wantSQL {
				t.Errorf("entryWhere() sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("entryWhere() args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestEntryArgs_TradeDetail(t *testing.T) {
	e := domain.Entry{
		ID:     uuid.New(),
		Kind:   domain.EntryTrade,
		Amount: decimal.RequireFromString("-420.5"),
		Trade: &domain.Trade{
			SecurityID: uuid.New(),
			Ticker:     "ACME",
			Qty:        decimal.RequireFromString("-2"),
			Price:      decimal.RequireFromString("210.25"),
		},
	}
	args := entryArgs(e)
	if len(args) != 23 {
		t.Fatalf("entryArgs() len = %d, want 23", len(args))
	}
	if args[5] != "-420.5" {
		t.Errorf("amount arg = %v, want -420.5", args[5])
	}
	if q, ok := args[18].(*string); !ok || *q != "-2" {
		t.Errorf("qty arg = %v, want -2", args[18])
	}
	if args[13].(*uuid.UUID) != nil {
		t.Errorf("category arg = %v, want nil for a trade", args[13])
	}
}

// ---- Integration Tests ----

// testStore connects to LEDGER_TEST_DATABASE_URL, skipping when unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func TestStore_EntriesRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	acct := &domain.Account{FamilyID: uuid.New(), Name: "Checking", Currency: "USD", Kind: domain.AccountDepository}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	entries := []domain.Entry{
		{
			ID: uuid.New(), AccountID: acct.ID, Kind: domain.EntryTransaction, Date: day,
			Amount: decimal.RequireFromString("12.50"), Currency: "USD", Name: "Coffee",
			Transaction: &domain.Transaction{Kind: domain.TransactionStandard},
		},
		{
			ID: uuid.New(), AccountID: acct.ID, Kind: domain.EntryValuation, Date: day.AddDate(0, 0, -1),
			Amount: decimal.RequireFromString("100"), Currency: "USD",
			Valuation: &domain.Valuation{Kind: domain.ValuationOpeningAnchor},
		},
	}
	if err := s.InsertEntries(ctx, entries); err != nil {
		t.Fatalf("InsertEntries() error = %v", err)
	}

	got, err := s.ListEntries(ctx, domain.EntryFilter{AccountID: acct.ID})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListEntries() len = %d, want 2", len(got))
	}
	if !got[0].IsOpeningAnchor() {
		t.Errorf("first entry kind = %s, want opening anchor", got[0].Kind)
	}
	if got[1].Amount.StringFixed(2) != "12.50" {
		t.Errorf("amount = %s, want 12.50", got[1].Amount.StringFixed(2))
	}

	used, err := s.InUse(ctx, domain.KindAccount, acct.ID)
	if err != nil || !used {
		t.Errorf("InUse(account) = %v, %v; want true", used, err)
	}

	n, err := s.DeleteEntries(ctx, []uuid.UUID{entries[0].ID, entries[1].ID})
	if err != nil || n != 2 {
		t.Fatalf("DeleteEntries() = %d, %v; want 2", n, err)
	}
	if err := s.DeleteAccount(ctx, acct.ID); err != nil {
		t.Errorf("DeleteAccount() error = %v", err)
	}
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	acct := &domain.Account{ID: uuid.New(), FamilyID: uuid.New(), Name: "Brokerage", Currency: "USD", Kind: domain.AccountInvestment}
	err := s.WithTx(ctx, func(tx domain.Repository) error {
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.LockAccount(ctx, acct.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want %v", err, boom)
	}
	if _, err := s.GetAccount(ctx, acct.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetAccount() error = %v, want ErrNotFound", err)
	}
	if err := s.LockAccount(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("LockAccount(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ImportRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	imp := &domain.Import{
		FamilyID: uuid.New(),
		Format:   domain.FormatTransactions,
		Status:   domain.StatusPending,
		Content:  "date,amount\n2024-01-01,1.00\n",
		Mapping:  domain.ColumnMapping{Labels: map[domain.Field]string{domain.FieldDate: "date"}},
	}
	if err := s.CreateImport(ctx, imp); err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	rows := []domain.Row{{Index: 0, Date: "2024-01-01", Amount: "1.00"}, {Index: 1, Date: "2024-01-02", Amount: "2.00"}}
	if err := s.ReplaceRows(ctx, imp.ID, rows); err != nil {
		t.Fatalf("ReplaceRows() error = %v", err)
	}

	got, err := s.ListRows(ctx, imp.ID)
	if err != nil {
		t.Fatalf("ListRows() error = %v", err)
	}
	if len(got) != 2 || got[1].Amount != "2.00" || got[1].ImportID != imp.ID {
		t.Errorf("ListRows() = %+v", got)
	}

	loaded, err := s.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatalf("GetImport() error = %v", err)
	}
	if loaded.Content != imp.Content {
		t.Errorf("Content = %q, want %q", loaded.Content, imp.Content)
	}
	if loaded.Mapping.Label(domain.FieldDate) != "date" {
		t.Errorf("Mapping date label = %q, want date", loaded.Mapping.Label(domain.FieldDate))
	}
}
