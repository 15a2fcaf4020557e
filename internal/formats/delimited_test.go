package formats_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

const transactionsCSV = `Date,Amount,Name,Category,Tags,Notes
2024-02-01,-12.50,Coffee Bar,Food:Coffee,morning|work,latte
2024-02-02,-80.00,Grocer,Food:Groceries,,
2024-02-03,2500.00,Employer,Income,,
`

func TestTransactions_Publish(t *testing.T) {
	h := newHarness(t)
	acct := h.account("Checking", "USD", domain.AccountDepository)

	imp := h.upload(domain.FormatTransactions, acct, "generic", transactionsCSV, "")
	assert.Equal(t, 3, imp.RowsCount)
	require.NotNil(t, imp.State.Delimited)

	sum := h.publish(h.ready(imp, core.Configuration{}))
	assert.Equal(t, 3, sum.Transactions)
	assert.Equal(t, 4, sum.Categories)
	assert.Equal(t, 2, sum.Tags)

	entries := h.accountEntries(acct, domain.EntryTransaction)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"12.50", "80.00", "-2500.00"}, amounts(entries))
	assert.Len(t, entries[0].Transaction.TagIDs, 2)
	assert.Equal(t, "latte", entries[0].Notes)

	got, err := h.svc.Import(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
	assert.NotNil(t, got.PublishedAt)
	assert.Len(t, got.Created.Of(domain.KindEntry), 3)
}

func TestTransactions_ReimportClaimsInsteadOfDuplicating(t *testing.T) {
	h := newHarness(t)
	acct := h.account("Checking", "USD", domain.AccountDepository)

	first := h.publish(h.ready(h.upload(domain.FormatTransactions, acct, "generic", transactionsCSV, ""), core.Configuration{}))

	second := h.ready(h.upload(domain.FormatTransactions, acct, "generic", transactionsCSV, ""), core.Configuration{})
	preview, err := h.svc.Preview(h.ctx, second.ID)
	require.NoError(t, err)
	assert.Zero(t, preview.Transactions)
	assert.Equal(t, first.Transactions, preview.Duplicates+preview.Updated)

	h.publish(second)
	assert.Len(t, h.accountEntries(acct, domain.EntryTransaction), first.Transactions)
}

func TestTransactions_PublishIsAtomic(t *testing.T) {
	h := newHarness(t)
	acct := h.account("Checking", "USD", domain.AccountDepository)

	rent := &domain.Category{ID: uuid.New(), FamilyID: family, Name: "Rent"}
	require.NoError(t, h.store.CreateCategory(h.ctx, rent))

	content := transactionsCSV + "2024-02-04,-1500.00,Landlord,Housing,,\n"
	imp := h.upload(domain.FormatTransactions, acct, "generic", content, "")
	m := imp.Mapping
	m.CategoryBindings = map[string]uuid.UUID{"Housing": rent.ID}
	imp = h.ready(imp, core.Configuration{Mapping: &m})

	require.NoError(t, h.store.DeleteCategory(h.ctx, rent.ID))

	_, err := h.svc.Publish(h.ctx, imp.ID)
	require.Error(t, err)
	assert.True(t, core.IsMappingError(err))
	assert.Contains(t, err.Error(), "binding not found")

	assert.Empty(t, h.accountEntries(acct, ""))
	_, err = h.store.FindCategory(h.ctx, family, "Food", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound, "categories created before the failure must be rolled back")

	got, err := h.svc.Import(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublishable, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.True(t, got.Created.Empty())
}

func TestTransactions_ClaimMergesAndRevertRestores(t *testing.T) {
	h := newHarness(t)
	acct := h.account("Checking", "USD", domain.AccountDepository)

	manual := domain.Entry{
		ID:          uuid.New(),
		AccountID:   acct.ID,
		Kind:        domain.EntryTransaction,
		Date:        date("2024-02-02"),
		Amount:      dec("80.00"),
		Currency:    "USD",
		Name:        "GROCER",
		Notes:       "typed in by hand",
		Transaction: &domain.Transaction{Kind: domain.TransactionStandard},
	}
	require.NoError(t, h.store.InsertEntries(h.ctx, []domain.Entry{manual}))

	imp := h.ready(h.upload(domain.FormatTransactions, acct, "generic", transactionsCSV, ""), core.Configuration{})
	sum := h.publish(imp)
	assert.Equal(t, 2, sum.Transactions)
	assert.Equal(t, 1, sum.Updated)
	assert.Len(t, h.accountEntries(acct, domain.EntryTransaction), 3)

	claimed, err := h.store.GetEntry(h.ctx, manual.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.ImportID)
	assert.Equal(t, imp.ID, *claimed.ImportID)
	assert.NotNil(t, claimed.Transaction.CategoryID)
	assert.True(t, claimed.ImportLocked)

	res, err := h.svc.Revert(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, 2, res.Deleted[domain.KindEntry])

	restored, err := h.store.GetEntry(h.ctx, manual.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.ImportID)
	assert.Nil(t, restored.Transaction.CategoryID)
	assert.False(t, restored.ImportLocked)
	assert.Equal(t, "typed in by hand", restored.Notes)
	assert.Len(t, h.accountEntries(acct, domain.EntryTransaction), 1)

	got, err := h.svc.Import(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReverted, got.Status)
}

func TestTransactions_MissingRequiredColumn(t *testing.T) {
	h := newHarness(t)
	acct := h.account("Checking", "USD", domain.AccountDepository)
	id := acct.ID

	imp, err := h.svc.CreateImport(h.ctx, core.NewImport{FamilyID: family, Format: domain.FormatTransactions, AccountID: &id})
	require.NoError(t, err)
	_, err = h.svc.Upload(h.ctx, imp.ID, []byte("When,What\n2024-01-01,lunch\n"), nil)
	require.Error(t, err)
	assert.True(t, core.IsMappingError(err))
}

func TestMint_TypeColumnAndAccountBindings(t *testing.T) {
	h := newHarness(t)
	checking := h.account("Checking", "USD", domain.AccountDepository)
	card := h.account("Visa", "USD", domain.AccountCreditCard)

	content := `"Date","Description","Original Description","Amount","Transaction Type","Category","Account Name","Labels","Notes"
"1/15/2024","Paycheck","ACME PAYROLL","2,000.00","credit","Paycheck","Main Checking","",""
"1/16/2024","Cafe","CAFE 123","4.75","debit","Coffee Shops","Visa Card","",""
`
	imp := h.upload(domain.FormatMint, nil, "mint", content, "")
	m := imp.Mapping
	m.AccountBindings = map[string]uuid.UUID{"Main Checking": checking.ID, "Visa Card": card.ID}
	imp = h.ready(imp, core.Configuration{Mapping: &m})

	sum := h.publish(imp)
	assert.Equal(t, 2, sum.Transactions)
	assert.Equal(t, []string{"-2000.00"}, amounts(h.accountEntries(checking, domain.EntryTransaction)))
	assert.Equal(t, []string{"4.75"}, amounts(h.accountEntries(card, domain.EntryTransaction)))
}

const tradesCSV = `Date,Ticker,Qty,Price,Type
2024-05-01,VTI,10,250.00,buy
2024-05-10,VTI,4,260.00,sell
`

func TestTrades_CompositeDedup(t *testing.T) {
	h := newHarness(t)
	acct := h.account("Brokerage", "USD", domain.AccountInvestment)

	sum := h.publish(h.ready(h.upload(domain.FormatTrades, acct, "generic", tradesCSV, ""), core.Configuration{}))
	assert.Equal(t, 2, sum.Trades)
	assert.Equal(t, 1, sum.Securities)

	trades := h.accountEntries(acct, domain.EntryTrade)
	require.Len(t, trades, 2)
	assert.Equal(t, "2500.00", trades[0].Amount.StringFixed(2))
	assert.Equal(t, "-4", trades[1].Trade.Qty.String())
	assert.Equal(t, "-1040.00", trades[1].Amount.StringFixed(2))

	again := h.ready(h.upload(domain.FormatTrades, acct, "generic", tradesCSV, ""), core.Configuration{})
	preview, err := h.svc.Preview(h.ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.Duplicates)
	assert.Zero(t, preview.Trades)
}

func TestTrades_UnresolvableTickerIsSkipped(t *testing.T) {
	h := newHarness(t)
	acct := h.account("Brokerage", "USD", domain.AccountInvestment)

	csv := "Date,Ticker,Qty,Price,Type\n" +
		"2024-05-01,VTI,10,250.00,buy\n" +
		"2024-05-02,BAD TICKER!,5,10.00,buy\n"
	imp := h.ready(h.upload(domain.FormatTrades, acct, "generic", csv, ""), core.Configuration{})

	preview, err := h.svc.Preview(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, preview.Trades)
	assert.Equal(t, 1, preview.Skipped)

	sum := h.publish(imp)
	assert.Equal(t, 1, sum.Trades)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Securities)

	trades := h.accountEntries(acct, domain.EntryTrade)
	require.Len(t, trades, 1)
	assert.Equal(t, "VTI", trades[0].Ticker())

	got, err := h.svc.Import(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, got.Status)
}
