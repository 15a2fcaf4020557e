package formats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

const bulkExport = `{"type":"Account","data":{"id":"a1","name":"Brokerage","currency":"USD","accountable_type":"Investment"}}
{"type":"Category","data":{"id":"c1","name":"Food"}}
{"type":"Category","data":{"id":"c2","name":"Coffee","parent_id":"c1"}}
{"type":"Tag","data":{"id":"t1","name":"travel"}}
{"type":"Transaction","data":{"id":"x1","account_id":"a1","date":"2024-04-01","amount":"4.50","currency":"USD","name":"Latte","category_id":"c2","tag_ids":["t1"]}}
not json at all
{"type":"Trade","data":{"id":"x2","account_id":"a1","date":"2024-04-02","qty":"3","price":"100","currency":"USD","ticker":"VTI"}}
{"type":"Valuation","data":{"id":"x3","account_id":"a1","date":"2024-03-31","amount":"1000","kind":"opening_anchor"}}
`

func TestNDJSON_PreviewPublishRevert(t *testing.T) {
	h := newHarness(t)

	imp := h.upload(domain.FormatNDJSON, nil, "", bulkExport, "")
	assert.Equal(t, domain.StatusPublishable, imp.Status, "schema-less imports skip configure and clean")
	assert.Equal(t, 7, imp.RowsCount)
	require.NotNil(t, imp.State.NDJSON)
	assert.Equal(t, 1, imp.State.NDJSON.Skipped)
	assert.Equal(t, 2, imp.State.NDJSON.Counts["category"])

	preview, err := h.svc.Preview(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"account":     1,
		"category":    2,
		"tag":         1,
		"transaction": 1,
		"trade":       1,
		"valuation":   1,
	}, preview.ByType)
	assert.Equal(t, 1, preview.Skipped)
	assert.Empty(t, h.entries(domain.EntryFilter{}), "preview writes nothing")

	sum := h.publish(imp)
	assert.Equal(t, 1, sum.Accounts)
	assert.Equal(t, 1, sum.Transactions)
	assert.Equal(t, 1, sum.Trades)
	assert.Equal(t, 1, sum.OpeningBalances)
	assert.Equal(t, 2, sum.Categories)
	assert.Equal(t, 1, sum.Tags)
	assert.Equal(t, 1, sum.Securities)

	got, err := h.svc.Import(h.ctx, imp.ID)
	require.NoError(t, err)
	accounts := got.Created.Of(domain.KindAccount)
	require.Len(t, accounts, 1)
	acct, err := h.store.GetAccount(h.ctx, accounts[0])
	require.NoError(t, err)
	assert.Equal(t, domain.AccountInvestment, acct.Kind)

	entries := h.entries(domain.EntryFilter{AccountID: acct.ID})
	require.Len(t, entries, 3)
	assert.True(t, entries[0].IsOpeningAnchor())
	tx := entries[1]
	assert.Equal(t, "x1", tx.ExternalID)
	require.NotNil(t, tx.Transaction.CategoryID)
	coffee, err := h.store.GetCategory(h.ctx, *tx.Transaction.CategoryID)
	require.NoError(t, err)
	assert.Equal(t, "Coffee", coffee.Name)
	assert.NotNil(t, coffee.ParentID)
	assert.Len(t, tx.Transaction.TagIDs, 1)
	assert.Equal(t, "300", entries[2].Amount.String())

	res, err := h.svc.Revert(h.ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted[domain.KindEntry])
	assert.Equal(t, 1, res.Deleted[domain.KindAccount])
	assert.Equal(t, 2, res.Deleted[domain.KindCategory])
	assert.Equal(t, 1, res.Deleted[domain.KindTag])
	assert.Equal(t, 1, res.Deleted[domain.KindSecurity])

	_, err = h.store.GetAccount(h.ctx, acct.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNDJSON_AcceptsLeadingBOM(t *testing.T) {
	h := newHarness(t)

	imp := h.upload(domain.FormatNDJSON, nil, "", "\xEF\xBB\xBF"+bulkExport, "")
	assert.Equal(t, domain.StatusPublishable, imp.Status)
	assert.Equal(t, 7, imp.RowsCount)
	require.NotNil(t, imp.State.NDJSON)
	assert.Equal(t, 1, imp.State.NDJSON.Counts["account"])

	sum := h.publish(imp)
	assert.Equal(t, 1, sum.Accounts)
	assert.Equal(t, 1, sum.Transactions)
}

func TestNDJSON_RejectsFileWithoutRecords(t *testing.T) {
	h := newHarness(t)
	imp, err := h.svc.CreateImport(h.ctx, core.NewImport{FamilyID: family, Format: domain.FormatNDJSON})
	require.NoError(t, err)

	_, err = h.svc.Upload(h.ctx, imp.ID, []byte("{\"type\":\"Account\"}\n"), nil)
	require.Error(t, err)
	assert.True(t, core.IsParseError(err))
	assert.ErrorIs(t, err, core.ErrEmptyFile)
}
