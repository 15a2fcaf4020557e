package formats_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	_ "github.com/JonMunkholm/ledgerimport/internal/formats"
	"github.com/JonMunkholm/ledgerimport/internal/store/memory"
)

var family = uuid.MustParse("7d0c6c35-2f0e-4f7e-9d4c-6c1f3f2a9b10")

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	svc   *core.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	return &harness{
		t:     t,
		ctx:   context.Background(),
		store: store,
		svc:   core.NewService(store, core.Options{DefaultCurrency: "USD"}),
	}
}

func (h *harness) account(name, currency string, kind domain.AccountKind) *domain.Account {
	h.t.Helper()
	acct := &domain.Account{ID: uuid.New(), FamilyID: family, Name: name, Currency: currency, Kind: kind}
	require.NoError(h.t, h.store.CreateAccount(h.ctx, acct))
	return acct
}

// upload creates an import and uploads content to it.
func (h *harness) upload(format domain.FormatKind, acct *domain.Account, preset, content, positions string) *domain.Import {
	h.t.Helper()
	in := core.NewImport{FamilyID: family, Format: format, Preset: preset}
	if acct != nil {
		id := acct.ID
		in.AccountID = &id
	}
	imp, err := h.svc.CreateImport(h.ctx, in)
	require.NoError(h.t, err)

	var pos []byte
	if positions != "" {
		pos = []byte(positions)
	}
	imp, err = h.svc.Upload(h.ctx, imp.ID, []byte(content), pos)
	require.NoError(h.t, err)
	return imp
}

// ready walks an uploaded import through configure and clean.
func (h *harness) ready(imp *domain.Import, cfg core.Configuration) *domain.Import {
	h.t.Helper()
	imp, err := h.svc.Configure(h.ctx, imp.ID, cfg)
	require.NoError(h.t, err)
	res, err := h.svc.Clean(h.ctx, imp.ID)
	require.NoError(h.t, err)
	require.Empty(h.t, res.Issues)
	require.Equal(h.t, domain.StatusPublishable, res.Import.Status)
	return res.Import
}

func (h *harness) publish(imp *domain.Import) *core.Summary {
	h.t.Helper()
	sum, err := h.svc.Publish(h.ctx, imp.ID)
	require.NoError(h.t, err)
	return sum
}

func (h *harness) entries(f domain.EntryFilter) []domain.Entry {
	h.t.Helper()
	entries, err := h.store.ListEntries(h.ctx, f)
	require.NoError(h.t, err)
	return entries
}

func (h *harness) accountEntries(acct *domain.Account, kind domain.EntryKind) []domain.Entry {
	return h.entries(domain.EntryFilter{AccountID: acct.ID, Kind: kind})
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// amounts returns the entry amounts in ledger order as fixed strings.
func amounts(entries []domain.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Amount.StringFixed(2)
	}
	return out
}
