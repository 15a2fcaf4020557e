package core

// reconcile.go holds the post-build steps formats run inside the publish
// transaction: keeping an account's opening anchor ahead of its history and
// seeding opening positions a trade history alone cannot explain.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpeningEpsilon is the smallest position gap worth an opening trade.
var OpeningEpsilon = decimal.New(1, -4)

const openingAnchorName = "Opening balance"

// FindOpeningAnchor returns the account's opening anchor, or nil.
func FindOpeningAnchor(ctx context.Context, repo domain.Repository, accountID uuid.UUID) (*domain.Entry, error) {
	entries, err := repo.ListEntries(ctx, domain.EntryFilter{AccountID: accountID, Kind: domain.EntryValuation})
	if err != nil {
		return nil, fmt.Errorf("find opening anchor: %w", err)
	}
	for i := range entries {
		if entries[i].IsOpeningAnchor() {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// AdjustOpeningAnchor moves an existing opening anchor to the day before
// the earliest row when the run reaches back past it. Anchors are never
// moved forward and never created here.
func AdjustOpeningAnchor(ctx context.Context, run *Run, acct *domain.Account) error {
	anchor, err := FindOpeningAnchor(ctx, run.Repo, acct.ID)
	if err != nil || anchor == nil {
		return err
	}
	earliest, _, ok := run.DateRange()
	if !ok || !earliest.Before(anchor.Date) {
		return nil
	}

	run.Created.Anchor = &domain.AnchorMove{EntryID: anchor.ID, Date: anchor.Date, Amount: anchor.Amount.String()}
	anchor.Date = earliest.AddDate(0, 0, -1)
	if err := run.Repo.UpdateEntry(ctx, anchor); err != nil {
		return fmt.Errorf("move opening anchor: %w", err)
	}
	run.Logger.Info("opening anchor moved", "account_id", acct.ID, "from", FormatDate(run.Created.Anchor.Date), "to", FormatDate(anchor.Date))
	return nil
}

// SetOpeningAnchor makes an explicit opening balance the account's anchor,
// overwriting any existing anchor.
func SetOpeningAnchor(ctx context.Context, run *Run, acct *domain.Account, date time.Time, amount decimal.Decimal) error {
	anchor, err := FindOpeningAnchor(ctx, run.Repo, acct.ID)
	if err != nil {
		return err
	}

	if anchor == nil {
		run.AddEntry(domain.Entry{
			AccountID: acct.ID,
			Kind:      domain.EntryValuation,
			Date:      date,
			Amount:    amount,
			Currency:  run.Currency(acct),
			Name:      openingAnchorName,
			Valuation: &domain.Valuation{Kind: domain.ValuationOpeningAnchor},
		})
		run.Summary.OpeningBalances++
		return run.Flush(ctx)
	}

	run.Created.Anchor = &domain.AnchorMove{EntryID: anchor.ID, Date: anchor.Date, Amount: anchor.Amount.String()}
	anchor.Date = date
	anchor.Amount = amount
	if err := run.Repo.UpdateEntry(ctx, anchor); err != nil {
		return fmt.Errorf("set opening anchor: %w", err)
	}
	run.Summary.OpeningBalances++
	return nil
}

// SynthesizeOpeningTrades adds a zero-cash opening trade for every snapshot
// position whose quantity exceeds what the account's trades explain. The
// trade is dated the day before the ticker's earliest trade, or the day
// before the earliest row when the ticker has none. Tickers that already
// have an opening trade are left alone.
func SynthesizeOpeningTrades(ctx context.Context, run *Run, acct *domain.Account, positions []domain.Position) error {
	earliestRow, _, haveRows := run.DateRange()

	sorted := append([]domain.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ticker < sorted[j].Ticker })

	for _, p := range sorted {
		ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))
		if ticker == "" {
			continue
		}
		snapshot, err := ParseDecimal(p.Quantity, domain.NumberFormatUS)
		if err != nil {
			run.Summary.Skipped++
			run.Logger.Debug("position skipped", "ticker", ticker, "reason", err)
			continue
		}

		trades, err := run.Repo.ListEntries(ctx, domain.EntryFilter{AccountID: acct.ID, Kind: domain.EntryTrade, Ticker: ticker})
		if err != nil {
			return fmt.Errorf("list %s trades: %w", ticker, err)
		}

		net := decimal.Zero
		var earliest time.Time
		hasOpening := false
		for _, t := range trades {
			if t.Trade == nil {
				continue
			}
			net = net.Add(t.Trade.Qty)
			if t.Trade.Activity == domain.ActivityOpeningBalance {
				hasOpening = true
			}
			if earliest.IsZero() || t.Date.Before(earliest) {
				earliest = t.Date
			}
		}

		gap := snapshot.Sub(net)
		if hasOpening || gap.LessThanOrEqual(OpeningEpsilon) {
			continue
		}

		var date time.Time
		switch {
		case !earliest.IsZero():
			date = earliest.AddDate(0, 0, -1)
		case haveRows:
			date = earliestRow.AddDate(0, 0, -1)
		default:
			run.Logger.Debug("position skipped", "ticker", ticker, "reason", "no dated activity")
			continue
		}

		sec, err := run.Cache.Security(ctx, ticker, "", p.Name)
		if err != nil {
			if errors.Is(err, ErrUnresolvableSecurity) {
				run.Summary.Skipped++
				continue
			}
			return err
		}

		price := decimal.Zero
		if strings.TrimSpace(p.Price) != "" {
			if v, err := ParseDecimal(p.Price, domain.NumberFormatUS); err == nil {
				price = v.Abs()
			}
		}
		currency := strings.ToUpper(strings.TrimSpace(p.Currency))
		if currency == "" {
			currency = run.Currency(acct)
		}

		run.AddEntry(domain.Entry{
			AccountID: acct.ID,
			Kind:      domain.EntryTrade,
			Date:      date,
			Amount:    decimal.Zero,
			Currency:  currency,
			Name:      fmt.Sprintf("Opening balance for %s", ticker),
			Trade: &domain.Trade{
				SecurityID: sec.ID,
				Ticker:     ticker,
				Qty:        gap,
				Price:      price,
				Currency:   currency,
				Activity:   domain.ActivityOpeningBalance,
			},
		})
		run.Summary.OpeningBalances++
	}
	return run.Flush(ctx)
}
