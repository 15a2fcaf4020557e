package core

// commit.go is the ledger committer: the one path that writes an import's
// rows to the ledger.
//
// Everything happens in a single transaction:
//  1. take the per-account locks of every account the run may touch
//  2. build entries from rows, resolving labels and deduplicating
//  3. bulk-insert new entries and write claimed-entry updates
//  4. run the format's reconciliation step
//  5. mark the import published with its created-entity bookkeeping
//
// A preview runs the same steps and then rolls the transaction back.
// Mapping failures detectable up front are reported before the
// transaction starts.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
)

// errDryRun rolls back a preview transaction once its summary is complete.
var errDryRun = errors.New("dry run")

func (s *Service) commit(ctx context.Context, f Format, imp *domain.Import, dryRun bool) (*Summary, error) {
	logger := s.logger(ctx, imp).With("dry_run", dryRun)

	rows, err := s.store.ListRows(ctx, imp.ID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	if err := precheck(f, imp, rows); err != nil {
		return nil, err
	}

	run := newRun(imp, f, rows, nil, dryRun, s.opts.DefaultCurrency, logger)
	var published domain.Import

	err = s.store.WithTx(ctx, func(tx domain.Repository) error {
		run.Repo = tx
		run.Cache = NewCache(tx, imp.FamilyID, run.Mapping, &run.Created, run.Summary)

		for _, id := range lockOrder(imp) {
			if err := tx.LockAccount(ctx, id); err != nil {
				return fmt.Errorf("lock account %s: %w", id, err)
			}
		}
		if imp.AccountID != nil {
			acct, err := run.Cache.Account(ctx, *imp.AccountID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return &MappingError{Field: string(domain.FieldAccount), Reason: "no account bound: target account not found"}
				}
				return fmt.Errorf("get account: %w", err)
			}
			run.Account = acct
		}

		if err := f.Build(ctx, run); err != nil {
			return err
		}
		if err := run.Flush(ctx); err != nil {
			return err
		}
		if err := f.Reconcile(ctx, run); err != nil {
			return err
		}
		if err := run.Flush(ctx); err != nil {
			return err
		}

		if dryRun {
			return errDryRun
		}

		now := s.now()
		published = *imp
		published.Status = domain.StatusPublished
		published.Created = run.Created
		published.PublishedAt = &now
		published.UpdatedAt = now
		published.Error = ""
		if err := tx.UpdateImport(ctx, &published); err != nil {
			return fmt.Errorf("update import: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}

	if !dryRun {
		*imp = published
		logger.Info("import published",
			"transactions", run.Summary.Transactions,
			"trades", run.Summary.Trades,
			"duplicates", run.Summary.Duplicates,
			"skipped", run.Summary.Skipped,
		)
	}
	return run.Summary, nil
}

// precheck reports mapping failures that need no database access.
func precheck(f Format, imp *domain.Import, rows []domain.Row) error {
	traits := f.Traits()
	if traits.SchemaLess {
		return nil
	}
	if !traits.Statement {
		for _, field := range f.RequiredFields(imp) {
			if imp.Mapping.Label(field) == "" {
				return &MappingError{Field: string(field), Reason: "missing required column: field is not mapped"}
			}
		}
	}
	if imp.AccountID != nil {
		return nil
	}
	for _, row := range rows {
		if _, bound := imp.Mapping.AccountBindings[strings.TrimSpace(row.Account)]; !bound {
			return &MappingError{Field: string(domain.FieldAccount), Row: row.Index, Reason: "no account bound"}
		}
	}
	return nil
}

// lockOrder returns every account a run may write to, in a fixed order so
// concurrent publishes cannot deadlock.
func lockOrder(imp *domain.Import) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if imp.AccountID != nil {
		add(*imp.AccountID)
	}
	for _, id := range imp.Mapping.AccountBindings {
		add(id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
