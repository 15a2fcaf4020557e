package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Revert undoes a published import: entries it created are deleted,
// entries it claimed and any opening anchor it moved are restored, and the
// reference data it created is deleted unless something else now uses it.
// Entries a later import has claimed since are left alone.
func (s *Service) Revert(ctx context.Context, id uuid.UUID) (*RevertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	release, err := s.limiter.Admit(ctx, id, OpRevert)
	if err != nil {
		return nil, err
	}
	defer release()

	imp, f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(f, imp, domain.StatusReverted); err != nil {
		return nil, err
	}

	result := &RevertResult{Deleted: make(map[string]int)}
	reverted := *imp

	err = s.store.WithTx(ctx, func(tx domain.Repository) error {
		for _, acct := range lockOrder(imp) {
			if err := tx.LockAccount(ctx, acct); err != nil {
				return fmt.Errorf("lock account %s: %w", acct, err)
			}
		}

		if err := restoreAnchor(ctx, tx, imp.Created.Anchor); err != nil {
			return err
		}
		for _, c := range imp.Created.Claimed {
			restored, err := restoreClaim(ctx, tx, imp.ID, c)
			if err != nil {
				return err
			}
			if restored {
				result.Restored++
			} else {
				result.Kept++
			}
		}

		owned, err := ownedEntries(ctx, tx, imp)
		if err != nil {
			return err
		}
		n, err := tx.DeleteEntries(ctx, owned)
		if err != nil {
			return fmt.Errorf("delete entries: %w", err)
		}
		result.Deleted[domain.KindEntry] = int(n)
		result.Kept += len(imp.Created.Of(domain.KindEntry)) - len(owned)

		for _, step := range []struct {
			kind string
			del  func(context.Context, uuid.UUID) error
		}{
			{domain.KindSecurity, tx.DeleteSecurity},
			{domain.KindTag, tx.DeleteTag},
			{domain.KindCategory, tx.DeleteCategory},
			{domain.KindAccount, tx.DeleteAccount},
		} {
			ids := imp.Created.Of(step.kind)
			// Children were created after their parents.
			for i := len(ids) - 1; i >= 0; i-- {
				inUse, err := tx.InUse(ctx, step.kind, ids[i])
				if err != nil {
					return fmt.Errorf("check %s %s: %w", step.kind, ids[i], err)
				}
				if inUse {
					result.Kept++
					continue
				}
				if err := step.del(ctx, ids[i]); err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						continue
					}
					return fmt.Errorf("delete %s %s: %w", step.kind, ids[i], err)
				}
				result.Deleted[step.kind]++
			}
		}

		reverted.Status = domain.StatusReverted
		reverted.UpdatedAt = s.now()
		return tx.UpdateImport(ctx, &reverted)
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx, imp).Info("import reverted",
		"entries", result.Deleted[domain.KindEntry],
		"restored", result.Restored,
		"kept", result.Kept,
	)
	return result, nil
}

// ownedEntries returns the created entries that still belong to imp.
func ownedEntries(ctx context.Context, tx domain.Repository, imp *domain.Import) ([]uuid.UUID, error) {
	created := imp.Created.Of(domain.KindEntry)
	if len(created) == 0 {
		return nil, nil
	}
	importID := imp.ID
	current, err := tx.ListEntries(ctx, domain.EntryFilter{ImportID: &importID})
	if err != nil {
		return nil, fmt.Errorf("list import entries: %w", err)
	}
	still := make(map[uuid.UUID]bool, len(current))
	for _, e := range current {
		still[e.ID] = true
	}
	var owned []uuid.UUID
	for _, id := range created {
		if still[id] {
			owned = append(owned, id)
		}
	}
	return owned, nil
}

func restoreClaim(ctx context.Context, tx domain.Repository, importID uuid.UUID, c domain.ClaimedEntry) (bool, error) {
	e, err := tx.GetEntry(ctx, c.EntryID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get claimed entry: %w", err)
	}
	if e.ImportID == nil || *e.ImportID != importID {
		return false, nil
	}

	e.ImportID = c.ImportID
	e.ImportLocked = c.ImportID != nil
	e.Notes = c.Notes
	if e.Transaction != nil {
		e.Transaction.CategoryID = c.CategoryID
		e.Transaction.TagIDs = c.TagIDs
	}
	if err := tx.UpdateEntry(ctx, e); err != nil {
		return false, fmt.Errorf("restore claimed entry: %w", err)
	}
	return true, nil
}

func restoreAnchor(ctx context.Context, tx domain.Repository, move *domain.AnchorMove) error {
	if move == nil {
		return nil
	}
	e, err := tx.GetEntry(ctx, move.EntryID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get opening anchor: %w", err)
	}
	amount, err := decimal.NewFromString(move.Amount)
	if err != nil {
		return fmt.Errorf("restore opening anchor amount: %w", err)
	}
	e.Date = move.Date
	e.Amount = amount
	if err := tx.UpdateEntry(ctx, e); err != nil {
		return fmt.Errorf("restore opening anchor: %w", err)
	}
	return nil
}
