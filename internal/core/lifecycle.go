package core

// lifecycle.go gates which operations an import accepts in each state.
//
//	pending -> uploaded -> configured -> cleaned -> publishable -> published -> reverted
//
// Re-uploading is allowed from any state before published and discards the
// staged rows. Schema-less formats go from uploaded straight to publishable.

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

var transitions = map[domain.Status][]domain.Status{
	domain.StatusPending:     {domain.StatusUploaded},
	domain.StatusUploaded:    {domain.StatusUploaded, domain.StatusConfigured, domain.StatusPublishable},
	domain.StatusConfigured:  {domain.StatusUploaded, domain.StatusConfigured, domain.StatusCleaned},
	domain.StatusCleaned:     {domain.StatusUploaded, domain.StatusConfigured, domain.StatusCleaned, domain.StatusPublishable},
	domain.StatusPublishable: {domain.StatusUploaded, domain.StatusConfigured, domain.StatusPublishable, domain.StatusPublished},
	domain.StatusPublished:   {domain.StatusReverted},
	domain.StatusReverted:    nil,
}

// CanTransition reports whether the state table allows from -> to.
func CanTransition(from, to domain.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition applies the state table and the format guards for a
// move of imp to status to.
func CheckTransition(f Format, imp *domain.Import, to domain.Status) error {
	if !CanTransition(imp.Status, to) {
		return &TransitionError{From: imp.Status, To: to}
	}

	traits := f.Traits()
	switch to {
	case domain.StatusConfigured, domain.StatusCleaned:
		if traits.SchemaLess {
			return &TransitionError{From: imp.Status, To: to, Reason: fmt.Sprintf("%s imports have no mapping step", f.Kind())}
		}
	case domain.StatusPublishable:
		if imp.Status == domain.StatusUploaded && !traits.SchemaLess {
			return &TransitionError{From: imp.Status, To: to, Reason: "the import must be configured and cleaned first"}
		}
		if err := PublishGuard(f, imp); err != nil {
			return &TransitionError{From: imp.Status, To: to, Reason: err.Error()}
		}
	case domain.StatusPublished:
		if err := PublishGuard(f, imp); err != nil {
			return err
		}
	}
	return nil
}

// PublishGuard reports why imp cannot be published yet, or nil.
func PublishGuard(f Format, imp *domain.Import) error {
	traits := f.Traits()
	if !traits.Publishable {
		return ErrNotPublishable
	}
	if traits.RequiresAccount && imp.AccountID == nil {
		return &MappingError{Field: string(domain.FieldAccount), Reason: "no account bound"}
	}
	if imp.RowsCount == 0 {
		return errors.New("no records to import")
	}
	if g, ok := f.(Guard); ok {
		return g.Ready(imp)
	}
	return nil
}
