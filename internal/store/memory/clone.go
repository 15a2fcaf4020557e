package memory

import (
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
)

// Values are cloned on the way in and on the way out so callers never
// share memory with the store.

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return nil
	}
	return append([]uuid.UUID(nil), ids...)
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneImport(imp *domain.Import) *domain.Import {
	out := *imp
	out.AccountID = cloneUUID(imp.AccountID)
	if imp.PublishedAt != nil {
		t := *imp.PublishedAt
		out.PublishedAt = &t
	}

	out.Mapping.Labels = cloneMap(imp.Mapping.Labels)
	out.Mapping.CategoryBindings = cloneMap(imp.Mapping.CategoryBindings)
	out.Mapping.TagBindings = cloneMap(imp.Mapping.TagBindings)
	out.Mapping.AccountBindings = cloneMap(imp.Mapping.AccountBindings)

	out.State = cloneState(imp.State)

	if imp.Created.IDs != nil {
		out.Created.IDs = make(map[string][]uuid.UUID, len(imp.Created.IDs))
		for k, ids := range imp.Created.IDs {
			out.Created.IDs[k] = cloneIDs(ids)
		}
	}
	if imp.Created.Claimed != nil {
		out.Created.Claimed = make([]domain.ClaimedEntry, len(imp.Created.Claimed))
		for i, c := range imp.Created.Claimed {
			c.ImportID = cloneUUID(c.ImportID)
			c.CategoryID = cloneUUID(c.CategoryID)
			c.TagIDs = cloneIDs(c.TagIDs)
			out.Created.Claimed[i] = c
		}
	}
	if imp.Created.Anchor != nil {
		a := *imp.Created.Anchor
		out.Created.Anchor = &a
	}
	return &out
}

func cloneState(s domain.FormatState) domain.FormatState {
	var out domain.FormatState
	if s.Delimited != nil {
		d := *s.Delimited
		d.Headers = append([]string(nil), s.Delimited.Headers...)
		out.Delimited = &d
	}
	if s.Brokerage != nil {
		b := *s.Brokerage
		b.DetectedAccounts = append([]string(nil), s.Brokerage.DetectedAccounts...)
		b.Positions = append([]domain.Position(nil), s.Brokerage.Positions...)
		out.Brokerage = &b
	}
	if s.OFX != nil {
		o := *s.OFX
		out.OFX = &o
	}
	if s.QIF != nil {
		q := *s.QIF
		if s.QIF.OpeningBalance != nil {
			ob := *s.QIF.OpeningBalance
			q.OpeningBalance = &ob
		}
		out.QIF = &q
	}
	if s.NDJSON != nil {
		n := *s.NDJSON
		n.Counts = cloneMap(s.NDJSON.Counts)
		out.NDJSON = &n
	}
	return out
}

func cloneEntry(e domain.Entry) domain.Entry {
	e.ImportID = cloneUUID(e.ImportID)
	if e.Transaction != nil {
		t := *e.Transaction
		t.CategoryID = cloneUUID(t.CategoryID)
		t.TagIDs = cloneIDs(t.TagIDs)
		e.Transaction = &t
	}
	if e.Trade != nil {
		t := *e.Trade
		e.Trade = &t
	}
	if e.Valuation != nil {
		v := *e.Valuation
		e.Valuation = &v
	}
	return e
}

func cloneCategory(c domain.Category) domain.Category {
	c.ParentID = cloneUUID(c.ParentID)
	return c
}
