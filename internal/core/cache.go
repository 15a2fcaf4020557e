package core

// cache.go resolves free-text labels to family-scoped reference data.
//
// A Cache belongs to one publish run and is discarded with it. Lookups go
// to the run's repository handle once per distinct label; missing categories,
// tags and securities are created on demand and recorded so a revert can
// remove them.

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
)

// tickerPattern is the shape of a ticker a security may be created for.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-^]{1,12}$`)

// categorySep separates levels of a hierarchical category label.
const categorySep = ":"

// Cache is the run-scoped label resolver.
type Cache struct {
	repo     domain.Repository
	familyID uuid.UUID
	mapping  domain.ColumnMapping
	created  *domain.CreatedEntities
	summary  *Summary

	categories map[string]uuid.UUID
	tags       map[string]uuid.UUID
	securities map[string]*domain.Security
	accounts   map[uuid.UUID]*domain.Account
}

// NewCache creates a cache that records created entities into created and
// counts them in summary.
func NewCache(repo domain.Repository, familyID uuid.UUID, mapping domain.ColumnMapping, created *domain.CreatedEntities, summary *Summary) *Cache {
	return &Cache{
		repo:       repo,
		familyID:   familyID,
		mapping:    mapping,
		created:    created,
		summary:    summary,
		categories: make(map[string]uuid.UUID),
		tags:       make(map[string]uuid.UUID),
		securities: make(map[string]*domain.Security),
		accounts:   make(map[uuid.UUID]*domain.Account),
	}
}

// Category resolves a category label. A label bound in the mapping resolves
// to the bound category, which must exist. Otherwise the label is found or
// created under parent; a label containing ":" with no explicit parent is
// read as a path. An empty label resolves to nil.
func (c *Cache) Category(ctx context.Context, label, parent string) (*uuid.UUID, error) {
	label = strings.TrimSpace(label)
	parent = strings.TrimSpace(parent)
	if label == "" {
		return nil, nil
	}

	if id, ok := c.mapping.CategoryBindings[label]; ok {
		if _, err := c.repo.GetCategory(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &MappingError{Field: string(domain.FieldCategory), Reason: fmt.Sprintf("binding not found for %q", label)}
			}
			return nil, fmt.Errorf("get bound category: %w", err)
		}
		return &id, nil
	}

	path := splitCategory(label)
	if parent != "" && len(path) == 1 {
		path = append(splitCategory(parent), path[0])
	}

	var parentID *uuid.UUID
	for i := range path {
		id, err := c.categoryLevel(ctx, path[:i+1], parentID)
		if err != nil {
			return nil, err
		}
		parentID = &id
	}
	return parentID, nil
}

func splitCategory(label string) []string {
	var path []string
	for _, p := range strings.Split(label, categorySep) {
		if p = strings.TrimSpace(p); p != "" {
			path = append(path, p)
		}
	}
	return path
}

func (c *Cache) categoryLevel(ctx context.Context, path []string, parentID *uuid.UUID) (uuid.UUID, error) {
	key := strings.ToLower(strings.Join(path, categorySep))
	if id, ok := c.categories[key]; ok {
		return id, nil
	}

	name := path[len(path)-1]
	cat, err := c.repo.FindCategory(ctx, c.familyID, name, parentID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		cat = &domain.Category{ID: uuid.New(), FamilyID: c.familyID, Name: name, ParentID: parentID}
		if err := c.repo.CreateCategory(ctx, cat); err != nil {
			return uuid.Nil, fmt.Errorf("create category %q: %w", name, err)
		}
		c.created.Add(domain.KindCategory, cat.ID)
		c.summary.Categories++
	default:
		return uuid.Nil, fmt.Errorf("find category %q: %w", name, err)
	}

	c.categories[key] = cat.ID
	return cat.ID, nil
}

// Tags resolves tag labels, honouring tag bindings.
func (c *Cache) Tags(ctx context.Context, labels []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, label := range labels {
		id, err := c.tag(ctx, label)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Cache) tag(ctx context.Context, label string) (uuid.UUID, error) {
	if id, ok := c.mapping.TagBindings[label]; ok {
		if _, err := c.repo.GetTag(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return uuid.Nil, &MappingError{Field: string(domain.FieldTags), Reason: fmt.Sprintf("binding not found for %q", label)}
			}
			return uuid.Nil, fmt.Errorf("get bound tag: %w", err)
		}
		return id, nil
	}

	key := strings.ToLower(label)
	if id, ok := c.tags[key]; ok {
		return id, nil
	}

	tag, err := c.repo.FindTag(ctx, c.familyID, label)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		tag = &domain.Tag{ID: uuid.New(), FamilyID: c.familyID, Name: label}
		if err := c.repo.CreateTag(ctx, tag); err != nil {
			return uuid.Nil, fmt.Errorf("create tag %q: %w", label, err)
		}
		c.created.Add(domain.KindTag, tag.ID)
		c.summary.Tags++
	default:
		return uuid.Nil, fmt.Errorf("find tag %q: %w", label, err)
	}

	c.tags[key] = tag.ID
	return tag.ID, nil
}

// Security resolves a ticker on an exchange, creating the security when the
// ticker is well formed. Malformed tickers return ErrUnresolvableSecurity.
func (c *Cache) Security(ctx context.Context, ticker, mic, name string) (*domain.Security, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	mic = strings.ToUpper(strings.TrimSpace(mic))
	key := ticker + "@" + mic
	if s, ok := c.securities[key]; ok {
		if s == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnresolvableSecurity, ticker)
		}
		return s, nil
	}

	sec, err := c.repo.FindSecurity(ctx, ticker, mic)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		if !tickerPattern.MatchString(ticker) {
			c.securities[key] = nil
			return nil, fmt.Errorf("%w: %q", ErrUnresolvableSecurity, ticker)
		}
		sec = &domain.Security{ID: uuid.New(), Ticker: ticker, ExchangeMIC: mic, Name: name}
		if err := c.repo.CreateSecurity(ctx, sec); err != nil {
			return nil, fmt.Errorf("create security %q: %w", ticker, err)
		}
		c.created.Add(domain.KindSecurity, sec.ID)
		c.summary.Securities++
	default:
		return nil, fmt.Errorf("find security %q: %w", ticker, err)
	}

	c.securities[key] = sec
	return sec, nil
}

// Account loads a ledger account by id.
func (c *Cache) Account(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if a, ok := c.accounts[id]; ok {
		return a, nil
	}
	a, err := c.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	c.accounts[id] = a
	return a, nil
}

// BoundAccount resolves a source account label through the account
// bindings. ok is false when the label is not bound.
func (c *Cache) BoundAccount(ctx context.Context, label string) (acct *domain.Account, ok bool, err error) {
	id, bound := c.mapping.AccountBindings[label]
	if !bound {
		return nil, false, nil
	}
	a, err := c.Account(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, true, &MappingError{Field: string(domain.FieldAccount), Reason: fmt.Sprintf("binding not found for %q", label)}
		}
		return nil, true, fmt.Errorf("get bound account: %w", err)
	}
	return a, true, nil
}
