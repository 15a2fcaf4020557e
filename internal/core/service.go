package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/JonMunkholm/ledgerimport/internal/logging"
	"github.com/google/uuid"
)

// PublishTimeout is the maximum duration of one publish or revert.
var PublishTimeout = 5 * time.Minute

// DefaultCurrency is used when neither the import, the record nor the
// account states a currency.
const DefaultCurrency = "USD"

// Options configures a Service.
type Options struct {
	DefaultCurrency string
	// MaxFileSize bounds uploaded content in bytes; zero disables the check.
	MaxFileSize   int64
	MaxConcurrent int
	MaxWait       time.Duration
	// PublishTimeout bounds one publish or revert; zero means PublishTimeout.
	PublishTimeout time.Duration
	Presets        *Presets
}

// Service drives imports through their lifecycle.
type Service struct {
	store   domain.Store
	limiter *PublishLimiter
	presets *Presets
	opts    Options
	now     func() time.Time
}

// NewService creates a Service over store.
func NewService(store domain.Store, opts Options) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = DefaultCurrency
	}
	opts.DefaultCurrency = strings.ToUpper(opts.DefaultCurrency)
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = PublishTimeout
	}
	presets := opts.Presets
	if presets == nil {
		presets = MustLoadPresets()
	}
	return &Service{
		store:   store,
		limiter: NewPublishLimiter(opts.MaxConcurrent, opts.MaxWait),
		presets: presets,
		opts:    opts,
		now:     time.Now,
	}
}

// Limiter returns the publish limiter, for status reporting and shutdown.
func (s *Service) Limiter() *PublishLimiter { return s.limiter }

// Presets returns the loaded column presets.
func (s *Service) Presets() *Presets { return s.presets }

// Formats lists the registered formats.
func (s *Service) Formats() []FormatInfo {
	formats := All()
	infos := make([]FormatInfo, 0, len(formats))
	for _, f := range formats {
		infos = append(infos, FormatInfo{
			Kind:     f.Kind(),
			Traits:   f.Traits(),
			Dedup:    f.Dedup(),
			Required: f.RequiredFields(&domain.Import{Format: f.Kind()}),
		})
	}
	return infos
}

// CreateImport creates a pending import.
func (s *Service) CreateImport(ctx context.Context, in NewImport) (*domain.Import, error) {
	if _, err := Lookup(in.Format); err != nil {
		return nil, err
	}
	if in.AccountID != nil {
		if _, err := s.store.GetAccount(ctx, *in.AccountID); err != nil {
			return nil, fmt.Errorf("get account: %w", err)
		}
	}

	now := s.now()
	imp := &domain.Import{
		ID:        uuid.New(),
		FamilyID:  in.FamilyID,
		Format:    in.Format,
		Status:    domain.StatusPending,
		AccountID: in.AccountID,
		Currency:  strings.ToUpper(strings.TrimSpace(in.Currency)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Preset != "" {
		preset, ok := s.presets.Get(in.Format, in.Preset)
		if !ok {
			return nil, &MappingError{Field: "preset", Reason: fmt.Sprintf("binding not found for preset %q", in.Preset)}
		}
		imp.Mapping = preset.Mapping
	}
	if in.Mapping != nil {
		imp.Mapping = MergeMapping(imp.Mapping, *in.Mapping)
	}

	if err := s.store.CreateImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("create import: %w", err)
	}
	logging.WithFields(ctx, "import_id", imp.ID, "format", imp.Format).Info("import created")
	return imp, nil
}

// Import returns an import by id.
func (s *Service) Import(ctx context.Context, id uuid.UUID) (*domain.Import, error) {
	imp, err := s.store.GetImport(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get import %s: %w", id, err)
	}
	return imp, nil
}

// Rows returns the staged rows of an import in file order.
func (s *Service) Rows(ctx context.Context, id uuid.UUID) ([]domain.Row, error) {
	if _, err := s.Import(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListRows(ctx, id)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*domain.Import, Format, error) {
	imp, err := s.Import(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := Lookup(imp.Format)
	if err != nil {
		return nil, nil, err
	}
	return imp, f, nil
}

func (s *Service) logger(ctx context.Context, imp *domain.Import) *slog.Logger {
	return logging.WithFields(ctx, "import_id", imp.ID, "format", imp.Format)
}

// Upload parses content (and, for formats that take one, a positions
// snapshot) into staged rows, replacing any rows from an earlier upload.
// A file that fails to parse leaves the import unchanged.
func (s *Service) Upload(ctx context.Context, id uuid.UUID, content, positions []byte) (*domain.Import, error) {
	imp, f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(f, imp, domain.StatusUploaded); err != nil {
		return nil, err
	}
	if s.opts.MaxFileSize > 0 && int64(len(content)+len(positions)) > s.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, len(content)+len(positions), s.opts.MaxFileSize)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, NewParseError(imp.Format, ErrEmptyFile)
	}
	if err := f.Sniff(content); err != nil {
		return nil, NewParseError(imp.Format, err)
	}

	next := *imp
	next.Content = string(content)
	next.Positions = string(positions)
	parsed, err := s.parse(ctx, f, &next)
	if err != nil {
		return nil, err
	}
	next.Status = domain.StatusUploaded

	if f.Traits().SchemaLess && CheckTransition(f, &next, domain.StatusPublishable) == nil {
		next.Status = domain.StatusPublishable
	}
	if err := s.save(ctx, &next, parsed.Rows, true); err != nil {
		return nil, err
	}
	s.logger(ctx, &next).Info("import uploaded", "rows", next.RowsCount, "status", next.Status)
	return &next, nil
}

// parse runs the format parser over imp's stored content and applies the
// outcome to imp.
func (s *Service) parse(ctx context.Context, f Format, imp *domain.Import) (*Parsed, error) {
	currency := imp.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	parsed, err := f.Parse(ctx, ParseInput{
		Import:          imp,
		Content:         []byte(imp.Content),
		Positions:       []byte(imp.Positions),
		DefaultCurrency: currency,
		Presets:         s.presets.ForFormat(imp.Format),
	})
	if err != nil {
		if !IsParseError(err) && !IsMappingError(err) {
			err = NewParseError(imp.Format, err)
		}
		return nil, err
	}

	for i := range parsed.Rows {
		parsed.Rows[i].ImportID = imp.ID
	}
	if parsed.State.Brokerage != nil && imp.State.Brokerage != nil && parsed.State.Brokerage.SelectedAccount == "" {
		prev := imp.State.Brokerage.SelectedAccount
		for _, a := range parsed.State.Brokerage.DetectedAccounts {
			if a == prev {
				parsed.State.Brokerage.SelectedAccount = prev
			}
		}
	}
	imp.State = parsed.State
	imp.RowsCount = parsed.RowsCount
	if parsed.Mapping != nil {
		imp.Mapping = MergeMapping(imp.Mapping, *parsed.Mapping)
	}
	imp.Error = ""
	return parsed, nil
}

// save writes imp and, when replace is set, replaces its staged rows, in
// one transaction.
func (s *Service) save(ctx context.Context, imp *domain.Import, rows []domain.Row, replace bool) error {
	imp.UpdatedAt = s.now()
	return s.store.WithTx(ctx, func(tx domain.Repository) error {
		if replace {
			if err := tx.ReplaceRows(ctx, imp.ID, rows); err != nil {
				return fmt.Errorf("replace rows: %w", err)
			}
		}
		if err := tx.UpdateImport(ctx, imp); err != nil {
			return fmt.Errorf("update import: %w", err)
		}
		return nil
	})
}

// Configure binds the target account, currency, column mapping or
// sub-account selection. A mapping change regenerates the staged rows.
func (s *Service) Configure(ctx context.Context, id uuid.UUID, cfg Configuration) (*domain.Import, error) {
	imp, f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	schemaLess := f.Traits().SchemaLess
	if schemaLess {
		if imp.Status != domain.StatusUploaded && imp.Status != domain.StatusPublishable {
			return nil, &TransitionError{From: imp.Status, To: imp.Status, Reason: "import cannot be configured now"}
		}
	} else if err := CheckTransition(f, imp, domain.StatusConfigured); err != nil {
		return nil, err
	}

	next := *imp
	if cfg.AccountID != nil {
		if _, err := s.store.GetAccount(ctx, *cfg.AccountID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &MappingError{Field: string(domain.FieldAccount), Reason: "binding not found for target account"}
			}
			return nil, fmt.Errorf("get account: %w", err)
		}
		next.AccountID = cfg.AccountID
	}
	if cfg.Currency != nil {
		next.Currency = strings.ToUpper(strings.TrimSpace(*cfg.Currency))
	}

	var rows []domain.Row
	reparse := cfg.Mapping != nil && !schemaLess
	if reparse {
		next.Mapping = *cfg.Mapping
		parsed, err := s.parse(ctx, f, &next)
		if err != nil {
			return nil, err
		}
		rows = parsed.Rows
	}

	if cfg.SelectedAccount != nil {
		b := next.State.Brokerage
		if b == nil {
			return nil, &MappingError{Field: string(domain.FieldAccount), Reason: "account selection applies to positions files only"}
		}
		found := false
		for _, a := range b.DetectedAccounts {
			if a == *cfg.SelectedAccount {
				found = true
			}
		}
		if !found {
			return nil, &MappingError{Field: string(domain.FieldAccount), Reason: fmt.Sprintf("binding not found for sub-account %q", *cfg.SelectedAccount)}
		}
		sel := *b
		sel.SelectedAccount = *cfg.SelectedAccount
		next.State.Brokerage = &sel
	}

	if schemaLess {
		probe := next
		probe.Status = domain.StatusUploaded
		next.Status = domain.StatusUploaded
		if CheckTransition(f, &probe, domain.StatusPublishable) == nil {
			next.Status = domain.StatusPublishable
		}
	} else {
		next.Status = domain.StatusConfigured
	}
	if err := s.save(ctx, &next, rows, reparse); err != nil {
		return nil, err
	}
	s.logger(ctx, &next).Info("import configured", "status", next.Status)
	return &next, nil
}

// Clean validates every staged row under the import's mapping and checks
// the label bindings. With no issues the import becomes cleaned, and
// publishable when the publish guards hold.
func (s *Service) Clean(ctx context.Context, id uuid.UUID) (*CleanResult, error) {
	imp, f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(f, imp, domain.StatusCleaned); err != nil {
		return nil, err
	}

	rows, err := s.store.ListRows(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	mapping := imp.Mapping
	if f.Traits().Statement {
		mapping = StatementMapping
	}
	issues := ValidateRows(rows, f.RequiredFields(imp), mapping)
	if mapping.AmountStrategy == domain.AmountTypeColumn && strings.TrimSpace(mapping.InflowValue) == "" {
		issues = append(issues, RowIssue{Field: domain.FieldEntityType, Message: "inflow value is required for the type column strategy"})
	}
	bindingIssues, err := s.checkBindings(ctx, imp)
	if err != nil {
		return nil, err
	}
	issues = append(issues, bindingIssues...)

	if len(issues) > 0 {
		s.logger(ctx, imp).Info("import has row issues", "issues", len(issues))
		return &CleanResult{Import: imp, Issues: issues}, nil
	}

	next := *imp
	next.Status = domain.StatusCleaned
	if CheckTransition(f, &next, domain.StatusPublishable) == nil {
		next.Status = domain.StatusPublishable
	}
	if err := s.save(ctx, &next, nil, false); err != nil {
		return nil, err
	}
	s.logger(ctx, &next).Info("import cleaned", "status", next.Status)
	return &CleanResult{Import: &next}, nil
}

func (s *Service) checkBindings(ctx context.Context, imp *domain.Import) ([]RowIssue, error) {
	var issues []RowIssue
	check := func(field domain.Field, label string, err error) error {
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			issues = append(issues, RowIssue{Field: field, Message: fmt.Sprintf("binding not found for %q", label)})
			return nil
		}
		return err
	}
	for label, id := range imp.Mapping.CategoryBindings {
		_, err := s.store.GetCategory(ctx, id)
		if err := check(domain.FieldCategory, label, err); err != nil {
			return nil, err
		}
	}
	for label, id := range imp.Mapping.TagBindings {
		_, err := s.store.GetTag(ctx, id)
		if err := check(domain.FieldTags, label, err); err != nil {
			return nil, err
		}
	}
	for label, id := range imp.Mapping.AccountBindings {
		_, err := s.store.GetAccount(ctx, id)
		if err := check(domain.FieldAccount, label, err); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

// UpdateRow replaces one staged row. Editing rows of a cleaned import sends
// it back to configured.
func (s *Service) UpdateRow(ctx context.Context, id uuid.UUID, row domain.Row) (*domain.Import, error) {
	imp, f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Traits().SchemaLess {
		return nil, &TransitionError{From: imp.Status, To: imp.Status, Reason: fmt.Sprintf("%s imports have no editable rows", f.Kind())}
	}

	next := *imp
	switch imp.Status {
	case domain.StatusUploaded, domain.StatusConfigured:
	case domain.StatusCleaned, domain.StatusPublishable:
		next.Status = domain.StatusConfigured
	default:
		return nil, &TransitionError{From: imp.Status, To: domain.StatusConfigured, Reason: "rows can no longer be edited"}
	}

	row.ImportID = id
	next.UpdatedAt = s.now()
	err = s.store.WithTx(ctx, func(tx domain.Repository) error {
		if err := tx.UpdateRow(ctx, row); err != nil {
			return fmt.Errorf("update row %d: %w", row.Index, err)
		}
		return tx.UpdateImport(ctx, &next)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// Preview runs the publish pipeline in a transaction that is always rolled
// back and reports what a publish would do.
func (s *Service) Preview(ctx context.Context, id uuid.UUID) (*Summary, error) {
	imp, f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch imp.Status {
	case domain.StatusPending, domain.StatusPublished, domain.StatusReverted:
		return nil, &TransitionError{From: imp.Status, To: imp.Status, Reason: "nothing to preview"}
	}
	if err := PublishGuard(f, imp); err != nil {
		return nil, err
	}
	return s.commit(ctx, f, imp, true)
}

// Publish commits the import to the ledger in one transaction.
// The import is loaded after admission, so a publish that waited on
// another operation sees that operation's outcome.
func (s *Service) Publish(ctx context.Context, id uuid.UUID) (*Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	release, err := s.limiter.Admit(ctx, id, OpPublish)
	if err != nil {
		return nil, err
	}
	defer release()

	imp, f, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(f, imp, domain.StatusPublished); err != nil {
		return nil, err
	}

	summary, err := s.commit(ctx, f, imp, false)
	if err != nil {
		s.recordFailure(ctx, imp, err)
		return nil, err
	}
	return summary, nil
}

// recordFailure stores err on the import without changing its status, so
// the user can fix the mapping and retry.
func (s *Service) recordFailure(ctx context.Context, imp *domain.Import, err error) {
	failed := *imp
	failed.Error = err.Error()
	failed.UpdatedAt = s.now()
	if uerr := s.store.UpdateImport(context.WithoutCancel(ctx), &failed); uerr != nil {
		s.logger(ctx, imp).Error("record import failure", "error", uerr)
	}
	s.logger(ctx, imp).Warn("publish failed", "error", err)
}
