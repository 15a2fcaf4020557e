package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgerimport/internal/admin"
	"github.com/JonMunkholm/ledgerimport/internal/config"
	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// stageFlags are the flags shared by preview and publish.
type stageFlags struct {
	format          string
	family          string
	account         string
	currency        string
	preset          string
	positions       string
	labels          map[string]string
	dateFormat      string
	numberFormat    string
	colSep          string
	selectedAccount string
}

func (f *stageFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.format, "format", "f", "", "Import format (inferred from the file extension when unambiguous)")
	fl.StringVar(&f.family, "family", "", "Family ID that owns the import (random with --memory)")
	fl.StringVarP(&f.account, "account", "a", "", "Target account ID")
	fl.StringVar(&f.currency, "currency", "", "Currency for records that state none")
	fl.StringVarP(&f.preset, "preset", "p", "", "Column preset to start from")
	fl.StringVar(&f.positions, "positions", "", "Positions snapshot for brokerage imports")
	fl.StringToStringVarP(&f.labels, "label", "l", nil, "Map a field to a column header, e.g. --label date=Posted")
	fl.StringVar(&f.dateFormat, "date-format", "", "Date layout, e.g. %m/%d/%Y")
	fl.StringVar(&f.numberFormat, "number-format", "", "Number format, e.g. 1.234,56")
	fl.StringVar(&f.colSep, "col-sep", "", "Column separator for delimited files")
	fl.StringVar(&f.selectedAccount, "select-account", "", "Sub-account to import from a multi-account positions file")
}

// options resolves the flags into stage options for path.
func (f *stageFlags) options(ctx context.Context, a *app, path string) (stageOptions, error) {
	opts := stageOptions{
		Path:            path,
		PositionsPath:   f.positions,
		Format:          domain.FormatKind(f.format),
		Currency:        f.currency,
		Preset:          f.preset,
		Labels:          f.labels,
		DateFormat:      f.dateFormat,
		NumberFormat:    f.numberFormat,
		ColSep:          f.colSep,
		SelectedAccount: f.selectedAccount,
	}

	family, err := a.familyID(f.family)
	if err != nil {
		return opts, err
	}
	opts.FamilyID = family

	if f.account != "" {
		id, err := uuid.Parse(f.account)
		if err != nil {
			return opts, fmt.Errorf("--account: %w", err)
		}
		opts.AccountID = &id
		return opts, nil
	}
	if opts.Format == "" {
		if opts.Format, err = detectFormat(path); err != nil {
			return opts, err
		}
	}
	format, err := core.Lookup(opts.Format)
	if err != nil {
		return opts, err
	}
	if a.cfg.Database.Driver == config.StoreMemory && format.Traits().RequiresAccount {
		acct, err := a.sandboxAccount(ctx, family, opts.Format)
		if err != nil {
			return opts, err
		}
		opts.AccountID = &acct.ID
	}
	return opts, nil
}

// familyID parses flag, generating one for the in-memory sandbox.
func (a *app) familyID(flag string) (uuid.UUID, error) {
	if flag == "" {
		if a.cfg.Database.Driver == config.StoreMemory {
			return uuid.New(), nil
		}
		return uuid.Nil, errors.New("--family is required")
	}
	id, err := uuid.Parse(flag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--family: %w", err)
	}
	return id, nil
}

// sandboxAccount creates a throwaway account for in-memory runs.
func (a *app) sandboxAccount(ctx context.Context, family uuid.UUID, kind domain.FormatKind) (*domain.Account, error) {
	acct := &domain.Account{
		ID:       uuid.New(),
		FamilyID: family,
		Name:     "Sandbox",
		Currency: a.cfg.Import.DefaultCurrency,
		Kind:     domain.AccountDepository,
	}
	if kind == domain.FormatBrokerage {
		acct.Kind = domain.AccountInvestment
	}
	if err := a.store.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("create sandbox account: %w", err)
	}
	return acct, nil
}

// ---- formats ----

var formatsCmd = &cobra.Command{
	Use:         "formats",
	Short:       "List supported import formats and column presets",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"store": "none"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		printFormats(cmd.OutOrStdout(), current.service.Formats(), current.service.Presets())
		return nil
	},
}

// ---- preview ----

var previewFlags stageFlags

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Stage a file and show what publishing it would write",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts, err := previewFlags.options(ctx, current, args[0])
		if err != nil {
			return err
		}
		st, err := stageImport(ctx, current.service, opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(st.Issues) > 0 {
			printIssues(out, st.Issues)
			return fmt.Errorf("%d row issues must be fixed before publishing", len(st.Issues))
		}

		summary, err := current.service.Preview(ctx, st.Import.ID)
		if err != nil {
			return err
		}
		printSummary(out, "Preview", st.Import, summary)
		if current.cfg.Database.Driver != config.StoreMemory {
			printHint(out, fmt.Sprintf("publish with: ledgerimport publish --import %s", st.Import.ID))
		}
		return nil
	},
}

// ---- publish ----

var (
	publishFlags  stageFlags
	publishImport string
)

var publishCmd = &cobra.Command{
	Use:   "publish [file]",
	Short: "Publish a file, or a previously staged import, to the ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var id uuid.UUID
		switch {
		case publishImport != "" && len(args) == 0:
			parsed, err := uuid.Parse(publishImport)
			if err != nil {
				return fmt.Errorf("--import: %w", err)
			}
			id = parsed
		case publishImport == "" && len(args) == 1:
			opts, err := publishFlags.options(ctx, current, args[0])
			if err != nil {
				return err
			}
			st, err := stageImport(ctx, current.service, opts)
			if err != nil {
				return err
			}
			if len(st.Issues) > 0 {
				printIssues(out, st.Issues)
				return fmt.Errorf("%d row issues must be fixed before publishing", len(st.Issues))
			}
			id = st.Import.ID
		default:
			return errors.New("pass either a file or --import")
		}

		summary, err := current.service.Publish(ctx, id)
		if err != nil {
			return err
		}
		imp, err := current.service.Import(ctx, id)
		if err != nil {
			return err
		}
		printSummary(out, "Published", imp, summary)
		return nil
	},
}

// ---- revert ----

var revertCmd = &cobra.Command{
	Use:   "revert <import-id>",
	Short: "Remove everything a published import wrote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("import id: %w", err)
		}
		result, err := current.service.Revert(cmd.Context(), id)
		if err != nil {
			return err
		}
		printRevert(cmd.OutOrStdout(), id, result)
		return nil
	},
}

// ---- show ----

var showCmd = &cobra.Command{
	Use:   "show <import-id>",
	Short: "Show an import's status and staged rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("import id: %w", err)
		}
		imp, err := current.service.Import(cmd.Context(), id)
		if err != nil {
			return err
		}
		rows, err := current.service.Rows(cmd.Context(), id)
		if err != nil {
			return err
		}
		printImport(cmd.OutOrStdout(), imp, rows)
		return nil
	},
}

// ---- account ----

var accountFlags struct {
	family   string
	name     string
	currency string
	kind     string
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage ledger accounts",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account to import into",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		family, err := current.familyID(accountFlags.family)
		if err != nil {
			return err
		}
		currency := accountFlags.currency
		if currency == "" {
			currency = current.cfg.Import.DefaultCurrency
		}
		acct := &domain.Account{
			ID:       uuid.New(),
			FamilyID: family,
			Name:     accountFlags.name,
			Currency: currency,
			Kind:     domain.AccountKind(accountFlags.kind),
		}
		if err := current.store.CreateAccount(cmd.Context(), acct); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		printHint(cmd.OutOrStdout(), fmt.Sprintf("account %s created: %s", acct.Name, acct.ID))
		return nil
	},
}

// ---- reset ----

var (
	resetYes         bool
	resetImportsOnly bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete imports and, unless --imports-only, all ledger data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !resetYes {
			return errors.New("reset is destructive, pass --yes to confirm")
		}
		if resetImportsOnly {
			if err := admin.ResetImports(cmd.Context(), current.store); err != nil {
				return err
			}
			printHint(cmd.OutOrStdout(), "imports reset")
			return nil
		}
		if err := admin.ResetAll(cmd.Context(), current.store); err != nil {
			return err
		}
		printHint(cmd.OutOrStdout(), "ledger and imports reset")
		return nil
	},
}

func init() {
	previewFlags.register(previewCmd)
	publishFlags.register(publishCmd)
	publishCmd.Flags().StringVar(&publishImport, "import", "", "Publish a previously staged import by ID")

	accountCreateCmd.Flags().StringVar(&accountFlags.family, "family", "", "Family ID that owns the account")
	accountCreateCmd.Flags().StringVar(&accountFlags.name, "name", "", "Account name")
	accountCreateCmd.Flags().StringVar(&accountFlags.currency, "currency", "", "Account currency (default IMPORT_DEFAULT_CURRENCY)")
	accountCreateCmd.Flags().StringVar(&accountFlags.kind, "kind", string(domain.AccountDepository), "Account kind: depository, credit_card, investment, loan, other_asset")
	accountCreateCmd.MarkFlagRequired("name")
	accountCmd.AddCommand(accountCreateCmd)

	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm the reset")
	resetCmd.Flags().BoolVar(&resetImportsOnly, "imports-only", false, "Only delete imports and their staged rows")

	rootCmd.AddCommand(formatsCmd, previewCmd, publishCmd, revertCmd, showCmd, accountCmd, resetCmd)
}
