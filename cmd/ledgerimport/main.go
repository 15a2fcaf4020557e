// Command ledgerimport drives ledger imports from the command line: it
// stages an export file, previews what it would write, publishes it and
// reverts published imports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/ledgerimport/internal/config"
	"github.com/JonMunkholm/ledgerimport/internal/core"
	_ "github.com/JonMunkholm/ledgerimport/internal/formats" // Register all formats
	"github.com/JonMunkholm/ledgerimport/internal/logging"
	"github.com/JonMunkholm/ledgerimport/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand once the root command has
// loaded configuration and opened the store.
type app struct {
	cfg     *config.Config
	store   store.Store
	service *core.Service
	close   func()
}

var (
	envFile   string
	useMemory bool
	logLevel  string
	logFormat string

	current *app
)

var rootCmd = &cobra.Command{
	Use:           "ledgerimport",
	Short:         "Import bank, card and brokerage exports into the ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	Annotations:   map[string]string{"store": "none"},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		if cmd.Annotations["store"] == "none" {
			useMemory = true
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if current != nil {
			current.close()
		}
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Show help when no subcommand is provided
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file (default .env when present)")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Use a throwaway in-memory ledger instead of Postgres")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console, text or json")
}

// loadConfig reads the environment and applies the global flag overrides
// before validating.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	if useMemory {
		cfg.Database.Driver = config.StoreMemory
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Logging.Format = logFormat
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ledger, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	service, err := newService(cfg, ledger)
	if err != nil {
		closeStore()
		return nil, err
	}
	return &app{cfg: cfg, store: ledger, service: service, close: closeStore}, nil
}

func newService(cfg *config.Config, ledger store.Store) (*core.Service, error) {
	presets, err := core.LoadPresets(cfg.Import.PresetsFile)
	if err != nil {
		return nil, err
	}
	return core.NewService(ledger, core.Options{
		DefaultCurrency: cfg.Import.DefaultCurrency,
		MaxFileSize:     cfg.Import.MaxFileSize,
		MaxConcurrent:   cfg.Import.MaxConcurrent,
		MaxWait:         cfg.Import.MaxWaitTime,
		PublishTimeout:  cfg.Import.PublishTimeout,
		Presets:         presets,
	}), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
}
