// Package store opens the ledger store selected by configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/ledgerimport/internal/config"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/JonMunkholm/ledgerimport/internal/store/memory"
	"github.com/JonMunkholm/ledgerimport/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a domain.Store that can also be wiped by admin commands.
type Store interface {
	domain.Store
	ResetImports(ctx context.Context) error
	ResetLedger(ctx context.Context) error
}

// Open returns the store named by cfg.Driver and a function releasing it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, func(), error) {
	switch cfg.Driver {
	case config.StoreMemory:
		slog.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	case config.StorePostgres:
		return openPostgres(ctx, cfg)
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (Store, func(), error) {
	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	s := postgres.New(pool)
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Debug("schema applied")
	}
	return s, pool.Close, nil
}
