// Package admin provides administrative operations for store management.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ResetTimeout is the maximum duration for store reset operations.
const ResetTimeout = 30 * time.Second

// Resetter is implemented by stores that can be wiped.
type Resetter interface {
	ResetImports(ctx context.Context) error
	ResetLedger(ctx context.Context) error
}

type resetFn func(ctx context.Context) error

// ResetAll removes all ledger data and every import.
// This is a destructive operation - use with caution.
func ResetAll(ctx context.Context, r Resetter) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	if err := runResets(ctx, []resetFn{
		r.ResetLedger,
		r.ResetImports,
	}); err != nil {
		return err
	}
	slog.InfoContext(ctx, "store reset")
	return nil
}

// ResetImports removes every import but leaves the ledger untouched.
func ResetImports(ctx context.Context, r Resetter) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()
	return runResets(ctx, []resetFn{r.ResetImports})
}

func runResets(ctx context.Context, resets []resetFn) error {
	for _, reset := range resets {
		if err := reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return nil
}
