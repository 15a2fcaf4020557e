package store

import (
	"context"
	"testing"

	"github.com/JonMunkholm/ledgerimport/internal/config"
	"github.com/JonMunkholm/ledgerimport/internal/store/memory"
)

func TestOpen_Memory(t *testing.T) {
	s, closeFn, err := Open(context.Background(), config.DatabaseConfig{Driver: config.StoreMemory})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer closeFn()
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("Open() = %T, want *memory.Store", s)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, _, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite"}); err == nil {
		t.Error("Open() error = nil, want unknown driver")
	}
}

func TestOpen_BadPostgresURL(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: config.StorePostgres, URL: "postgres://%zz"}
	if _, _, err := Open(context.Background(), cfg); err == nil {
		t.Error("Open() error = nil, want parse failure")
	}
}
