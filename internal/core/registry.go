package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

var (
	registry   = make(map[domain.FormatKind]Format)
	registryMu sync.RWMutex
)

// Register adds a format to the registry.
// Panics if a format with the same kind is already registered.
func Register(f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[f.Kind()]; exists {
		panic(fmt.Sprintf("format already registered: %s", f.Kind()))
	}
	registry[f.Kind()] = f
}

// Lookup returns the format registered for kind.
func Lookup(kind domain.FormatKind) (Format, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, kind)
	}
	return f, nil
}

// All returns all registered formats sorted by kind.
func All() []Format {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Format, 0, len(registry))
	for _, f := range registry {
		result = append(result, f)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind() < result[j].Kind()
	})
	return result
}

// FormatCount returns the number of registered formats.
func FormatCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}
