// ABOUTME: Vault interface for secure byte storage under string keys.
// ABOUTME: Used by identity and trust to persist keys, pins and tokens.

package keyvault

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("key not found")

// Vault stores opaque byte values under string keys. Implementations must be
// safe for concurrent use. Failures are surfaced to the caller; the vault
// never retries internally.
type Vault interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// MemoryVault is an in-memory Vault for tests and ephemeral setups.
// Production callers should use SQLiteVault so state survives restarts.
type MemoryVault struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{values: make(map[string][]byte)}
}

// Get implements Vault.
func (v *MemoryVault) Get(_ context.Context, key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	val, ok := v.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Put implements Vault.
func (v *MemoryVault) Put(_ context.Context, key string, value []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	v.values[key] = stored
	return nil
}

// Delete implements Vault.
func (v *MemoryVault) Delete(_ context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.values, key)
	return nil
}

// List implements Vault.
func (v *MemoryVault) List(_ context.Context, prefix string) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
