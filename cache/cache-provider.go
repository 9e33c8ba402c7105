package cache

import (
	"fmt"
	"time"
)

// Storage is a store of cache generations.
// A generation is a named map of cache keys to response snapshots.
// Entries are overwritten as a whole; there is no per-entry expiry and no
// size bound, eviction happens by deleting complete generations.
//
// Implementations must be thread-safe!
// Concurrent writes to the same key are last-write-wins.
type Storage interface {
	// Open creates the named generation if it does not exist yet.
	Open(generation string) error
	// Generations returns the names of all generations with the given prefix,
	// sorted by name.
	Generations(prefix string) ([]string, error)
	// DeleteGeneration removes the generation and all its entries.
	// It returns false if there was no such generation.
	DeleteGeneration(generation string) (bool, error)
	// Get returns the entry for the key in the generation.
	// The boolean is false on a miss, including when the generation does not exist.
	Get(generation, key string) (CacheEntry, bool, error)
	// Put inserts or overwrites the entry.
	// The generation is created if needed.
	Put(CacheEntry) error
	// Keys returns all entry keys of the generation, sorted.
	Keys(generation string) ([]string, error)
	// Close releases the underlying resources.
	Close() error
}

// CacheEntry is a response snapshot stored under a normalized request key.
type CacheEntry struct {
	Generation string
	Key        string
	StoredAt   time.Time
	Bytes      []byte
}

// Providers that can be selected by name.
const (
	ProviderSQLite = "sqlite"
	ProviderBadger = "badger"
	ProviderMemory = "memory"
)

// New opens the named storage provider.
// For sqlite path is the database file, for badger the data directory;
// an empty path keeps either one in memory.
func New(provider, path string) (Storage, error) {
	switch provider {
	case ProviderSQLite, "":
		return NewSQLiteCache(path)
	case ProviderBadger:
		return NewBadgerCache(path)
	case ProviderMemory:
		return NewMemCache(), nil
	}
	return nil, fmt.Errorf("unknown cache provider %q", provider)
}
