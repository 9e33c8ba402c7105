package cache

import (
	"sort"
	"strings"
	"sync"
)

// MemCache keeps all generations in process memory.
// It is lost on restart and is meant for tests and middleware use.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]CacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m MemCache) Open(generation string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[generation]; !ok {
		m.db[generation] = make(map[string]CacheEntry)
	}
	return nil
}

func (m MemCache) Generations(prefix string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) DeleteGeneration(generation string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[generation]
	delete(m.db, generation)
	return ok, nil
}

func (m MemCache) Get(generation, key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[generation][key]
	if !ok {
		return CacheEntry{Generation: generation, Key: key}, false, nil
	}
	entry.Bytes = append([]byte(nil), entry.Bytes...)
	return entry, true, nil
}

func (m MemCache) Put(ce CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.db[ce.Generation]
	if !ok {
		entries = make(map[string]CacheEntry)
		m.db[ce.Generation] = entries
	}
	ce.Bytes = append([]byte(nil), ce.Bytes...)
	entries[ce.Key] = ce
	return nil
}

func (m MemCache) Keys(generation string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[generation]))
	for key := range m.db[generation] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m MemCache) Close() error {
	return nil
}
