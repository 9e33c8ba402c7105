package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	badgerGenerationPrefix = "g\x00"
	badgerEntryPrefix      = "e\x00"
	badgerSeparator        = "\x00"
)

// BadgerCache stores generations in an embedded badger database.
//
// Layout:
//
//	g\x00<generation>              -> creation time
//	e\x00<generation>\x00<key>     -> stored-at (8 bytes, big endian) + snapshot
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens (or creates) a badger database in dir.
// If dir is empty, the database lives in memory only.
func NewBadgerCache(dir string) (BadgerCache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log.Logger.With().Str("component", "badger").Logger()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return BadgerCache{}, fmt.Errorf("could not open badger db %s: %w", dir, err)
	}
	return BadgerCache{db: db}, nil
}

func generationKey(generation string) []byte {
	return []byte(badgerGenerationPrefix + generation)
}

func entryPrefix(generation string) []byte {
	return []byte(badgerEntryPrefix + generation + badgerSeparator)
}

func entryKey(generation, key string) []byte {
	return append(entryPrefix(generation), key...)
}

func (b BadgerCache) Open(generation string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return openGeneration(txn, generation)
	})
}

func openGeneration(txn *badger.Txn, generation string) error {
	_, err := txn.Get(generationKey(generation))
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set(generationKey(generation), encodeTime(time.Now()))
}

func (b BadgerCache) Generations(prefix string) ([]string, error) {
	names := make([]string, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		names = append(names, scanKeys(txn, []byte(badgerGenerationPrefix+prefix), badgerGenerationPrefix)...)
		return nil
	})
	return names, err
}

func (b BadgerCache) DeleteGeneration(generation string) (bool, error) {
	existed := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(generationKey(generation))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		existed = err == nil
		return err
	})
	if err != nil || !existed {
		return false, err
	}
	if err := b.db.DropPrefix(entryPrefix(generation)); err != nil {
		return false, err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(generationKey(generation))
	})
	return err == nil, err
}

func (b BadgerCache) Get(generation, key string) (CacheEntry, bool, error) {
	entry := CacheEntry{Generation: generation, Key: key}
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(generation, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(value) < 8 {
			return fmt.Errorf("corrupt cache entry %s", key)
		}
		entry.StoredAt = decodeTime(value[:8])
		entry.Bytes = value[8:]
		found = true
		return nil
	})
	return entry, found, err
}

func (b BadgerCache) Put(ce CacheEntry) error {
	value := append(encodeTime(ce.StoredAt), ce.Bytes...)
	return b.db.Update(func(txn *badger.Txn) error {
		if err := openGeneration(txn, ce.Generation); err != nil {
			return err
		}
		return txn.Set(entryKey(ce.Generation, ce.Key), value)
	})
}

func (b BadgerCache) Keys(generation string) ([]string, error) {
	keys := make([]string, 0)
	prefix := entryPrefix(generation)
	err := b.db.View(func(txn *badger.Txn) error {
		keys = append(keys, scanKeys(txn, prefix, string(prefix))...)
		return nil
	})
	return keys, err
}

func (b BadgerCache) Close() error {
	return b.db.Close()
}

// scanKeys returns all keys starting with seek, with trim removed.
// Badger iterates in byte order, so the result is sorted.
func scanKeys(txn *badger.Txn, seek []byte, trim string) []string {
	keys := make([]string, 0)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(seek); it.ValidForPrefix(seek); it.Next() {
		keys = append(keys, strings.TrimPrefix(string(it.Item().KeyCopy(nil)), trim))
	}
	return keys
}

func encodeTime(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.Unix()))
	return b
}

func decodeTime(b []byte) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(b)), 0)
}

// badgerLogger routes badger's internal logging into zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
