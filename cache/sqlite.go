package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new (private) in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("could not open sqlite db %s: %w", filename, err)
	}
	// a single connection keeps the shared in-memory db alive and serializes writes
	db.SetMaxOpenConns(1)
	statements := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("could not initialize sqlite db: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Open(generation string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		generation, time.Now().Unix())
	return err
}

func (s SQLiteCache) Generations(prefix string) ([]string, error) {
	names := make([]string, 0)
	rows, err := s.db.Query(
		// length() counts characters like substr() does, len() would count bytes
		"SELECT name FROM generations WHERE substr(name, 1, length(?)) = ? ORDER BY name ASC",
		prefix, prefix)
	if err != nil {
		return names, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) DeleteGeneration(generation string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE generation = ?", generation); err != nil {
		return false, err
	}
	result, err := tx.Exec("DELETE FROM generations WHERE name = ?", generation)
	if err != nil {
		return false, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, tx.Commit()
}

func (s SQLiteCache) Get(generation, key string) (CacheEntry, bool, error) {
	entry := CacheEntry{Generation: generation, Key: key}
	var storedAt int64
	err := s.db.QueryRow("SELECT stored_at, bytes FROM entries WHERE generation = ? AND key = ?",
		generation, key).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (s SQLiteCache) Put(ce CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		ce.Generation, time.Now().Unix()); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO entries
		(generation, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		ce.Generation, ce.Key, ce.StoredAt.Unix(), ce.Bytes); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Keys(generation string) ([]string, error) {
	keys := make([]string, 0)
	rows, err := s.db.Query("SELECT key FROM entries WHERE generation = ? ORDER BY key ASC", generation)
	if err != nil {
		return keys, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
