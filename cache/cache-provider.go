package cache

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	_ "github.com/glebarez/go-sqlite"
)

// Provider is an interface for a versioned response store.
// It stores []byte values, which represent HTTP response snapshots,
// grouped into generations named by a version tag.
//
// Implementations must be thread-safe!
type Provider interface {
	// Versions returns the version tags of all existing generations, sorted.
	Versions(ctx context.Context) ([]string, error)
	// Commit creates the generation if absent and stores all the given entries in it.
	// Either all entries are stored or none are.
	// Entries with a key that already exists in the generation replace the old value.
	Commit(ctx context.Context, version string, entries []Entry) error
	// Get returns the stored snapshot for the given key in the given generation.
	// It also returns a boolean indicating whether the key was found.
	Get(ctx context.Context, version, key string) ([]byte, bool, error)
	// Keys returns all keys stored in the given generation, sorted.
	Keys(ctx context.Context, version string) ([]string, error)
	// Delete removes the given generation along with all its entries.
	// Deleting a generation that does not exist is not an error.
	Delete(ctx context.Context, version string) error
	// Close releases the underlying resources.
	Close() error
}

// Entry is a single stored response.
type Entry struct {
	Key   string
	Bytes []byte
}

func storeError(msg string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg).
		WithCause(err)
}

type MemStore struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

func NewMemStore() MemStore {
	return MemStore{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemStore) Versions(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	versions := make([]string, 0, len(m.db))
	for version := range m.db {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

func (m MemStore) Commit(ctx context.Context, version string, entries []Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	generation, ok := m.db[version]
	if !ok {
		generation = make(map[string][]byte, len(entries))
		m.db[version] = generation
	}
	for _, e := range entries {
		// copy, so that callers cannot mutate stored entries
		generation[e.Key] = append([]byte(nil), e.Bytes...)
	}
	return nil
}

func (m MemStore) Get(ctx context.Context, version, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	generation, ok := m.db[version]
	if !ok {
		return nil, false, nil
	}
	bytes, ok := generation[key]
	return bytes, ok, nil
}

func (m MemStore) Keys(ctx context.Context, version string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[version]))
	for key := range m.db[version] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m MemStore) Delete(ctx context.Context, version string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, version)
	return nil
}

func (m MemStore) Close() error {
	return nil
}

type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens (or creates) the SQLite database at the given path.
// Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteStore(filename string) (SQLiteStore, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStore{}, storeError("could not open sqlite database", err)
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"CREATE TABLE IF NOT EXISTS versions (version TEXT PRIMARY KEY, created INTEGER)",
		"CREATE TABLE IF NOT EXISTS entries (version TEXT NOT NULL, key TEXT NOT NULL, stored INTEGER, bytes BLOB, PRIMARY KEY (version, key))",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStore{}, storeError("could not initialize sqlite database", err)
		}
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteStore) Versions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM versions ORDER BY version")
	if err != nil {
		return nil, storeError("could not list versions", err)
	}
	defer rows.Close()
	versions := make([]string, 0)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, storeError("could not list versions", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("could not list versions", err)
	}
	return versions, nil
}

func (s SQLiteStore) Commit(ctx context.Context, version string, entries []Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("could not begin commit", err)
	}
	defer tx.Rollback()
	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO versions (version, created) VALUES (?, ?)", version, now); err != nil {
		return storeError("could not create version", err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO entries (version, key, stored, bytes) VALUES (?, ?, ?, ?)", version, e.Key, now, e.Bytes); err != nil {
			return storeError("could not write entry", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeError("could not commit entries", err)
	}
	return nil
}

func (s SQLiteStore) Get(ctx context.Context, version, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx, "SELECT bytes FROM entries WHERE version = ? AND key = ?", version, key).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("could not read entry", err)
	}
	return bytes, true, nil
}

func (s SQLiteStore) Keys(ctx context.Context, version string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE version = ? ORDER BY key", version)
	if err != nil {
		return nil, storeError("could not list keys", err)
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, storeError("could not list keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("could not list keys", err)
	}
	return keys, nil
}

func (s SQLiteStore) Delete(ctx context.Context, version string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("could not begin delete", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE version = ?", version); err != nil {
		return storeError("could not delete entries", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM versions WHERE version = ?", version); err != nil {
		return storeError("could not delete version", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("could not commit delete", err)
	}
	return nil
}

func (s SQLiteStore) Close() error {
	return s.db.Close()
}
