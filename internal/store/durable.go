package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registered as "sqlite"
)

// DurableMap is the persistence backend a Store writes through to on every
// mutation. It holds the same data as the WAL replay would produce, but in
// a form that can be loaded back in O(keys) rather than replayed
// entry-by-entry forever — the WAL is truncated at startup, once recovery
// has re-persisted the replayed state here.
//
// Every method takes/returns raw JSON values; DurableMap itself is
// opinion-free about what a "value" means.
type DurableMap interface {
	Save(key string, value json.RawMessage) error
	Load(key string) (json.RawMessage, bool, error)
	Delete(key string) error
	LoadAll() (map[string]json.RawMessage, error)
	Clear() error
	Exists(key string) (bool, error)
	Close() error
}

// SQLiteDurableMap is the on-disk DurableMap backing, one table per store.
// Schema matches the reference key/value layout exactly: a primary-keyed
// kv_store table plus an index for lookups that don't hit the primary key
// path.
type SQLiteDurableMap struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteDurableMap opens (creating if necessary) a SQLite database at
// path and ensures its schema exists.
func NewSQLiteDurableMap(path string) (*SQLiteDurableMap, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("durable: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: create table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_key ON kv_store(key)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: create index: %w", err)
	}

	return &SQLiteDurableMap{db: db}, nil
}

func (m *SQLiteDurableMap) Save(key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.Exec(
		`INSERT INTO kv_store (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(value),
	)
	return err
}

func (m *SQLiteDurableMap) Load(key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var raw string
	err := m.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}

func (m *SQLiteDurableMap) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key)
	return err
}

func (m *SQLiteDurableMap) LoadAll() (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.Query(`SELECT key, value FROM kv_store`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

func (m *SQLiteDurableMap) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.Exec(`DELETE FROM kv_store`)
	return err
}

func (m *SQLiteDurableMap) Exists(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var one int
	err := m.db.QueryRow(`SELECT 1 FROM kv_store WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (m *SQLiteDurableMap) Close() error {
	return m.db.Close()
}

// MemoryDurableMap is an in-process DurableMap backing with no persistence
// at all, used by tests and by callers that don't want a data directory on
// disk. It implements the same contract as SQLiteDurableMap, including the
// Clear-before-reload semantics Store's recovery path depends on.
type MemoryDurableMap struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemoryDurableMap() *MemoryDurableMap {
	return &MemoryDurableMap{data: make(map[string]json.RawMessage)}
}

func (m *MemoryDurableMap) Save(key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MemoryDurableMap) Load(key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryDurableMap) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryDurableMap) LoadAll() (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryDurableMap) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]json.RawMessage)
	return nil
}

func (m *MemoryDurableMap) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryDurableMap) Close() error { return nil }
