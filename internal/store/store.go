// Package store provides durable collection stores behind rag.CollectionStore.
// SQLiteStore keeps every named collection in a single database file inside
// a store directory and answers queries with an exact cosine scan.
// QdrantStore delegates to a remote Qdrant instance.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/semdex-go/internal/rag"
)

// dbFile is the database file name created inside the store directory.
const dbFile = "collections.db"

// metricCosine is the only similarity metric collections are created with.
const metricCosine = "cosine"

// SQLiteStore is a rag.CollectionStore backed by a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// log receives reset and migration events.
	log *slog.Logger

	// mu guards handles.
	mu sync.Mutex
	// handles caches one collection handle per name.
	handles map[string]*sqliteCollection
}

// DefaultDir returns the default store directory, ~/.semdex/store.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".semdex", "store"), nil
}

// Open opens (or creates) a SQLiteStore in dir, creating the directory if
// absent, and runs the schema migration. Use ":memory:" for an in-memory
// database in tests.
func Open(dir string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}

	path := dir
	if dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, rag.StoreError("store: create "+dir, err)
		}
		path = filepath.Join(dir, dbFile)
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rag.StoreError("store: open "+path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log, handles: make(map[string]*sqliteCollection)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collections (
    name         TEXT    PRIMARY KEY,
    metric       TEXT    NOT NULL DEFAULT 'cosine',
    dimension    INTEGER NOT NULL DEFAULT 0,  -- 0 until the first write
    created_at   INTEGER NOT NULL             -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS records (
    collection   TEXT    NOT NULL,
    id           TEXT    NOT NULL,
    document     TEXT    NOT NULL,
    metadata     TEXT    NOT NULL,            -- JSON object
    embedding    BLOB    NOT NULL,            -- little-endian float32
    PRIMARY KEY (collection, id)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return rag.StoreError("store: migrate", err)
	}
	return nil
}

// GetOrCreate implements rag.CollectionStore.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, name string) (rag.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("store: collection name must not be empty: %w", rag.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[name]; ok {
		return h, nil
	}
	if err := ensureCollection(ctx, s.db, name); err != nil {
		return nil, err
	}
	h := &sqliteCollection{db: s.db, name: name}
	s.handles[name] = h
	return h, nil
}

// Reset implements rag.CollectionStore. Resetting an unknown collection is a no-op.
func (s *SQLiteStore) Reset(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rag.StoreError("store: reset begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return rag.StoreError("store: reset records", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return rag.StoreError("store: reset collection", err)
	}
	if err := tx.Commit(); err != nil {
		return rag.StoreError("store: reset commit", err)
	}

	delete(s.handles, name)
	s.log.Info("store: collection reset", slog.String("collection", name))
	return nil
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return rag.StoreError("store: ping", s.db.PingContext(ctx))
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	return rag.StoreError("store: close", s.db.Close())
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureCollection inserts the collection row if missing.
func ensureCollection(ctx context.Context, db execer, name string) error {
	const q = `INSERT INTO collections (name, metric, dimension, created_at) VALUES (?, ?, 0, ?)
ON CONFLICT(name) DO NOTHING`
	if _, err := db.ExecContext(ctx, q, name, metricCosine, time.Now().Unix()); err != nil {
		return rag.StoreError("store: create collection "+name, err)
	}
	return nil
}

var _ rag.CollectionStore = (*SQLiteStore)(nil)
