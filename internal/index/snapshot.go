package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 database driver
)

// Snapshot is an optional queryable sqlite mirror of an Index's file
// table, for deployments with enough entries (~10^6) that holding every
// lookup in a decoded gob map is no longer the cheapest option. It
// supports the same existence query the in-memory Index does, batching
// inserts into a single transaction the way the teacher's mbtiles writer
// batches tile rows, rather than one autocommit per file.
type Snapshot struct {
	db        *sql.DB
	txn       *sql.Tx
	batchSize int
	inBatch   int
}

// OpenSnapshot opens the sqlite database at dsn, creating it if absent,
// and prepares its schema. Rows already present in an existing database
// are kept.
func OpenSnapshot(dsn string, batchSize int) (*Snapshot, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: opening snapshot db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			rel_path TEXT NOT NULL,
			source_name TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS files_rel_path ON files (rel_path);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: creating snapshot schema: %w", err)
	}

	if batchSize <= 0 {
		batchSize = 5000
	}

	return &Snapshot{db: db, batchSize: batchSize}, nil
}

// Insert records that relPath is owned by sourceName, batching writes
// into transactions of s.batchSize rows so a full-index snapshot doesn't
// pay one fsync per file.
func (s *Snapshot) Insert(relPath, sourceName string) error {
	if s.txn == nil {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("index: beginning snapshot batch: %w", err)
		}
		s.txn = tx
	}

	if _, err := s.txn.Exec("INSERT OR REPLACE INTO files (rel_path, source_name) VALUES (?, ?)", relPath, sourceName); err != nil {
		return fmt.Errorf("index: inserting snapshot row: %w", err)
	}

	s.inBatch++
	if s.inBatch >= s.batchSize {
		if err := s.txn.Commit(); err != nil {
			return fmt.Errorf("index: committing snapshot batch: %w", err)
		}
		s.txn = nil
		s.inBatch = 0
	}

	return nil
}

// Exists reports whether relPath was recorded by a prior Insert.
func (s *Snapshot) Exists(relPath string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(1) FROM files WHERE rel_path = ?", relPath).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("index: querying snapshot: %w", err)
	}
	return count > 0, nil
}

// FromIndex populates a Snapshot from an already-built in-memory Index,
// for callers that want both representations (fast eager lookups plus a
// durable queryable mirror) without re-walking the filesystem.
func FromIndex(idx *Index, s *Snapshot) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for relPath, e := range idx.files {
		if err := s.Insert(relPath, e.SourceName); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes any pending batch and releases the underlying database
// handle.
func (s *Snapshot) Close() error {
	if s.txn != nil {
		if err := s.txn.Commit(); err != nil {
			s.db.Close()
			return fmt.Errorf("index: committing final snapshot batch: %w", err)
		}
		s.txn = nil
	}
	return s.db.Close()
}
