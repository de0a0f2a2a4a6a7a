// Package nodecache persists serialized node records in a local sqlite
// database so both trees can be rebuilt without a full remote reload or
// rescan. Records are opaque blobs keyed by handle (remote) or row id
// (local); a corrupt record is skipped on reload, never fatal.
package nodecache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mirabelle-sync/mirabelle/internal/local"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
)

// Store is a handle to the cache database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the cache database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS remote_nodes (
			handle INTEGER PRIMARY KEY NOT NULL,
			record BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS local_nodes (
			row_id INTEGER PRIMARY KEY NOT NULL,
			record BLOB NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveNode writes (or rewrites) a remote node's record.
func (s *Store) SaveNode(n *remote.Node) error {
	rec, err := n.Serialize()
	if err != nil {
		return fmt.Errorf("serialize node %x: %w", uint64(n.Handle), err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO remote_nodes (handle, record) VALUES (?, ?)`,
		int64(n.Handle), rec)
	if err != nil {
		return fmt.Errorf("save node %x: %w", uint64(n.Handle), err)
	}
	return nil
}

// DeleteNode drops a remote node's record.
func (s *Store) DeleteNode(h remote.Handle) error {
	_, err := s.db.Exec(`DELETE FROM remote_nodes WHERE handle = ?`, int64(h))
	return err
}

// LoadNodes streams every cached remote node into fn, in handle order.
// Corrupt records are counted and skipped.
func (s *Store) LoadNodes(fn func(*remote.Node)) (skipped int, err error) {
	rows, err := s.db.Query(`SELECT record FROM remote_nodes ORDER BY handle`)
	if err != nil {
		return 0, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			return skipped, fmt.Errorf("scan node record: %w", err)
		}
		n, err := remote.UnserializeNode(rec)
		if err != nil {
			skipped++
			continue
		}
		fn(n)
	}
	return skipped, rows.Err()
}

// SaveLocal writes (or rewrites) a local node's record.
func (s *Store) SaveLocal(n *local.Node) error {
	rec, err := n.Serialize()
	if err != nil {
		return fmt.Errorf("serialize local node %d: %w", n.RowID, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO local_nodes (row_id, record) VALUES (?, ?)`,
		n.RowID, rec)
	if err != nil {
		return fmt.Errorf("save local node %d: %w", n.RowID, err)
	}
	return nil
}

// DeleteLocal drops a local node's record.
func (s *Store) DeleteLocal(rowID int64) error {
	_, err := s.db.Exec(`DELETE FROM local_nodes WHERE row_id = ?`, rowID)
	return err
}

// LoadLocals streams every cached local-node record into fn. Parents sort
// before children only by convention (row ids are allocated top-down), so
// fn receives the decoded record plus linkage ids and resolves them
// itself. Corrupt records are counted and skipped.
func (s *Store) LoadLocals(fn func(*local.Unserialized)) (skipped int, err error) {
	rows, err := s.db.Query(`SELECT record FROM local_nodes ORDER BY row_id`)
	if err != nil {
		return 0, fmt.Errorf("load local nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			return skipped, fmt.Errorf("scan local record: %w", err)
		}
		u, err := local.Unserialize(rec)
		if err != nil {
			skipped++
			continue
		}
		fn(u)
	}
	return skipped, rows.Err()
}
