// Package store archives exported evidence chains in SQLite.
//
// The cryptographic core never touches disk; this archive is for
// applications that collect chains across sessions and want them
// queryable later. Stored chains are the exported JSON form; the MAC
// inside each document remains the integrity anchor.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"physjitter/evidence"
	"physjitter/internal/logging"
)

// ErrNotFound is returned when no chain exists under a session ID.
var ErrNotFound = errors.New("store: chain not found")

// Schema for the chain archive.
const schema = `
CREATE TABLE IF NOT EXISTS chains (
    session_id   TEXT PRIMARY KEY,
    created_at   INTEGER NOT NULL,
    records      INTEGER NOT NULL,
    phys_ratio   REAL NOT NULL,
    verified     INTEGER NOT NULL,
    chain_json   BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chains_created ON chains(created_at);
`

// Store is the SQLite chain archive.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Entry is one archived chain.
type Entry struct {
	SessionID string
	CreatedAt time.Time
	Records   int
	PhysRatio float64
	Verified  bool
	ChainJSON []byte
}

// Open opens or creates the archive at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db, log: logging.Default().WithComponent("store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives a chain under a session ID, replacing any previous
// entry for that ID. The chain is exported and its integrity is
// recorded as seen at save time.
func (s *Store) Save(sessionID string, chain *evidence.Chain) error {
	if sessionID == "" {
		return errors.New("store: empty session id")
	}

	data, err := chain.ExportJSON()
	if err != nil {
		return fmt.Errorf("store: export chain: %w", err)
	}

	verified := 0
	if chain.VerifyIntegrity() {
		verified = 1
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO chains
		 (session_id, created_at, records, phys_ratio, verified, chain_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, time.Now().UnixNano(), chain.Len(), chain.PhysRatio(), verified, data,
	)
	if err != nil {
		return fmt.Errorf("store: save chain: %w", err)
	}

	s.log.Debug("archived chain", "session_id", sessionID, "records", chain.Len())
	return nil
}

// Load retrieves an archived chain by session ID.
func (s *Store) Load(sessionID string) (*Entry, error) {
	row := s.db.QueryRow(
		`SELECT session_id, created_at, records, phys_ratio, verified, chain_json
		 FROM chains WHERE session_id = ?`, sessionID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return entry, err
}

// List returns all archived chains, newest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT session_id, created_at, records, phys_ratio, verified, chain_json
		 FROM chains ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list chains: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Delete removes an archived chain.
func (s *Store) Delete(sessionID string) error {
	res, err := s.db.Exec(`DELETE FROM chains WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete chain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var createdNS int64
	var verified int

	if err := row.Scan(&e.SessionID, &createdNS, &e.Records, &e.PhysRatio, &verified, &e.ChainJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan chain: %w", err)
	}

	e.CreatedAt = time.Unix(0, createdNS)
	e.Verified = verified != 0
	return &e, nil
}
