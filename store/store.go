// Package store is the Persistent Store (C1): a single embedded relational
// store holding queue rows, message-queue rows, agent state, the sequence
// counter, and recurring check-in tasks. Transactions are the only
// inter-component synchronization primitive (§3.2) — every other component
// touches rows exclusively through the methods here.
//
// Grounded on the teacher's session/storage.go load/save shape, generalized
// from a JSON blob to a real relational schema because §3.1's invariants
// (atomic admission, atomic sequence assignment, a unique index enforcing
// idempotent enqueue) need transactional guarantees a JSON file cannot give.
package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/fleetctl/orchestrator/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the embedded relational database.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the SQLite-backed store at path and
// runs any pending goose migrations. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY storms across goroutines;
	// the store serializes mutation through explicit transactions instead.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Infof("store opened at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back otherwise. Startup recovery relies on SQLite's own WAL/journal
// rollback of any transaction that was left partially written by a crash —
// nothing here can observe a half-committed write.
func (s *Store) withTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warnf("rollback after error failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
