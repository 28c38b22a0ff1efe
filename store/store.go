// Package store is the single source of truth for wallet state: an
// embedded, transactional, per-wallet relational database.
//
// Each (fingerprint, network) pair gets its own embedded sqlite file, so
// the driver is modernc.org/sqlite (a pure-Go database/sql driver — no
// cgo, so the wallet binary stays a single static executable). Habits
// throughout — raw SQL, explicit `context.Context`-scoped transactions,
// `ON CONFLICT ... DO UPDATE` upserts, `log.Printf`-style diagnostics —
// carry over from the rest of the codebase.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pooled connection to one wallet's sqlite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path and applies
// the schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// sqlite serializes writers; a single connection avoids
	// "database is locked" errors under our own transaction discipline
	// while still allowing concurrent readers via WAL mode.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("store: opened %s", path)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Vacuum runs periodic compaction, reclaiming space left by resyncs and
// expired offers.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Tx is a serializable transaction: every cross-row invariant is enforced
// within one.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a new transaction. Callers must Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	return &Tx{tx: sqlTx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// WithTx runs fn inside a fresh transaction, committing on success and
// rolling back on any error (including a panic, which is re-raised).
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
