// Package sqlite is the default durable store backend, a single records table
// in an embedded SQLite database (pure Go driver, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/pactwatch/internal/store"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind    TEXT    NOT NULL,
	id      TEXT    NOT NULL,
	version INTEGER NOT NULL,
	data    BLOB    NOT NULL,
	PRIMARY KEY (kind, id)
);`

// Store wraps a database/sql handle on the modernc driver.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("cannot create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; SQLite serializes writes anyway and this keeps
	// ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, kind store.Kind, id string) (store.Record, error) {
	r := store.Record{Kind: kind, ID: id}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM records WHERE kind = ? AND id = ?`, string(kind), id).
		Scan(&r.Version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, fmt.Errorf("%s/%s: %w", kind, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	r.Data = data
	return r, nil
}

func (s *Store) List(ctx context.Context, kind store.Kind, prefix string) ([]store.Record, error) {
	// substr avoids LIKE wildcard escaping for ids containing '_'.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, data FROM records
		 WHERE kind = ? AND substr(id, 1, ?) = ?
		 ORDER BY id`, string(kind), len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		r := store.Record{Kind: kind}
		var data []byte
		if err := rows.Scan(&r.ID, &r.Version, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		r.Data = data
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Commit(ctx context.Context, muts []store.Mutation) error {
	if err := store.Validate(muts); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, m := range muts {
		var current uint64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM records WHERE kind = ? AND id = ?`, string(m.Kind), m.ID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read %s/%s: %w", m.Kind, m.ID, err)
		}
		if err := store.Check(m, current); err != nil {
			return err
		}

		switch {
		case m.Assert:
		case m.Delete:
			_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, string(m.Kind), m.ID)
		case current == 0:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO records (kind, id, version, data) VALUES (?, ?, 1, ?)`, string(m.Kind), m.ID, []byte(m.Data))
		default:
			_, err = tx.ExecContext(ctx,
				`UPDATE records SET version = version + 1, data = ? WHERE kind = ? AND id = ?`, []byte(m.Data), string(m.Kind), m.ID)
		}
		if err != nil {
			return fmt.Errorf("write %s/%s: %w", m.Kind, m.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error { return s.db.Close() }
