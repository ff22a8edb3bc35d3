// Package postgres is the shared-database store backend for multi-instance
// deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppiankov/pactwatch/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS pact_records (
	kind    TEXT   NOT NULL,
	id      TEXT   NOT NULL,
	version BIGINT NOT NULL,
	data    JSONB  NOT NULL,
	PRIMARY KEY (kind, id)
)`

type Store struct{ DB *pgxpool.Pool }

// Connect opens a pool on dsn and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{DB: pool}, nil
}

func (s *Store) Get(ctx context.Context, kind store.Kind, id string) (store.Record, error) {
	r := store.Record{Kind: kind, ID: id}
	var version int64
	var data []byte
	err := s.DB.QueryRow(ctx, `SELECT version, data FROM pact_records WHERE kind=$1 AND id=$2`, string(kind), id).
		Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, fmt.Errorf("%s/%s: %w", kind, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	r.Version = uint64(version)
	r.Data = data
	return r, nil
}

func (s *Store) List(ctx context.Context, kind store.Kind, prefix string) ([]store.Record, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT id, version, data FROM pact_records WHERE kind=$1 AND left(id, $2) = $3 ORDER BY id`,
		string(kind), len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		r := store.Record{Kind: kind}
		var version int64
		var data []byte
		if err := rows.Scan(&r.ID, &version, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		r.Version = uint64(version)
		r.Data = data
		out = append(out, r)
	}
	return out, rows.Err()
}

// Commit locks each touched row with SELECT ... FOR UPDATE before checking
// its version, so concurrent instances serialize on the same records.
func (s *Store) Commit(ctx context.Context, muts []store.Mutation) error {
	if err := store.Validate(muts); err != nil {
		return err
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range muts {
		var current int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM pact_records WHERE kind=$1 AND id=$2 FOR UPDATE`, string(m.Kind), m.ID).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read %s/%s: %w", m.Kind, m.ID, err)
		}
		if err := store.Check(m, uint64(current)); err != nil {
			return err
		}

		switch {
		case m.Assert:
			// The row lock taken above holds until commit.
		case m.Delete:
			_, err = tx.Exec(ctx, `DELETE FROM pact_records WHERE kind=$1 AND id=$2`, string(m.Kind), m.ID)
		case current == 0:
			// A concurrent insert of the same id loses on the primary key.
			tag, ierr := tx.Exec(ctx,
				`INSERT INTO pact_records(kind,id,version,data) VALUES($1,$2,1,$3)
				 ON CONFLICT (kind,id) DO NOTHING`, string(m.Kind), m.ID, []byte(m.Data))
			if ierr == nil && tag.RowsAffected() == 0 {
				return fmt.Errorf("%s/%s: %w", m.Kind, m.ID, store.ErrExists)
			}
			err = ierr
		default:
			_, err = tx.Exec(ctx,
				`UPDATE pact_records SET version=version+1, data=$1 WHERE kind=$2 AND id=$3`, []byte(m.Data), string(m.Kind), m.ID)
		}
		if err != nil {
			return fmt.Errorf("write %s/%s: %w", m.Kind, m.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.DB.Close()
	return nil
}
