// Package filestore keeps one JSON file per record under a directory tree
// (<dir>/<kind>/<id>.json). A single process owns the directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ppiankov/pactwatch/internal/store"
)

// Store manages record files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a Store backed by the given directory.
func New(dir string) (*Store, error) {
	for _, k := range store.Kinds {
		if err := os.MkdirAll(filepath.Join(dir, string(k)), 0755); err != nil {
			return nil, fmt.Errorf("cannot create record directory: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default record directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pactwatch-records")
	}
	return filepath.Join(home, ".pactwatch", "records")
}

func (s *Store) Get(_ context.Context, kind store.Kind, id string) (store.Record, error) {
	if err := s.validate(kind, id); err != nil {
		return store.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(kind, id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.Record{}, fmt.Errorf("%s/%s: %w", kind, id, store.ErrNotFound)
		}
		return store.Record{}, err
	}
	return r, nil
}

func (s *Store) List(_ context.Context, kind store.Kind, prefix string) ([]store.Record, error) {
	if err := store.ValidateKind(kind); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, string(kind)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// ReadDir sorts by filename, so ids come back in order.
	var out []store.Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		r, err := s.read(kind, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Commit checks every version first, then writes. Each file is replaced
// atomically; a crash between files can leave a batch half applied.
func (s *Store) Commit(ctx context.Context, muts []store.Mutation) error {
	if err := store.Validate(muts); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range muts {
		var current uint64
		r, err := s.read(m.Kind, m.ID)
		switch {
		case err == nil:
			current = r.Version
		case !errors.Is(err, os.ErrNotExist):
			return err
		}
		if err := store.Check(m, current); err != nil {
			return err
		}
	}

	var errs []error
	for _, m := range muts {
		if m.Assert {
			continue
		}
		path := s.path(m.Kind, m.ID)
		if m.Delete {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			continue
		}
		r := store.Record{Kind: m.Kind, ID: m.ID, Version: m.Version + 1, Data: m.Data}
		if err := writeAtomic(path, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Close() error { return nil }

func (s *Store) validate(kind store.Kind, id string) error {
	if err := store.ValidateKind(kind); err != nil {
		return err
	}
	if err := store.ValidateID(id); err != nil {
		return fmt.Errorf("invalid %s id: %w", kind, err)
	}
	return nil
}

func (s *Store) path(kind store.Kind, id string) string {
	return filepath.Join(s.dir, string(kind), id+".json")
}

func (s *Store) read(kind store.Kind, id string) (store.Record, error) {
	data, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		return store.Record{}, err
	}

	var r store.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return store.Record{}, fmt.Errorf("corrupt record %s/%s: %w", kind, id, err)
	}
	return r, nil
}

func writeAtomic(path string, r store.Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
