// Package memory is an in-process store backend for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/pactwatch/internal/store"
)

// Store keeps records in maps guarded by one RWMutex.
type Store struct {
	mu      sync.RWMutex
	records map[store.Kind]map[string]store.Record
}

// New returns an empty store.
func New() *Store {
	s := &Store{records: make(map[store.Kind]map[string]store.Record)}
	for _, k := range store.Kinds {
		s.records[k] = make(map[string]store.Record)
	}
	return s
}

func (s *Store) Get(_ context.Context, kind store.Kind, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.records[kind]
	if !ok {
		return store.Record{}, store.ValidateKind(kind)
	}
	r, ok := coll[id]
	if !ok {
		return store.Record{}, fmt.Errorf("%s/%s: %w", kind, id, store.ErrNotFound)
	}
	return clone(r), nil
}

func (s *Store) List(_ context.Context, kind store.Kind, prefix string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.records[kind]
	if !ok {
		return nil, store.ValidateKind(kind)
	}
	var out []store.Record
	for id, r := range coll {
		if strings.HasPrefix(id, prefix) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

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
		if err := store.Check(m, s.records[m.Kind][m.ID].Version); err != nil {
			return err
		}
	}
	for _, m := range muts {
		coll := s.records[m.Kind]
		if m.Assert {
			continue
		}
		if m.Delete {
			delete(coll, m.ID)
			continue
		}
		coll[m.ID] = store.Record{
			Kind:    m.Kind,
			ID:      m.ID,
			Version: m.Version + 1,
			Data:    append([]byte(nil), m.Data...),
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

func clone(r store.Record) store.Record {
	r.Data = append([]byte(nil), r.Data...)
	return r
}
