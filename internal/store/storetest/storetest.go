// Package storetest is a conformance suite every store backend runs.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ppiankov/pactwatch/internal/store"
)

// Run exercises open against the store.Store contract. open must return a
// fresh, empty store for each call.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, open(t)) })
	t.Run("CreateTwice", func(t *testing.T) { testCreateTwice(t, open(t)) })
	t.Run("StaleVersion", func(t *testing.T) { testStaleVersion(t, open(t)) })
	t.Run("BatchAtomic", func(t *testing.T) { testBatchAtomic(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Assert", func(t *testing.T) { testAssert(t, open(t)) })
	t.Run("ListPrefix", func(t *testing.T) { testListPrefix(t, open(t)) })
	t.Run("RejectsBadIDs", func(t *testing.T) { testRejectsBadIDs(t, open(t)) })
	t.Run("ConcurrentCAS", func(t *testing.T) { testConcurrentCAS(t, open(t)) })
}

type doc struct {
	N int `json:"n"`
}

func put(t *testing.T, kind store.Kind, id string, version uint64, n int) store.Mutation {
	t.Helper()
	m, err := store.Put(kind, id, version, doc{N: n})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return m
}

func mustGet(t *testing.T, s store.Store, kind store.Kind, id string) (store.Record, doc) {
	t.Helper()
	r, err := s.Get(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("Get %s/%s: %v", kind, id, err)
	}
	d, err := store.Decode[doc](r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return r, d
}

func testCreateGet(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Get(ctx, store.KindAgreement, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindAgreement, "a1", 0, 7)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	r, d := mustGet(t, s, store.KindAgreement, "a1")
	if r.Version != 1 || d.N != 7 {
		t.Errorf("expected version 1 n 7, got version %d n %d", r.Version, d.N)
	}

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindAgreement, "a1", 1, 8)}); err != nil {
		t.Fatalf("Commit update: %v", err)
	}
	r, d = mustGet(t, s, store.KindAgreement, "a1")
	if r.Version != 2 || d.N != 8 {
		t.Errorf("expected version 2 n 8, got version %d n %d", r.Version, d.N)
	}
}

func testCreateTwice(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindIdentity, "k", 0, 1)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err := s.Commit(ctx, []store.Mutation{put(t, store.KindIdentity, "k", 0, 2)})
	if !errors.Is(err, store.ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func testStaleVersion(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindVault, "v", 0, 1)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindVault, "v", 1, 2)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err := s.Commit(ctx, []store.Mutation{put(t, store.KindVault, "v", 1, 3)})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if _, d := mustGet(t, s, store.KindVault, "v"); d.N != 2 {
		t.Errorf("expected stale write to be dropped, got n %d", d.N)
	}
}

func testBatchAtomic(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindParty, "p1", 0, 1)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err := s.Commit(ctx, []store.Mutation{
		put(t, store.KindAgreement, "a1", 0, 1),
		put(t, store.KindParty, "p1", 0, 2), // already exists
	})
	if !errors.Is(err, store.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Get(ctx, store.KindAgreement, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected failed batch to write nothing, got %v", err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindParty, "p1", 0, 1)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Commit(ctx, []store.Mutation{store.Delete(store.KindParty, "p1", 2)}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict on stale delete, got %v", err)
	}
	if err := s.Commit(ctx, []store.Mutation{store.Delete(store.KindParty, "p1", 1)}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, store.KindParty, "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// A deleted id can be created again.
	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindParty, "p1", 0, 3)}); err != nil {
		t.Errorf("expected re-create to succeed, got %v", err)
	}
}

func testAssert(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindIdentity, "i1", 0, 1)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err := s.Commit(ctx, []store.Mutation{
		store.Assert(store.KindIdentity, "i1", 1),
		put(t, store.KindAgreement, "a1", 0, 1),
	})
	if err != nil {
		t.Fatalf("expected assert at current version to pass, got %v", err)
	}
	if r, _ := mustGet(t, s, store.KindIdentity, "i1"); r.Version != 1 {
		t.Errorf("expected assert to leave version 1, got %d", r.Version)
	}

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindIdentity, "i1", 1, 2)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	err = s.Commit(ctx, []store.Mutation{
		store.Assert(store.KindIdentity, "i1", 1),
		put(t, store.KindAgreement, "a2", 0, 1),
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for a moved record, got %v", err)
	}
	if _, err := s.Get(ctx, store.KindAgreement, "a2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected failed assert to write nothing, got %v", err)
	}
	if err := s.Commit(ctx, []store.Mutation{store.Assert(store.KindIdentity, "gone", 4)}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for a deleted record, got %v", err)
	}
}

func testListPrefix(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	muts := []store.Mutation{
		put(t, store.KindParty, "aa.identity.02", 0, 2),
		put(t, store.KindParty, "aa.identity.01", 0, 1),
		put(t, store.KindParty, "ab.direct.01", 0, 3),
		put(t, store.KindAgreement, "aa", 0, 9),
	}
	if err := s.Commit(ctx, muts); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := s.List(ctx, store.KindParty, "aa.")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "aa.identity.01" || got[1].ID != "aa.identity.02" {
		t.Errorf("expected id order, got %s, %s", got[0].ID, got[1].ID)
	}

	all, err := s.List(ctx, store.KindParty, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}
	var d doc
	if err := json.Unmarshal(all[2].Data, &d); err != nil || d.N != 3 {
		t.Errorf("expected last record n 3, got %+v (%v)", d, err)
	}
}

func testRejectsBadIDs(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b"} {
		if err := s.Commit(ctx, []store.Mutation{put(t, store.KindAgreement, id, 0, 1)}); err == nil {
			t.Errorf("expected id %q to be rejected", id)
		}
	}
	if err := s.Commit(ctx, []store.Mutation{put(t, store.Kind("bogus"), "x", 0, 1)}); err == nil {
		t.Error("expected unknown kind to be rejected")
	}
	twice := []store.Mutation{put(t, store.KindAgreement, "x", 0, 1), put(t, store.KindAgreement, "x", 0, 2)}
	if err := s.Commit(ctx, twice); err == nil {
		t.Error("expected duplicate record in batch to be rejected")
	}
}

// testConcurrentCAS races writers on one record; exactly one wins each
// version.
func testConcurrentCAS(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Commit(ctx, []store.Mutation{put(t, store.KindAgreement, "hot", 0, 0)}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m, err := store.Put(store.KindAgreement, "hot", 1, doc{N: n})
			if err != nil {
				return
			}
			if err := s.Commit(ctx, []store.Mutation{m}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i + 1)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
	if r, _ := mustGet(t, s, store.KindAgreement, "hot"); r.Version != 2 {
		t.Errorf("expected version 2, got %d", r.Version)
	}
}
