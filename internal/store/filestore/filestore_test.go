package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/pactwatch/internal/store"
	"github.com/ppiankov/pactwatch/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	})
}

func TestPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	m, err := store.Put(store.KindIdentity, "abc", 0, map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Commit(ctx, []store.Mutation{m}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	s2, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	r, err := s2.Get(ctx, store.KindIdentity, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Version != 1 {
		t.Errorf("expected version 1, got %d", r.Version)
	}
}

func TestListSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(dir, string(store.KindAgreement), "x.json.tmp")
	if err := os.WriteFile(stray, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := s.List(context.Background(), store.KindAgreement, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected temp file to be ignored, got %d records", len(got))
	}
}

func TestGetRejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), store.KindAgreement, "../../etc/passwd"); err == nil {
		t.Error("expected traversal id to be rejected")
	}
}
