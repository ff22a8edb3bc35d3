// Package store is the persistence boundary for protocol records. Backends
// hold opaque JSON documents keyed by (kind, id) and apply batches of
// mutations atomically with per-record optimistic version checks.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind names a record collection.
type Kind string

const (
	KindIdentity  Kind = "identity"
	KindAgreement Kind = "agreement"
	KindParty     Kind = "party"
	KindVault     Kind = "vault"
)

// Kinds lists every collection a backend must provide.
var Kinds = []Kind{KindIdentity, KindAgreement, KindParty, KindVault}

var (
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
	ErrConflict = errors.New("record version conflict")
)

// Record is one stored document. Version starts at 1 and increments on
// every write.
type Record struct {
	Kind    Kind            `json:"kind"`
	ID      string          `json:"id"`
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Mutation is a put, delete or assert guarded by the version the caller
// read. Version 0 means the record must not exist yet. An assert writes
// nothing; it fails the batch when the record moved since it was read.
type Mutation struct {
	Kind    Kind
	ID      string
	Version uint64
	Data    json.RawMessage
	Delete  bool
	Assert  bool
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, kind Kind, id string) (Record, error)
	// List returns records of kind whose id starts with prefix, ordered by id.
	List(ctx context.Context, kind Kind, prefix string) ([]Record, error)
	// Commit applies all mutations or none.
	Commit(ctx context.Context, muts []Mutation) error
	Close() error
}

// Check validates m against the current version of its record (0 when the
// record is absent). Backends call it for every mutation before writing.
func Check(m Mutation, current uint64) error {
	if m.Version == 0 {
		if current != 0 {
			return fmt.Errorf("%s/%s: %w", m.Kind, m.ID, ErrExists)
		}
		if m.Delete {
			return fmt.Errorf("%s/%s: %w", m.Kind, m.ID, ErrNotFound)
		}
		return nil
	}
	if current != m.Version {
		return fmt.Errorf("%s/%s: expected version %d, found %d: %w", m.Kind, m.ID, m.Version, current, ErrConflict)
	}
	return nil
}

// Put encodes v as a guarded put.
func Put(kind Kind, id string, version uint64, v any) (Mutation, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	return Mutation{Kind: kind, ID: id, Version: version, Data: data}, nil
}

// Delete is a guarded delete.
func Delete(kind Kind, id string, version uint64) Mutation {
	return Mutation{Kind: kind, ID: id, Version: version, Delete: true}
}

// Assert pins a record at the version the caller read without writing it.
func Assert(kind Kind, id string, version uint64) Mutation {
	return Mutation{Kind: kind, ID: id, Version: version, Assert: true}
}

// Decode unmarshals a record's document.
func Decode[T any](r Record) (T, error) {
	var v T
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", r.Kind, r.ID, err)
	}
	return v, nil
}

// validID matches alphanumeric, dash, underscore, and dot characters only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateID rejects ids that could escape a file-backed collection.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// ValidateKind rejects unknown collections.
func ValidateKind(kind Kind) error {
	for _, k := range Kinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("unknown record kind %q", kind)
}

// Validate checks every mutation's kind and id and rejects a batch that
// touches the same record twice.
func Validate(muts []Mutation) error {
	seen := make(map[string]struct{}, len(muts))
	for _, m := range muts {
		if err := ValidateKind(m.Kind); err != nil {
			return err
		}
		if err := ValidateID(m.ID); err != nil {
			return fmt.Errorf("invalid %s id: %w", m.Kind, err)
		}
		k := string(m.Kind) + "/" + m.ID
		if _, dup := seen[k]; dup {
			return fmt.Errorf("batch touches %s twice", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}
