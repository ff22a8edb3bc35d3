package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Key is a 32-byte signing key or principal identifier.
// The zero Key means "none" (for example, a root identity's parent).
type Key [32]byte

// AgreementID is the caller-chosen 16-byte agreement identifier.
type AgreementID [16]byte

// Digest is an opaque 32-byte content hash. The core never interprets it.
type Digest [32]byte

// MaxTermsURILen is the fixed capacity of an agreement's terms locator.
const MaxTermsURILen = 64

// IsZero reports whether k is the empty key.
func (k Key) IsZero() bool { return k == Key{} }

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// MarshalText encodes the key as lowercase hex.
func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a hex key.
func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey decodes a 64-character hex string. An empty string yields the zero key.
func ParseKey(s string) (Key, error) {
	var k Key
	if err := decodeFixed(s, k[:], "key"); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (id AgreementID) IsZero() bool { return id == AgreementID{} }

func (id AgreementID) String() string { return hex.EncodeToString(id[:]) }

func (id AgreementID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AgreementID) UnmarshalText(b []byte) error {
	parsed, err := ParseAgreementID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseAgreementID decodes a 32-character hex string.
func ParseAgreementID(s string) (AgreementID, error) {
	var id AgreementID
	if err := decodeFixed(s, id[:], "agreement id"); err != nil {
		return AgreementID{}, err
	}
	return id, nil
}

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Digest) UnmarshalText(b []byte) error {
	return decodeFixed(string(b), d[:], "digest")
}

// ParseDigest decodes a 64-character hex digest. Empty yields the zero digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if err := decodeFixed(s, d[:], "digest"); err != nil {
		return Digest{}, err
	}
	return d, nil
}

func decodeFixed(s string, dst []byte, what string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("%s must be %d hex characters, got %d", what, hex.EncodedLen(len(dst)), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("invalid %s: %w", what, err)
	}
	return nil
}
