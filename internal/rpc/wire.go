package rpc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ppiankov/pactwatch/internal/model"
)

// Field numbers and scalar types follow api/proto/pactwatch/v1/protocol.proto.
// Zero values are omitted as proto3 does; fields declared optional there
// are written whenever they are set.

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	return appendPresent(b, num, v)
}

func appendPresent(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendKey(b []byte, num protowire.Number, k model.Key) []byte {
	if k.IsZero() {
		return b
	}
	return appendBytes(b, num, k[:])
}

func appendDigest(b []byte, num protowire.Number, d model.Digest) []byte {
	if d == (model.Digest{}) {
		return b
	}
	return appendBytes(b, num, d[:])
}

func appendAgreementID(b []byte, num protowire.Number, id model.AgreementID) []byte {
	if id.IsZero() {
		return b
	}
	return appendBytes(b, num, id[:])
}

// appendDelimited writes a length-delimited field even when body is empty,
// so submessages and optional bytes read back as present.
func appendDelimited(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// walk calls fn once per field in b. Varint fields arrive in v and
// length-delimited ones in data; fixed-width and group fields are skipped.
func walk(b []byte, fn func(num protowire.Number, v uint64, data []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return fmt.Errorf("field %d: %w", num, err)
			}
		case protowire.BytesType:
			data, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, 0, data); err != nil {
				return fmt.Errorf("field %d: %w", num, err)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func fixed(dst, data []byte, what string) error {
	if len(data) == 0 {
		clear(dst)
		return nil
	}
	if len(data) != len(dst) {
		return fmt.Errorf("%s must be %d bytes, got %d", what, len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

func setKey(k *model.Key, data []byte) error { return fixed(k[:], data, "key") }

func setDigest(d *model.Digest, data []byte) error { return fixed(d[:], data, "digest") }

func setAgreementID(id *model.AgreementID, data []byte) error {
	return fixed(id[:], data, "agreement id")
}

// small narrows a varint to a one-byte code. Out-of-range codes are
// rejected here rather than truncated into a different valid value.
func small(v uint64) (uint8, error) {
	if v > math.MaxUint8 {
		return 0, fmt.Errorf("value %d out of range", v)
	}
	return uint8(v), nil
}

func toInt(v uint64) int { return int(int64(v)) }

// --- Records ---

func appendScope(b []byte, s model.DelegationScope) []byte {
	b = appendBool(b, 1, s.CanSignAgreements)
	b = appendBool(b, 2, s.CanCommitFunds)
	b = appendVarint(b, 3, s.MaxCommitLamports)
	return appendInt(b, 4, s.ExpiresAt)
}

func consumeScope(b []byte, s *model.DelegationScope) error {
	*s = model.DelegationScope{}
	return walk(b, func(num protowire.Number, v uint64, _ []byte) error {
		switch num {
		case 1:
			s.CanSignAgreements = protowire.DecodeBool(v)
		case 2:
			s.CanCommitFunds = protowire.DecodeBool(v)
		case 3:
			s.MaxCommitLamports = v
		case 4:
			s.ExpiresAt = int64(v)
		}
		return nil
	})
}

func appendIdentity(b []byte, id model.AgentIdentity) []byte {
	b = appendKey(b, 1, id.Authority)
	b = appendKey(b, 2, id.AgentKey)
	b = appendDigest(b, 3, id.MetadataHash)
	b = appendDelimited(b, 4, appendScope(nil, id.Scope))
	b = appendKey(b, 5, id.Parent)
	return appendInt(b, 6, id.CreatedAt)
}

func consumeIdentity(b []byte, id *model.AgentIdentity) error {
	*id = model.AgentIdentity{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return setKey(&id.Authority, data)
		case 2:
			return setKey(&id.AgentKey, data)
		case 3:
			return setDigest(&id.MetadataHash, data)
		case 4:
			return consumeScope(data, &id.Scope)
		case 5:
			return setKey(&id.Parent, data)
		case 6:
			id.CreatedAt = int64(v)
		}
		return nil
	})
}

func appendAgreement(b []byte, a model.Agreement) []byte {
	b = appendAgreementID(b, 1, a.ID)
	b = appendVarint(b, 2, uint64(a.Type))
	b = appendVarint(b, 3, uint64(a.Visibility))
	b = appendVarint(b, 4, uint64(a.Status))
	b = appendKey(b, 5, a.Proposer)
	b = appendDigest(b, 6, a.TermsHash)
	b = appendString(b, 7, a.TermsURI)
	b = appendVarint(b, 8, a.EscrowTotal)
	b = appendVarint(b, 9, uint64(a.NumParties))
	b = appendVarint(b, 10, uint64(a.NumSigned))
	b = appendVarint(b, 11, uint64(a.PartiesAdded))
	b = appendVarint(b, 12, uint64(a.PartiesClosed))
	b = appendInt(b, 13, a.CreatedAt)
	return appendInt(b, 14, a.ExpiresAt)
}

func consumeAgreement(b []byte, a *model.Agreement) error {
	*a = model.Agreement{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		var err error
		var n uint8
		switch num {
		case 1:
			return setAgreementID(&a.ID, data)
		case 2:
			n, err = small(v)
			a.Type = model.AgreementType(n)
		case 3:
			n, err = small(v)
			a.Visibility = model.Visibility(n)
		case 4:
			n, err = small(v)
			a.Status = model.Status(n)
		case 5:
			return setKey(&a.Proposer, data)
		case 6:
			return setDigest(&a.TermsHash, data)
		case 7:
			a.TermsURI = string(data)
		case 8:
			a.EscrowTotal = v
		case 9:
			a.NumParties, err = small(v)
		case 10:
			a.NumSigned, err = small(v)
		case 11:
			a.PartiesAdded, err = small(v)
		case 12:
			a.PartiesClosed, err = small(v)
		case 13:
			a.CreatedAt = int64(v)
		case 14:
			a.ExpiresAt = int64(v)
		}
		return err
	})
}

var refKinds = map[model.RefKind]uint64{model.RefIdentity: 1, model.RefDirect: 2}

func appendRef(b []byte, r model.PartyRef) []byte {
	b = appendVarint(b, 1, refKinds[r.Kind])
	return appendKey(b, 2, r.Key)
}

func consumeRef(b []byte, r *model.PartyRef) error {
	*r = model.PartyRef{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			switch v {
			case 1:
				r.Kind = model.RefIdentity
			case 2:
				r.Kind = model.RefDirect
			default:
				return fmt.Errorf("unknown party ref kind %d", v)
			}
		case 2:
			return setKey(&r.Key, data)
		}
		return nil
	})
}

func appendParty(b []byte, p model.AgreementParty) []byte {
	b = appendAgreementID(b, 1, p.Agreement)
	b = appendDelimited(b, 2, appendRef(nil, p.Ref))
	b = appendVarint(b, 3, uint64(p.Role))
	b = appendBool(b, 4, p.Signed)
	b = appendInt(b, 5, p.SignedAt)
	return appendVarint(b, 6, p.EscrowDeposited)
}

func consumeParty(b []byte, p *model.AgreementParty) error {
	*p = model.AgreementParty{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return setAgreementID(&p.Agreement, data)
		case 2:
			return consumeRef(data, &p.Ref)
		case 3:
			n, err := small(v)
			p.Role = model.Role(n)
			return err
		case 4:
			p.Signed = protowire.DecodeBool(v)
		case 5:
			p.SignedAt = int64(v)
		case 6:
			p.EscrowDeposited = v
		}
		return nil
	})
}

func appendVault(b []byte, v model.Vault) []byte {
	b = appendKey(b, 1, v.Identity)
	b = appendKey(b, 2, v.Authority)
	b = appendVarint(b, 3, v.TotalDeposited)
	b = appendVarint(b, 4, v.TotalWithdrawn)
	return appendVarint(b, 5, v.TotalCommitted)
}

func consumeVault(b []byte, vault *model.Vault) error {
	*vault = model.Vault{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return setKey(&vault.Identity, data)
		case 2:
			return setKey(&vault.Authority, data)
		case 3:
			vault.TotalDeposited = v
		case 4:
			vault.TotalWithdrawn = v
		case 5:
			vault.TotalCommitted = v
		}
		return nil
	})
}
