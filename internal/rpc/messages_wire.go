package rpc

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ppiankov/pactwatch/internal/model"
)

// wireMessage is implemented by every ProtocolService request and response.
type wireMessage interface {
	marshalWire(b []byte) []byte
	unmarshalWire(b []byte) error
}

var (
	_ wireMessage = (*RegisterIdentityRequest)(nil)
	_ wireMessage = (*RegisterSubAgentRequest)(nil)
	_ wireMessage = (*UpdateDelegationRequest)(nil)
	_ wireMessage = (*AgentRequest)(nil)
	_ wireMessage = (*ProposeRequest)(nil)
	_ wireMessage = (*AddPartyRequest)(nil)
	_ wireMessage = (*PartyRequest)(nil)
	_ wireMessage = (*AgreementRequest)(nil)
	_ wireMessage = (*CommitEscrowRequest)(nil)
	_ wireMessage = (*VaultRequest)(nil)
	_ wireMessage = (*ListAgreementsRequest)(nil)
	_ wireMessage = (*ListIdentitiesRequest)(nil)
	_ wireMessage = (*Empty)(nil)
	_ wireMessage = (*IdentityResponse)(nil)
	_ wireMessage = (*AgreementResponse)(nil)
	_ wireMessage = (*PartyResponse)(nil)
	_ wireMessage = (*SignResponse)(nil)
	_ wireMessage = (*CloseResponse)(nil)
	_ wireMessage = (*VaultResponse)(nil)
	_ wireMessage = (*AgreementViewResponse)(nil)
	_ wireMessage = (*ListAgreementsResponse)(nil)
	_ wireMessage = (*ListIdentitiesResponse)(nil)
	_ wireMessage = (*AgentStatsResponse)(nil)
)

// --- Requests ---

func (m *RegisterIdentityRequest) marshalWire(b []byte) []byte {
	b = appendKey(b, 1, m.AgentKey)
	b = appendDigest(b, 2, m.Metadata)
	return appendDelimited(b, 3, appendScope(nil, m.Scope))
}

func (m *RegisterIdentityRequest) unmarshalWire(b []byte) error {
	*m = RegisterIdentityRequest{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		switch num {
		case 1:
			return setKey(&m.AgentKey, data)
		case 2:
			return setDigest(&m.Metadata, data)
		case 3:
			return consumeScope(data, &m.Scope)
		}
		return nil
	})
}

func (m *RegisterSubAgentRequest) marshalWire(b []byte) []byte {
	b = appendKey(b, 1, m.ParentKey)
	b = appendKey(b, 2, m.SubKey)
	b = appendDigest(b, 3, m.Metadata)
	return appendDelimited(b, 4, appendScope(nil, m.Scope))
}

func (m *RegisterSubAgentRequest) unmarshalWire(b []byte) error {
	*m = RegisterSubAgentRequest{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		switch num {
		case 1:
			return setKey(&m.ParentKey, data)
		case 2:
			return setKey(&m.SubKey, data)
		case 3:
			return setDigest(&m.Metadata, data)
		case 4:
			return consumeScope(data, &m.Scope)
		}
		return nil
	})
}

func (m *UpdateDelegationRequest) marshalWire(b []byte) []byte {
	b = appendKey(b, 1, m.AgentKey)
	return appendDelimited(b, 2, appendScope(nil, m.Scope))
}

func (m *UpdateDelegationRequest) unmarshalWire(b []byte) error {
	*m = UpdateDelegationRequest{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		switch num {
		case 1:
			return setKey(&m.AgentKey, data)
		case 2:
			return consumeScope(data, &m.Scope)
		}
		return nil
	})
}

func (m *AgentRequest) marshalWire(b []byte) []byte { return appendKey(b, 1, m.AgentKey) }

func (m *AgentRequest) unmarshalWire(b []byte) error {
	*m = AgentRequest{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		if num == 1 {
			return setKey(&m.AgentKey, data)
		}
		return nil
	})
}

func (m *ProposeRequest) marshalWire(b []byte) []byte {
	b = appendAgreementID(b, 1, m.ID)
	b = appendVarint(b, 2, uint64(m.Type))
	b = appendVarint(b, 3, uint64(m.Visibility))
	b = appendDigest(b, 4, m.TermsHash)
	b = appendString(b, 5, m.TermsURI)
	b = appendVarint(b, 6, uint64(m.NumParties))
	return appendInt(b, 7, m.ExpiresAt)
}

func (m *ProposeRequest) unmarshalWire(b []byte) error {
	*m = ProposeRequest{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		var err error
		var n uint8
		switch num {
		case 1:
			return setAgreementID(&m.ID, data)
		case 2:
			n, err = small(v)
			m.Type = model.AgreementType(n)
		case 3:
			n, err = small(v)
			m.Visibility = model.Visibility(n)
		case 4:
			return setDigest(&m.TermsHash, data)
		case 5:
			m.TermsURI = string(data)
		case 6:
			m.NumParties, err = small(v)
		case 7:
			m.ExpiresAt = int64(v)
		}
		return err
	})
}

func (m *AddPartyRequest) marshalWire(b []byte) []byte {
	b = appendAgreementID(b, 1, m.AgreementID)
	b = appendDelimited(b, 2, appendRef(nil, m.Party))
	return appendVarint(b, 3, uint64(m.Role))
}

func (m *AddPartyRequest) unmarshalWire(b []byte) error {
	*m = AddPartyRequest{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return setAgreementID(&m.AgreementID, data)
		case 2:
			return consumeRef(data, &m.Party)
		case 3:
			n, err := small(v)
			m.Role = model.Role(n)
			return err
		}
		return nil
	})
}

func (m *PartyRequest) marshalWire(b []byte) []byte {
	b = appendAgreementID(b, 1, m.AgreementID)
	return appendDelimited(b, 2, appendRef(nil, m.Party))
}

func (m *PartyRequest) unmarshalWire(b []byte) error {
	*m = PartyRequest{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		switch num {
		case 1:
			return setAgreementID(&m.AgreementID, data)
		case 2:
			return consumeRef(data, &m.Party)
		}
		return nil
	})
}

func (m *AgreementRequest) marshalWire(b []byte) []byte {
	return appendAgreementID(b, 1, m.AgreementID)
}

func (m *AgreementRequest) unmarshalWire(b []byte) error {
	*m = AgreementRequest{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		if num == 1 {
			return setAgreementID(&m.AgreementID, data)
		}
		return nil
	})
}

func (m *CommitEscrowRequest) marshalWire(b []byte) []byte {
	b = appendAgreementID(b, 1, m.AgreementID)
	b = appendKey(b, 2, m.AgentKey)
	return appendVarint(b, 3, m.Amount)
}

func (m *CommitEscrowRequest) unmarshalWire(b []byte) error {
	*m = CommitEscrowRequest{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return setAgreementID(&m.AgreementID, data)
		case 2:
			return setKey(&m.AgentKey, data)
		case 3:
			m.Amount = v
		}
		return nil
	})
}

func (m *VaultRequest) marshalWire(b []byte) []byte {
	b = appendKey(b, 1, m.AgentKey)
	return appendVarint(b, 2, m.Amount)
}

func (m *VaultRequest) unmarshalWire(b []byte) error {
	*m = VaultRequest{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return setKey(&m.AgentKey, data)
		case 2:
			m.Amount = v
		}
		return nil
	})
}

func (m *ListAgreementsRequest) marshalWire(b []byte) []byte {
	if m.Status != nil {
		b = appendPresent(b, 1, uint64(*m.Status))
	}
	if m.Type != nil {
		b = appendPresent(b, 2, uint64(*m.Type))
	}
	if m.Visibility != nil {
		b = appendPresent(b, 3, uint64(*m.Visibility))
	}
	if m.Party != nil {
		b = appendDelimited(b, 4, m.Party[:])
	}
	b = appendInt(b, 5, int64(m.Limit))
	return appendInt(b, 6, int64(m.Offset))
}

func (m *ListAgreementsRequest) unmarshalWire(b []byte) error {
	*m = ListAgreementsRequest{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			n, err := small(v)
			st := model.Status(n)
			m.Status = &st
			return err
		case 2:
			n, err := small(v)
			t := model.AgreementType(n)
			m.Type = &t
			return err
		case 3:
			n, err := small(v)
			vis := model.Visibility(n)
			m.Visibility = &vis
			return err
		case 4:
			var k model.Key
			if err := setKey(&k, data); err != nil {
				return err
			}
			m.Party = &k
		case 5:
			m.Limit = toInt(v)
		case 6:
			m.Offset = toInt(v)
		}
		return nil
	})
}

func (m *ListIdentitiesRequest) marshalWire(b []byte) []byte {
	if m.Authority != nil {
		b = appendDelimited(b, 1, m.Authority[:])
	}
	b = appendInt(b, 2, int64(m.Limit))
	return appendInt(b, 3, int64(m.Offset))
}

func (m *ListIdentitiesRequest) unmarshalWire(b []byte) error {
	*m = ListIdentitiesRequest{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			var k model.Key
			if err := setKey(&k, data); err != nil {
				return err
			}
			m.Authority = &k
		case 2:
			m.Limit = toInt(v)
		case 3:
			m.Offset = toInt(v)
		}
		return nil
	})
}

// --- Responses ---

func (m *Empty) marshalWire(b []byte) []byte { return b }

func (m *Empty) unmarshalWire(b []byte) error {
	return walk(b, func(protowire.Number, uint64, []byte) error { return nil })
}

func (m *IdentityResponse) marshalWire(b []byte) []byte {
	return appendDelimited(b, 1, appendIdentity(nil, m.Identity))
}

func (m *IdentityResponse) unmarshalWire(b []byte) error {
	*m = IdentityResponse{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		if num == 1 {
			return consumeIdentity(data, &m.Identity)
		}
		return nil
	})
}

func (m *AgreementResponse) marshalWire(b []byte) []byte {
	return appendDelimited(b, 1, appendAgreement(nil, m.Agreement))
}

func (m *AgreementResponse) unmarshalWire(b []byte) error {
	*m = AgreementResponse{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		if num == 1 {
			return consumeAgreement(data, &m.Agreement)
		}
		return nil
	})
}

func (m *PartyResponse) marshalWire(b []byte) []byte {
	return appendDelimited(b, 1, appendParty(nil, m.Party))
}

func (m *PartyResponse) unmarshalWire(b []byte) error {
	*m = PartyResponse{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		if num == 1 {
			return consumeParty(data, &m.Party)
		}
		return nil
	})
}

func (m *SignResponse) marshalWire(b []byte) []byte {
	b = appendDelimited(b, 1, appendAgreement(nil, m.Agreement))
	b = appendDelimited(b, 2, appendParty(nil, m.Party))
	return appendBool(b, 3, m.Activated)
}

func (m *SignResponse) unmarshalWire(b []byte) error {
	*m = SignResponse{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return consumeAgreement(data, &m.Agreement)
		case 2:
			return consumeParty(data, &m.Party)
		case 3:
			m.Activated = protowire.DecodeBool(v)
		}
		return nil
	})
}

func (m *CloseResponse) marshalWire(b []byte) []byte {
	b = appendBool(b, 1, m.AgreementDeleted)
	return appendVarint(b, 2, m.Released)
}

func (m *CloseResponse) unmarshalWire(b []byte) error {
	*m = CloseResponse{}
	return walk(b, func(num protowire.Number, v uint64, _ []byte) error {
		switch num {
		case 1:
			m.AgreementDeleted = protowire.DecodeBool(v)
		case 2:
			m.Released = v
		}
		return nil
	})
}

func (m *VaultResponse) marshalWire(b []byte) []byte {
	return appendDelimited(b, 1, appendVault(nil, m.Vault))
}

func (m *VaultResponse) unmarshalWire(b []byte) error {
	*m = VaultResponse{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		if num == 1 {
			return consumeVault(data, &m.Vault)
		}
		return nil
	})
}

func (m *AgreementViewResponse) marshalWire(b []byte) []byte {
	b = appendDelimited(b, 1, appendAgreement(nil, m.Agreement))
	for _, p := range m.Parties {
		b = appendDelimited(b, 2, appendParty(nil, p))
	}
	return b
}

func (m *AgreementViewResponse) unmarshalWire(b []byte) error {
	*m = AgreementViewResponse{}
	return walk(b, func(num protowire.Number, _ uint64, data []byte) error {
		switch num {
		case 1:
			return consumeAgreement(data, &m.Agreement)
		case 2:
			var p model.AgreementParty
			if err := consumeParty(data, &p); err != nil {
				return err
			}
			m.Parties = append(m.Parties, p)
		}
		return nil
	})
}

func (m *ListAgreementsResponse) marshalWire(b []byte) []byte {
	for _, a := range m.Agreements {
		b = appendDelimited(b, 1, appendAgreement(nil, a))
	}
	return appendInt(b, 2, int64(m.Total))
}

func (m *ListAgreementsResponse) unmarshalWire(b []byte) error {
	*m = ListAgreementsResponse{Agreements: []model.Agreement{}}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			var a model.Agreement
			if err := consumeAgreement(data, &a); err != nil {
				return err
			}
			m.Agreements = append(m.Agreements, a)
		case 2:
			m.Total = toInt(v)
		}
		return nil
	})
}

func (m *ListIdentitiesResponse) marshalWire(b []byte) []byte {
	for _, id := range m.Identities {
		b = appendDelimited(b, 1, appendIdentity(nil, id))
	}
	return appendInt(b, 2, int64(m.Total))
}

func (m *ListIdentitiesResponse) unmarshalWire(b []byte) error {
	*m = ListIdentitiesResponse{Identities: []model.AgentIdentity{}}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			var id model.AgentIdentity
			if err := consumeIdentity(data, &id); err != nil {
				return err
			}
			m.Identities = append(m.Identities, id)
		case 2:
			m.Total = toInt(v)
		}
		return nil
	})
}

func (m *AgentStatsResponse) marshalWire(b []byte) []byte {
	b = appendKey(b, 1, m.AgentKey)
	b = appendInt(b, 2, int64(m.TotalAgreements))
	b = appendInt(b, 3, int64(m.ActiveCount))
	b = appendInt(b, 4, int64(m.FulfilledCount))
	return appendVarint(b, 5, m.EscrowVolume)
}

func (m *AgentStatsResponse) unmarshalWire(b []byte) error {
	*m = AgentStatsResponse{}
	return walk(b, func(num protowire.Number, v uint64, data []byte) error {
		switch num {
		case 1:
			return setKey(&m.AgentKey, data)
		case 2:
			m.TotalAgreements = toInt(v)
		case 3:
			m.ActiveCount = toInt(v)
		case 4:
			m.FulfilledCount = toInt(v)
		case 5:
			m.EscrowVolume = v
		}
		return nil
	})
}
