package rpc

import (
	"bytes"
	"os"
	"regexp"
	"sort"
	"strings"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ppiankov/pactwatch/internal/model"
)

func TestAgentRequestFieldLayout(t *testing.T) {
	k := model.Key{0x01, 0x02}
	got, err := Codec.Marshal(&AgentRequest{AgentKey: k})
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0x0a, 0x20}, k[:]...)
	if !bytes.Equal(got, want) {
		t.Errorf("expected field 1 as 32 raw bytes\n got %x\nwant %x", got, want)
	}

	empty, _ := Codec.Marshal(&AgentRequest{})
	if len(empty) != 0 {
		t.Errorf("expected zero key to be omitted, got %x", empty)
	}
}

func TestSignResponseSurvivesWire(t *testing.T) {
	in := &SignResponse{
		Agreement: model.Agreement{
			ID:           model.AgreementID{0x42},
			Type:         model.TypeJointVenture,
			Status:       model.StatusActive,
			Proposer:     model.Key{0xA2},
			TermsURI:     "ipfs://terms",
			EscrowTotal:  1<<64 - 1,
			NumParties:   3,
			NumSigned:    3,
			PartiesAdded: 3,
			CreatedAt:    -5,
		},
		Party: model.AgreementParty{
			Agreement:       model.AgreementID{0x42},
			Ref:             model.DirectRef(model.Key{0xB2}),
			Role:            model.RoleWitness,
			Signed:          true,
			EscrowDeposited: 1<<63 + 7,
		},
		Activated: true,
	}
	data, err := Codec.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out SignResponse
	if err := Codec.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out != *in {
		t.Errorf("decoded message differs\n got %+v\nwant %+v", out, *in)
	}
}

func TestListFilterPresence(t *testing.T) {
	proposed := model.StatusProposed
	public := model.VisibilityPublic
	var zero model.Key
	in := &ListAgreementsRequest{Status: &proposed, Visibility: &public, Party: &zero, Limit: 5}

	data, _ := Codec.Marshal(in)
	var out ListAgreementsRequest
	if err := Codec.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Status == nil || *out.Status != model.StatusProposed {
		t.Errorf("expected status filter proposed to survive, got %v", out.Status)
	}
	if out.Visibility == nil || out.Party == nil || out.Type != nil {
		t.Errorf("unexpected filter presence %+v", out)
	}
	if out.Limit != 5 || out.Offset != 0 {
		t.Errorf("unexpected paging %d/%d", out.Limit, out.Offset)
	}
}

func TestNegativePagingSurvivesWire(t *testing.T) {
	data, _ := Codec.Marshal(&ListIdentitiesRequest{Offset: -3})
	var out ListIdentitiesRequest
	if err := Codec.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Offset != -3 || out.Authority != nil {
		t.Errorf("unexpected request %+v", out)
	}
}

func TestDecodeRejectsMalformedFields(t *testing.T) {
	shortKey := protowire.AppendTag(nil, 1, protowire.BytesType)
	shortKey = protowire.AppendBytes(shortKey, []byte{0x01, 0x02})
	if err := Codec.Unmarshal(shortKey, &AgentRequest{}); err == nil {
		t.Error("expected short key to be rejected")
	}

	bigRole := protowire.AppendTag(nil, 3, protowire.VarintType)
	bigRole = protowire.AppendVarint(bigRole, 256)
	if err := Codec.Unmarshal(bigRole, &AddPartyRequest{}); err == nil {
		t.Error("expected role above one byte to be rejected")
	}

	badKind := protowire.AppendTag(nil, 1, protowire.VarintType)
	badKind = protowire.AppendVarint(badKind, 9)
	ref := protowire.AppendTag(nil, 2, protowire.BytesType)
	ref = protowire.AppendBytes(ref, badKind)
	if err := Codec.Unmarshal(ref, &PartyRequest{}); err == nil {
		t.Error("expected unknown party ref kind to be rejected")
	}

	if err := Codec.Unmarshal([]byte{0x0a, 0x05, 0x01}, &AgentRequest{}); err == nil {
		t.Error("expected truncated message to be rejected")
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	data, _ := Codec.Marshal(&VaultRequest{AgentKey: model.Key{0x22}, Amount: 9})
	data = protowire.AppendTag(data, 99, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 1)
	data = protowire.AppendTag(data, 100, protowire.BytesType)
	data = protowire.AppendString(data, "later")

	var out VaultRequest
	if err := Codec.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.AgentKey != (model.Key{0x22}) || out.Amount != 9 {
		t.Errorf("unexpected request %+v", out)
	}
}

func TestCodecPassesGeneratedMessages(t *testing.T) {
	data, err := Codec.Marshal(&healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatal(err)
	}
	var out healthpb.HealthCheckRequest
	if err := Codec.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.GetService() != ServiceName {
		t.Errorf("expected %q, got %q", ServiceName, out.GetService())
	}

	if _, err := Codec.Marshal(struct{}{}); err == nil {
		t.Error("expected unknown type to be rejected")
	}
}

func TestProtoFileListsEveryMethod(t *testing.T) {
	src, err := os.ReadFile("../../api/proto/" + ServiceDesc.Metadata.(string))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(src), "service "+strings.TrimPrefix(ServiceName, "pactwatch.v1.")+" {") {
		t.Errorf("expected service %s in proto file", ServiceName)
	}

	var declared []string
	for _, m := range regexp.MustCompile(`(?m)^\s*rpc (\w+)\(`).FindAllStringSubmatch(string(src), -1) {
		declared = append(declared, m[1])
	}
	var served []string
	for _, m := range ServiceDesc.Methods {
		served = append(served, m.MethodName)
	}
	sort.Strings(declared)
	sort.Strings(served)
	if strings.Join(declared, ",") != strings.Join(served, ",") {
		t.Errorf("proto methods differ from served methods\nproto:  %v\nserved: %v", declared, served)
	}
}
