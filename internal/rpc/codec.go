// Package rpc defines the pactwatch gRPC service: its descriptor, message
// types, protobuf wire encoding, and error mapping. Server and client both
// build on it.
package rpc

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// CodecName is the content subtype the codec answers to. Calls go out as
// plain application/grpc, so any protobuf client built from
// api/proto/pactwatch/v1/protocol.proto can talk to the server.
const CodecName = "proto"

// Codec encodes ProtocolService messages by the field numbers in
// protocol.proto. Generated protobuf messages, such as the health service's,
// go through the protobuf runtime unchanged.
var Codec = wireCodec{}

type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case wireMessage:
		return m.marshalWire(nil), nil
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("rpc: cannot marshal %T", v)
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case wireMessage:
		if err := m.unmarshalWire(data); err != nil {
			return fmt.Errorf("rpc: decode %T: %w", v, err)
		}
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("rpc: cannot unmarshal into %T", v)
}

func (wireCodec) Name() string { return CodecName }

// ServerOption installs the codec on a grpc.Server.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(Codec)
}

// CallOption installs the codec on a client call.
func CallOption() grpc.CallOption {
	return grpc.ForceCodec(Codec)
}
