// Package relay implements the transport over a rendezvous gRPC hub: every
// instance keeps one bidirectional stream to the hub at its entry point, and
// the hub forwards frames between registered peers.
package relay

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Frames travel as protobuf BytesValue so no protoc toolchain is needed.
// Proto definition: relay.proto.

const exchangeMethod = "/paircloud.relay.v1.Relay/Exchange"

// RelayServer is the server API for the Relay service.
type RelayServer interface {
	Exchange(Relay_ExchangeServer) error
}

// UnimplementedRelayServer can be embedded to have forward compatible implementations.
type UnimplementedRelayServer struct{}

func (UnimplementedRelayServer) Exchange(Relay_ExchangeServer) error {
	return status.Error(codes.Unimplemented, "method Exchange not implemented")
}

// RegisterRelayServer registers the Relay service on a gRPC server.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&Relay_ServiceDesc, srv)
}

type Relay_ExchangeServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type relayExchangeServer struct{ grpc.ServerStream }

func (x *relayExchangeServer) Send(m *wrapperspb.BytesValue) error { return x.ServerStream.SendMsg(m) }

func (x *relayExchangeServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Relay_Exchange_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RelayServer).Exchange(&relayExchangeServer{stream})
}

// RelayClient is the client API for the Relay service.
type RelayClient interface {
	Exchange(ctx context.Context, opts ...grpc.CallOption) (Relay_ExchangeClient, error)
}

type relayClient struct{ cc grpc.ClientConnInterface }

func NewRelayClient(cc grpc.ClientConnInterface) RelayClient { return &relayClient{cc: cc} }

func (c *relayClient) Exchange(ctx context.Context, opts ...grpc.CallOption) (Relay_ExchangeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Relay_ServiceDesc.Streams[0], exchangeMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &relayExchangeClient{stream}, nil
}

type Relay_ExchangeClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type relayExchangeClient struct{ grpc.ClientStream }

func (x *relayExchangeClient) Send(m *wrapperspb.BytesValue) error { return x.ClientStream.SendMsg(m) }

func (x *relayExchangeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Relay_ServiceDesc is the grpc.ServiceDesc for Relay service.
var Relay_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "paircloud.relay.v1.Relay",
	HandlerType: (*RelayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       _Relay_Exchange_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay.proto",
}
