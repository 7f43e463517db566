package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "lexstore.v1.HistoryService"

// Method names of the HistoryService
const (
	MethodIncorporate          = "Incorporate"
	MethodRemoveLatest         = "RemoveLatest"
	MethodPurge                = "Purge"
	MethodInsertUnavailable    = "InsertUnavailable"
	MethodGetInForce           = "GetInForce"
	MethodSetInForce           = "SetInForce"
	MethodResolve              = "Resolve"
	MethodHistory              = "History"
	MethodChanges              = "Changes"
	MethodVersionsAvailability = "VersionsAvailability"
	MethodHealth               = "Health"
)

// HistoryServiceServer is the server API. Requests and responses are
// JSON-shaped google.protobuf.Struct messages.
type HistoryServiceServer interface {
	Incorporate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveLatest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Purge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InsertUnavailable(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInForce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetInForce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resolve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Changes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VersionsAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(HistoryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HistoryServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HistoryServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// HistoryServiceDesc describes the service for grpc.Server.RegisterService
var HistoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HistoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodIncorporate, HistoryServiceServer.Incorporate),
		unary(MethodRemoveLatest, HistoryServiceServer.RemoveLatest),
		unary(MethodPurge, HistoryServiceServer.Purge),
		unary(MethodInsertUnavailable, HistoryServiceServer.InsertUnavailable),
		unary(MethodGetInForce, HistoryServiceServer.GetInForce),
		unary(MethodSetInForce, HistoryServiceServer.SetInForce),
		unary(MethodResolve, HistoryServiceServer.Resolve),
		unary(MethodHistory, HistoryServiceServer.History),
		unary(MethodChanges, HistoryServiceServer.Changes),
		unary(MethodVersionsAvailability, HistoryServiceServer.VersionsAvailability),
		unary(MethodHealth, HistoryServiceServer.Health),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lexstore/v1/history.proto",
}

// RegisterHistoryServiceServer registers srv with s
func RegisterHistoryServiceServer(s grpc.ServiceRegistrar, srv HistoryServiceServer) {
	s.RegisterService(&HistoryServiceDesc, srv)
}

// HistoryClient calls the HistoryService
type HistoryClient struct {
	cc grpc.ClientConnInterface
}

// NewHistoryClient creates a client over cc
func NewHistoryClient(cc grpc.ClientConnInterface) *HistoryClient {
	return &HistoryClient{cc: cc}
}

// Call invokes method with a raw Struct
func (c *HistoryClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Do encodes req as JSON, invokes method and decodes the response into resp
// (which may be nil).
func (c *HistoryClient) Do(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out, err := c.Call(ctx, method, in, opts...)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return FromStruct(out, resp)
}

// ToStruct converts any JSON-encodable value into a Struct
func ToStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// FromStruct decodes a Struct into v through its JSON form
func FromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
