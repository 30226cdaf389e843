package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "badgekeeper.v1.RuleService"

// Method names. Requests and responses are google.protobuf.Struct.
const (
	MethodLoadRule   = "LoadRule"
	MethodGetRule    = "GetRule"
	MethodDeleteRule = "DeleteRule"
	MethodListRules  = "ListRules"
	MethodEvaluate   = "Evaluate"
	MethodStats      = "Stats"
)

// RuleServiceServer is the server API for badgekeeper.v1.RuleService.
type RuleServiceServer interface {
	LoadRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(RuleServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// handler adapts a server method to a grpc method handler, routing through
// the interceptor chain the way generated code does.
func handler(name string, call unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RuleServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RuleServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc describes badgekeeper.v1.RuleService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodLoadRule, Handler: handler(MethodLoadRule, RuleServiceServer.LoadRule)},
		{MethodName: MethodGetRule, Handler: handler(MethodGetRule, RuleServiceServer.GetRule)},
		{MethodName: MethodDeleteRule, Handler: handler(MethodDeleteRule, RuleServiceServer.DeleteRule)},
		{MethodName: MethodListRules, Handler: handler(MethodListRules, RuleServiceServer.ListRules)},
		{MethodName: MethodEvaluate, Handler: handler(MethodEvaluate, RuleServiceServer.Evaluate)},
		{MethodName: MethodStats, Handler: handler(MethodStats, RuleServiceServer.Stats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "badgekeeper/v1/rules.proto",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv RuleServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls badgekeeper.v1.RuleService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req. A nil req sends an empty Struct.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
