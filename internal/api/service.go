package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "readiness.v1.ReadinessEngine"

// Method names exposed by the service. Requests and responses are google.protobuf.Struct
// documents whose fields use the same snake_case names as the JSON models.
const (
	MethodDetectSignals       = "DetectSignals"
	MethodDetectPatterns      = "DetectPatterns"
	MethodUpdatePatternStatus = "UpdatePatternStatus"
	MethodExtractLearnings    = "ExtractLearnings"
	MethodMarkLearningApplied = "MarkLearningApplied"
	MethodCalculateReadiness  = "CalculateReadiness"
	MethodReadinessHistory    = "ListReadinessHistory"
	MethodGetSystemStatus     = "GetSystemStatus"
	MethodGetActivityFeed     = "GetActivityFeed"
	MethodRunCycle            = "RunCycle"
	MethodListSignals         = "ListSignals"
	MethodListPatterns        = "ListPatterns"
	MethodListLearnings       = "ListLearnings"
)

// ReadinessEngineServer is the server API for the ReadinessEngine service.
type ReadinessEngineServer interface {
	DetectSignals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DetectPatterns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdatePatternStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExtractLearnings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkLearningApplied(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CalculateReadiness(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReadinessHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSystemStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetActivityFeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunCycle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSignals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPatterns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLearnings(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ReadinessEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ReadinessEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ReadinessEngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the ReadinessEngine service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReadinessEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodDetectSignals, ReadinessEngineServer.DetectSignals),
		unaryHandler(MethodDetectPatterns, ReadinessEngineServer.DetectPatterns),
		unaryHandler(MethodUpdatePatternStatus, ReadinessEngineServer.UpdatePatternStatus),
		unaryHandler(MethodExtractLearnings, ReadinessEngineServer.ExtractLearnings),
		unaryHandler(MethodMarkLearningApplied, ReadinessEngineServer.MarkLearningApplied),
		unaryHandler(MethodCalculateReadiness, ReadinessEngineServer.CalculateReadiness),
		unaryHandler(MethodReadinessHistory, ReadinessEngineServer.ListReadinessHistory),
		unaryHandler(MethodGetSystemStatus, ReadinessEngineServer.GetSystemStatus),
		unaryHandler(MethodGetActivityFeed, ReadinessEngineServer.GetActivityFeed),
		unaryHandler(MethodRunCycle, ReadinessEngineServer.RunCycle),
		unaryHandler(MethodListSignals, ReadinessEngineServer.ListSignals),
		unaryHandler(MethodListPatterns, ReadinessEngineServer.ListPatterns),
		unaryHandler(MethodListLearnings, ReadinessEngineServer.ListLearnings),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "readiness/v1/readiness.proto",
}

// RegisterReadinessEngineServer registers srv on s.
func RegisterReadinessEngineServer(s grpc.ServiceRegistrar, srv ReadinessEngineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is a thin caller for the ReadinessEngine service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with the given request fields.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
