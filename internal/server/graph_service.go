// ABOUTME: Read-mostly gRPC access to a store using well-known protobuf types
// ABOUTME: The service descriptor is declared by hand; records travel as structpb.Struct

package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/entgraph/pkg/codec"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/query"
	"github.com/nainya/entgraph/pkg/store"
)

// GraphServiceName is the fully qualified gRPC service name
const GraphServiceName = "entgraph.v1.GraphService"

// Graph is the store surface exposed over gRPC
type Graph interface {
	Get(id ident.ID) (*ent.Ent, error)
	FindAll(q query.Query) ([]*ent.Ent, error)
	Remove(id ident.ID) (bool, error)
	Stats() store.Stats
}

// GraphServer implements GraphServiceName
type GraphServer interface {
	Get(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	FindByType(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	Remove(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.BoolValue, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// GraphService serves a Graph
type GraphService struct {
	graph Graph
}

// NewGraphService wraps g
func NewGraphService(g Graph) *GraphService {
	return &GraphService{graph: g}
}

// RegisterGraphService registers svc on s
func RegisterGraphService(s grpc.ServiceRegistrar, svc GraphServer) {
	s.RegisterService(&graphServiceDesc, svc)
}

// Get returns one record
func (s *GraphService) Get(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	id := ident.ID(req.GetValue())
	if id == ident.Ephemeral {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	e, err := s.graph.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	if e == nil {
		return nil, status.Errorf(codes.NotFound, "record %d not found", id)
	}
	out, err := codec.RecordToProto(e)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode record %d: %v", id, err)
	}
	return out, nil
}

// FindByType returns every record of one type in insertion order
func (s *GraphService) FindByType(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "type is required")
	}
	found, err := s.graph.FindAll(query.New().OfType(req.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(found))}
	for _, e := range found {
		rec, err := codec.RecordToProto(e)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to encode record %d: %v", e.ID(), err)
		}
		list.Values = append(list.Values, structpb.NewStructValue(rec))
	}
	return list, nil
}

// Remove removes a record and everything its deletion cascades to
func (s *GraphService) Remove(ctx context.Context, req *wrapperspb.UInt64Value) (*wrapperspb.BoolValue, error) {
	id := ident.ID(req.GetValue())
	if id == ident.Ephemeral {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	ok, err := s.graph.Remove(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(ok), nil
}

// Stats summarises the store
func (s *GraphService) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.graph.Stats()
	types := make(map[string]any, len(st.Types))
	for typ, n := range st.Types {
		types[typ] = n
	}
	out, err := structpb.NewStruct(map[string]any{
		"store_id":    st.StoreID,
		"records":     st.Records,
		"types":       types,
		"targets":     st.Targets,
		"dangling":    st.Dangling,
		"references":  st.References,
		"high_water":  uint64(st.HighWater),
		"reclaimable": st.Reclaimable,
		"poisoned":    st.Poisoned,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode stats: %v", err)
	}
	return out, nil
}

// toStatus maps store errors onto gRPC codes
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, ent.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, ent.ErrConstraintViolation):
		code = codes.FailedPrecondition
	case errors.Is(err, ent.ErrInvalidID), errors.Is(err, ent.ErrSchema):
		code = codes.InvalidArgument
	case errors.Is(err, ent.ErrClosed):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GraphServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GraphServiceName + "/Get"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GraphServer).Get(ctx, req.(*wrapperspb.UInt64Value))
	})
}

func findByTypeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GraphServer).FindByType(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GraphServiceName + "/FindByType"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GraphServer).FindByType(ctx, req.(*wrapperspb.StringValue))
	})
}

func removeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GraphServer).Remove(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GraphServiceName + "/Remove"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GraphServer).Remove(ctx, req.(*wrapperspb.UInt64Value))
	})
}

func statsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GraphServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GraphServiceName + "/Stats"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GraphServer).Stats(ctx, req.(*emptypb.Empty))
	})
}

var graphServiceDesc = grpc.ServiceDesc{
	ServiceName: GraphServiceName,
	HandlerType: (*GraphServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "FindByType", Handler: findByTypeHandler},
		{MethodName: "Remove", Handler: removeHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams: []grpc.StreamDesc{},
}
