package optd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rodline/procopt/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const sessionServiceName = "procopt.v1.SessionService"

// SessionServer is the server side of procopt.v1.SessionService. Requests
// and responses are JSON-shaped Structs mirroring the HTTP API.
type SessionServer interface {
	CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetDesired(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Optimize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Undo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type sessionMethod func(SessionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call sessionMethod) grpc.MethodDesc {
	fullMethod := "/" + sessionServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SessionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SessionServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SessionServiceDesc describes procopt.v1.SessionService
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateSession", SessionServer.CreateSession),
		unaryHandler("GetState", SessionServer.GetState),
		unaryHandler("SetDesired", SessionServer.SetDesired),
		unaryHandler("Optimize", SessionServer.Optimize),
		unaryHandler("Undo", SessionServer.Undo),
		unaryHandler("Reset", SessionServer.Reset),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procopt/v1/session.proto",
}

// SessionGRPCServer implements SessionServer on a Service
type SessionGRPCServer struct {
	service *Service
}

// NewSessionGRPCServer creates the gRPC front end of service
func NewSessionGRPCServer(service *Service) *SessionGRPCServer {
	return &SessionGRPCServer{service: service}
}

// RegisterSessionService registers srv on s
func RegisterSessionService(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

func (s *SessionGRPCServer) CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in CreateRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	sess, err := s.service.Create(ctx, in)
	if err != nil {
		return nil, statusError(err)
	}
	logger.Info("session created (gRPC)", "session_id", sess.ID())
	return toStruct(map[string]any{"session": sess.Snapshot()})
}

func (s *SessionGRPCServer) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	state, err := s.service.State(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(state)
}

func (s *SessionGRPCServer) SetDesired(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	var in struct {
		Desired *Desired `json:"desired"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.Desired == nil {
		return nil, status.Error(codes.InvalidArgument, "desired is required")
	}
	snap, err := s.service.SetDesired(ctx, id, *in.Desired)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(map[string]any{"session": snap})
}

func (s *SessionGRPCServer) Optimize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	var in OptimizeRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	resp, err := s.service.Optimize(ctx, id, in.Parameters)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(resp)
}

func (s *SessionGRPCServer) Undo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	snap, err := s.service.Undo(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(map[string]any{"session": snap})
}

func (s *SessionGRPCServer) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	snap, err := s.service.Reset(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(map[string]any{"session": snap})
}

func statusError(err error) error {
	return status.Error(classify(err).grpc, err.Error())
}

func sessionID(req *structpb.Struct) (string, error) {
	id := req.GetFields()["session_id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "session_id is required")
	}
	return id, nil
}

// fromStruct decodes a Struct into v through its JSON form, ignoring session_id
func fromStruct(req *structpb.Struct, v any) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	fields := req.AsMap()
	delete(fields, "session_id")
	data, err := json.Marshal(fields)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

// toStruct encodes v as a Struct through its JSON form
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
