package oracle

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// PredictionServer is the server side of PredictionService
type PredictionServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// PredictionServiceDesc describes procopt.oracle.v1.PredictionService
var PredictionServiceDesc = grpc.ServiceDesc{
	ServiceName: "procopt.oracle.v1.PredictionService",
	HandlerType: (*PredictionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procopt/oracle/v1/prediction.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictionServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PredictionServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterPredictionService exposes o over gRPC, reading features by external name
func RegisterPredictionService(s grpc.ServiceRegistrar, o PredictionOracle, features []string) {
	s.RegisterService(&PredictionServiceDesc, &predictionService{oracle: o, features: features})
}

type predictionService struct {
	oracle   PredictionOracle
	features []string
}

func (p *predictionService) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	values := make([]float64, len(p.features))
	for i, name := range p.features {
		v, ok := req.GetFields()[name]
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "missing feature %s", name)
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "feature %s is not a number", name)
		}
		values[i] = n.NumberValue
	}

	out := p.oracle.Predict(ctx, values)
	if !out.OK() {
		return nil, status.Error(codes.Unavailable, out.Err.Error())
	}
	return structpb.NewStruct(map[string]any{
		"uts":          out.Prediction[0],
		"elongation":   out.Prediction[1],
		"conductivity": out.Prediction[2],
	})
}
