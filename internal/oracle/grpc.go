package oracle

import (
	"context"
	"fmt"

	"github.com/rodline/procopt/internal/policy"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const predictMethod = "/procopt.oracle.v1.PredictionService/Predict"

// GRPCOracle calls PredictionService/Predict with structpb payloads keyed by external feature names
type GRPCOracle struct {
	conn     grpc.ClientConnInterface
	owned    *grpc.ClientConn
	features []string
	guard    *guard
}

// NewGRPCOracle dials cfg.Addr
func NewGRPCOracle(cfg config.OracleConfig, features []string) (*GRPCOracle, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", cfg.Addr, err)
	}
	o := NewGRPCOracleWithConn(conn, cfg, features)
	o.owned = conn
	return o, nil
}

// NewGRPCOracleWithConn creates an oracle on an existing connection, which the caller keeps owning
func NewGRPCOracleWithConn(conn grpc.ClientConnInterface, cfg config.OracleConfig, features []string) *GRPCOracle {
	return &GRPCOracle{
		conn:     conn,
		features: append([]string(nil), features...),
		guard:    newGuard(predictMethod, cfg.Timeout(), policy.NewPolicyManager(cfg)),
	}
}

// Predict implements PredictionOracle
func (o *GRPCOracle) Predict(ctx context.Context, features []float64) Outcome {
	if len(features) != len(o.features) {
		return Failure(&FeatureCountError{Got: len(features), Want: len(o.features)})
	}
	fields := make(map[string]any, len(features))
	for i, name := range o.features {
		fields[name] = features[i]
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return Failure(fmt.Errorf("encode prediction request: %w", err))
	}

	return o.guard.do(ctx, func(ctx context.Context) (models.Triplet, error) {
		resp := new(structpb.Struct)
		if err := o.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
			switch status.Code(err) {
			case codes.InvalidArgument, codes.NotFound, codes.Unimplemented, codes.FailedPrecondition:
				return models.Triplet{}, policy.Permanent(fmt.Errorf("predict rpc: %w", err))
			}
			return models.Triplet{}, fmt.Errorf("predict rpc: %w", err)
		}
		return tripletFromStruct(resp)
	})
}

// Close closes the connection when the oracle dialed it
func (o *GRPCOracle) Close() error {
	if o.owned == nil {
		return nil
	}
	return o.owned.Close()
}

func tripletFromStruct(s *structpb.Struct) (models.Triplet, error) {
	var t models.Triplet
	for i, name := range models.PropertyNames {
		v, ok := s.GetFields()[name]
		if !ok {
			return t, policy.Permanent(&InvalidPredictionError{Reason: "response is missing " + name})
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return t, policy.Permanent(&InvalidPredictionError{Reason: name + " is not a number"})
		}
		t[i] = n.NumberValue
	}
	return t, nil
}
