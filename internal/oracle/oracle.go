// Package oracle provides the prediction-model boundary: the Outcome type,
// an in-process adapter and HTTP / gRPC clients for a remote model service.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/models"
)

// ErrCircuitOpen is returned without calling the model while its circuit breaker is open
var ErrCircuitOpen = errors.New("oracle circuit open")

// Outcome is the result of one prediction: a triplet or the reason there is none
type Outcome struct {
	Prediction models.Triplet
	Err        error
}

// Success wraps a prediction
func Success(t models.Triplet) Outcome {
	return Outcome{Prediction: t}
}

// Failure wraps a prediction error
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// OK reports whether the outcome carries a usable prediction
func (o Outcome) OK() bool {
	return o.Err == nil
}

// PredictionOracle maps a feature vector, in parameter-set order, to predicted properties
type PredictionOracle interface {
	Predict(ctx context.Context, features []float64) Outcome
}

// Client is a PredictionOracle holding a connection that must be released
type Client interface {
	PredictionOracle
	io.Closer
}

// Func adapts an in-process model function to PredictionOracle
type Func func(ctx context.Context, features []float64) (models.Triplet, error)

// Predict calls f and validates the result
func (f Func) Predict(ctx context.Context, features []float64) Outcome {
	t, err := f(ctx, features)
	if err != nil {
		return Failure(err)
	}
	if !t.IsFinite() {
		return Failure(&InvalidPredictionError{Reason: fmt.Sprintf("non-finite prediction %v", t)})
	}
	return Success(t)
}

// InvalidPredictionError indicates a response that does not hold three finite properties
type InvalidPredictionError struct {
	Reason string
}

func (e *InvalidPredictionError) Error() string {
	return "invalid prediction: " + e.Reason
}

// FeatureCountError indicates a feature vector that does not match the model's inputs
type FeatureCountError struct {
	Got  int
	Want int
}

func (e *FeatureCountError) Error() string {
	return fmt.Sprintf("oracle expects %d features, got %d", e.Want, e.Got)
}

// NewClient builds the remote oracle described by cfg. The model receives
// features under their external names, listed here in feature order.
func NewClient(cfg config.OracleConfig, features []string) (Client, error) {
	switch cfg.Kind {
	case "http":
		return NewHTTPOracle(cfg, features), nil
	case "grpc":
		o, err := NewGRPCOracle(cfg, features)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown oracle kind: %s", cfg.Kind)
	}
}

// ExternalFeatures returns the external names of canonical in order
func ExternalFeatures(mapping *models.NameMapping, canonical []string) ([]string, error) {
	out := make([]string, len(canonical))
	for i, name := range canonical {
		ext, ok := mapping.External(name)
		if !ok {
			return nil, &models.UnknownParameterError{Name: name}
		}
		out[i] = ext
	}
	return out, nil
}
