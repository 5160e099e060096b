package oracle

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/models"
)

func testOracleConfig(kind string) config.OracleConfig {
	return config.OracleConfig{
		Kind:      kind,
		TimeoutMs: 1000,
		Retries: &config.RetryPolicy{
			Enabled:    true,
			MaxRetries: 2,
			Backoff:    "constant",
			BaseMs:     1,
		},
		CircuitBreaker: &config.CircuitBreakerPolicy{
			Enabled:          true,
			FailureThreshold: 100,
			SuccessThreshold: 1,
			TimeoutMs:        60000,
		},
	}
}

func TestFuncPredict(t *testing.T) {
	f := Func(func(_ context.Context, x []float64) (models.Triplet, error) {
		return models.Triplet{x[0], x[0] * 2, x[0] * 3}, nil
	})
	out := f.Predict(context.Background(), []float64{2})
	if !out.OK() {
		t.Fatalf("unexpected failure: %v", out.Err)
	}
	if out.Prediction != (models.Triplet{2, 4, 6}) {
		t.Fatalf("unexpected prediction %v", out.Prediction)
	}
}

func TestFuncPredictFailures(t *testing.T) {
	boom := errors.New("model crashed")
	failing := Func(func(context.Context, []float64) (models.Triplet, error) {
		return models.Triplet{}, boom
	})
	if out := failing.Predict(context.Background(), nil); !errors.Is(out.Err, boom) {
		t.Fatalf("expected model error, got %v", out.Err)
	}

	nan := Func(func(context.Context, []float64) (models.Triplet, error) {
		return models.Triplet{1, math.NaN(), 1}, nil
	})
	out := nan.Predict(context.Background(), nil)
	var invalid *InvalidPredictionError
	if !errors.As(out.Err, &invalid) {
		t.Fatalf("expected InvalidPredictionError, got %v", out.Err)
	}
}

func TestExternalFeatures(t *testing.T) {
	got, err := ExternalFeatures(models.DefaultNameMapping, []string{"MetalTemp", "SI"})
	if err != nil {
		t.Fatalf("ExternalFeatures: %v", err)
	}
	if got[0] != "metalTemp" || got[1] != "si" {
		t.Fatalf("unexpected external names %v", got)
	}

	_, err = ExternalFeatures(models.DefaultNameMapping, []string{"Voltage"})
	var unknown *models.UnknownParameterError
	if !errors.As(err, &unknown) || unknown.Name != "Voltage" {
		t.Fatalf("expected UnknownParameterError, got %v", err)
	}
}

func TestNewClientKinds(t *testing.T) {
	cfg := testOracleConfig("http")
	cfg.URL = "http://localhost:1"
	c, err := NewClient(cfg, []string{"a"})
	if err != nil {
		t.Fatalf("NewClient http: %v", err)
	}
	if _, ok := c.(*HTTPOracle); !ok {
		t.Fatalf("expected *HTTPOracle, got %T", c)
	}
	_ = c.Close()

	cfg = testOracleConfig("grpc")
	cfg.Addr = "localhost:1"
	c, err = NewClient(cfg, []string{"a"})
	if err != nil {
		t.Fatalf("NewClient grpc: %v", err)
	}
	if _, ok := c.(*GRPCOracle); !ok {
		t.Fatalf("expected *GRPCOracle, got %T", c)
	}
	_ = c.Close()

	if _, err := NewClient(testOracleConfig("smtp"), nil); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
