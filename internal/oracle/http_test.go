package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rodline/procopt/internal/policy"
	"github.com/rodline/procopt/pkg/models"
)

func predictHandlerFunc(t *testing.T, calls *atomic.Int32, fail int32, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if n <= fail {
			http.Error(w, "model not loaded", status)
			return
		}
		var body map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		temp := body["metalTemp"]
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]float64{
			"uts":          temp / 4,
			"elongation":   body["si"] * 10,
			"conductivity": 60,
		})
	}
}

func TestHTTPOraclePredict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(predictHandlerFunc(t, &calls, 0, 0))
	defer srv.Close()

	cfg := testOracleConfig("http")
	cfg.URL = srv.URL + "/"
	o := NewHTTPOracle(cfg, []string{"si", "metalTemp"})
	defer o.Close()

	out := o.Predict(context.Background(), []float64{0.5, 800})
	if !out.OK() {
		t.Fatalf("Predict failed: %v", out.Err)
	}
	if out.Prediction != (models.Triplet{200, 5, 60}) {
		t.Fatalf("unexpected prediction %v", out.Prediction)
	}
}

func TestHTTPOracleRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(predictHandlerFunc(t, &calls, 2, http.StatusServiceUnavailable))
	defer srv.Close()

	cfg := testOracleConfig("http")
	cfg.URL = srv.URL
	o := NewHTTPOracle(cfg, []string{"si", "metalTemp"})

	out := o.Predict(context.Background(), []float64{0.5, 800})
	if !out.OK() {
		t.Fatalf("expected success after retries, got %v", out.Err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestHTTPOracleDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(predictHandlerFunc(t, &calls, 10, http.StatusUnprocessableEntity))
	defer srv.Close()

	cfg := testOracleConfig("http")
	cfg.URL = srv.URL
	o := NewHTTPOracle(cfg, []string{"si", "metalTemp"})

	out := o.Predict(context.Background(), []float64{0.5, 800})
	var perm *policy.PermanentError
	if !errors.As(out.Err, &perm) {
		t.Fatalf("expected permanent error, got %v", out.Err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestHTTPOracleIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uts": 200, "elongation": 10}`))
	}))
	defer srv.Close()

	cfg := testOracleConfig("http")
	cfg.URL = srv.URL
	out := NewHTTPOracle(cfg, []string{"si"}).Predict(context.Background(), []float64{1})

	var invalid *InvalidPredictionError
	if !errors.As(out.Err, &invalid) {
		t.Fatalf("expected InvalidPredictionError, got %v", out.Err)
	}
}

func TestHTTPOracleFeatureCount(t *testing.T) {
	cfg := testOracleConfig("http")
	cfg.URL = "http://127.0.0.1:1"
	out := NewHTTPOracle(cfg, []string{"si", "fe"}).Predict(context.Background(), []float64{1})

	var fc *FeatureCountError
	if !errors.As(out.Err, &fc) || fc.Want != 2 || fc.Got != 1 {
		t.Fatalf("expected FeatureCountError, got %v", out.Err)
	}
}

func TestHTTPOracleCircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(predictHandlerFunc(t, &calls, 1000, http.StatusInternalServerError))
	defer srv.Close()

	cfg := testOracleConfig("http")
	cfg.URL = srv.URL
	cfg.Retries = nil
	cfg.CircuitBreaker.FailureThreshold = 2
	o := NewHTTPOracle(cfg, []string{"si"})

	for i := 0; i < 2; i++ {
		if out := o.Predict(context.Background(), []float64{1}); out.OK() {
			t.Fatalf("expected failure %d", i)
		}
	}
	out := o.Predict(context.Background(), []float64{1})
	if !errors.Is(out.Err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", out.Err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected open circuit to skip the service, got %d calls", got)
	}
}

func TestHTTPOracleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testOracleConfig("http")
	cfg.URL = srv.URL
	cfg.TimeoutMs = 20
	cfg.Retries = nil
	out := NewHTTPOracle(cfg, []string{"si"}).Predict(context.Background(), []float64{1})
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", out.Err)
	}
}
