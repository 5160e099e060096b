package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rodline/procopt/internal/policy"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/models"
)

// HTTPOracle calls a prediction service exposing POST /predict.
// The request body maps external feature names to values and the
// response carries uts, elongation and conductivity.
type HTTPOracle struct {
	endpoint string
	features []string
	client   *http.Client
	guard    *guard
}

type predictResponse struct {
	UTS          *float64 `json:"uts"`
	Elongation   *float64 `json:"elongation"`
	Conductivity *float64 `json:"conductivity"`
}

// NewHTTPOracle creates an HTTP oracle for cfg.URL
func NewHTTPOracle(cfg config.OracleConfig, features []string) *HTTPOracle {
	endpoint := strings.TrimRight(cfg.URL, "/") + "/predict"
	return &HTTPOracle{
		endpoint: endpoint,
		features: append([]string(nil), features...),
		client:   &http.Client{},
		guard:    newGuard(endpoint, cfg.Timeout(), policy.NewPolicyManager(cfg)),
	}
}

// WithHTTPClient replaces the underlying HTTP client
func (o *HTTPOracle) WithHTTPClient(c *http.Client) *HTTPOracle {
	o.client = c
	return o
}

// Predict implements PredictionOracle
func (o *HTTPOracle) Predict(ctx context.Context, features []float64) Outcome {
	if len(features) != len(o.features) {
		return Failure(&FeatureCountError{Got: len(features), Want: len(o.features)})
	}
	body := make(map[string]float64, len(features))
	for i, name := range o.features {
		body[name] = features[i]
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Failure(fmt.Errorf("encode prediction request: %w", err))
	}

	return o.guard.do(ctx, func(ctx context.Context) (models.Triplet, error) {
		return o.post(ctx, payload)
	})
}

func (o *HTTPOracle) post(ctx context.Context, payload []byte) (models.Triplet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.Triplet{}, policy.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return models.Triplet{}, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Triplet{}, fmt.Errorf("read prediction response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("prediction service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		// client errors will fail the same way on every attempt
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return models.Triplet{}, policy.Permanent(statusErr)
		}
		return models.Triplet{}, statusErr
	}

	var pr predictResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return models.Triplet{}, policy.Permanent(&InvalidPredictionError{Reason: err.Error()})
	}
	if pr.UTS == nil || pr.Elongation == nil || pr.Conductivity == nil {
		return models.Triplet{}, policy.Permanent(&InvalidPredictionError{Reason: "response is missing uts, elongation or conductivity"})
	}
	return models.Triplet{*pr.UTS, *pr.Elongation, *pr.Conductivity}, nil
}

// Close releases idle connections
func (o *HTTPOracle) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
