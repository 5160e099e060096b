package config

import (
	"time"

	"github.com/rodline/procopt/pkg/models"
)

// Config represents the main optimizer service configuration
type Config struct {
	LogLevel      string          `yaml:"log_level"`
	Server        ServerConfig    `yaml:"server"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Optimizer     OptimizerConfig `yaml:"optimizer"`
	Parameters    []Parameter     `yaml:"parameters"`
	BootstrapPath string          `yaml:"bootstrap_path"`
	Store         StoreConfig     `yaml:"store"`
}

// ServerConfig holds listen addresses for the daemon
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	// optimize requests per session: burst size and refill interval, burst 0 disables limiting
	OptimizeBurst      int `yaml:"optimize_burst"`
	OptimizeIntervalMs int `yaml:"optimize_interval_ms"`
	// CallbackURL receives a POST after every committed step; {session_id} is substituted
	CallbackURL    string `yaml:"callback_url,omitempty"`
	CallbackSecret string `yaml:"callback_secret,omitempty"`
}

// OracleConfig describes how to reach the prediction model
type OracleConfig struct {
	Kind           string                `yaml:"kind"` // http or grpc
	URL            string                `yaml:"url"`  // base URL of the prediction service (http)
	Addr           string                `yaml:"addr"` // host:port of the prediction service (grpc)
	TimeoutMs      int                   `yaml:"timeout_ms"`
	Retries        *RetryPolicy          `yaml:"retries,omitempty"`
	CircuitBreaker *CircuitBreakerPolicy `yaml:"circuit_breaker,omitempty"`
}

// Timeout returns the per-call oracle timeout
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// RetryPolicy represents retry configuration for oracle calls
type RetryPolicy struct {
	Enabled    bool   `yaml:"enabled"`
	MaxRetries int    `yaml:"max_retries"`
	Backoff    string `yaml:"backoff"` // exponential, linear, constant
	BaseMs     int    `yaml:"base_ms"`
	MaxMs      int    `yaml:"max_ms"`
}

// CircuitBreakerPolicy represents circuit breaker configuration for oracle calls
type CircuitBreakerPolicy struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	SuccessThreshold int  `yaml:"success_threshold"`
	TimeoutMs        int  `yaml:"timeout_ms"`
}

// OptimizerConfig tunes the Bayesian search
type OptimizerConfig struct {
	Budget        int        `yaml:"budget"`         // oracle evaluations per run
	InitialPoints int        `yaml:"initial_points"` // random evaluations before the surrogate is used
	Seed          int64      `yaml:"seed"`
	Xi            float64    `yaml:"xi"`         // expected-improvement exploration margin
	Candidates    int        `yaml:"candidates"` // random candidates scored per acquisition step
	Workers       int        `yaml:"workers"`    // parallel oracle calls for the initial design
	Weights       []float64  `yaml:"weights"`    // UTS, elongation, conductivity
	EarlyStop     *EarlyStop `yaml:"early_stop,omitempty"`
}

// EarlyStop lets a search end before its budget once it stops improving
type EarlyStop struct {
	Enabled        bool    `yaml:"enabled"`
	MinEvaluations int     `yaml:"min_evaluations"`
	NoImprovement  int     `yaml:"no_improvement"` // evaluations without a new best
	Plateau        int     `yaml:"plateau"`        // window for the best-error plateau check
	Tolerance      float64 `yaml:"tolerance"`
	TargetError    float64 `yaml:"target_error"` // stop once the best error is at or below this, 0 disables
}

// Parameter describes one process parameter of the model's feature vector
type Parameter struct {
	Name     string   `yaml:"name"`     // canonical model feature name
	External string   `yaml:"external"` // API / bootstrap name
	Kind     string   `yaml:"kind,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
	Floor    *float64 `yaml:"floor,omitempty"` // plausibility floor for heuristic bounds
}

// Bounds returns the explicit operating bounds, if configured
func (p Parameter) Bounds() (models.Bounds, bool) {
	if p.Min == nil || p.Max == nil {
		return models.Bounds{}, false
	}
	return models.Bounds{Min: *p.Min, Max: *p.Max}, true
}

// StoreConfig configures session history persistence
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file; empty disables persistence
}

// WeightTriplet returns the configured weights, falling back to the plant defaults
func (o OptimizerConfig) WeightTriplet() models.Weights {
	if len(o.Weights) != 3 {
		return models.DefaultWeights
	}
	return models.Weights{o.Weights[0], o.Weights[1], o.Weights[2]}
}

// NameMapping builds the external/canonical name table from the parameter list
func (c *Config) NameMapping() (*models.NameMapping, error) {
	pairs := make([][2]string, 0, len(c.Parameters))
	for _, p := range c.Parameters {
		ext := p.External
		if ext == "" {
			ext = p.Name
		}
		pairs = append(pairs, [2]string{ext, p.Name})
	}
	return models.NewNameMapping(pairs)
}

// ParameterNames returns the canonical names in feature order
func (c *Config) ParameterNames() []string {
	names := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		names[i] = p.Name
	}
	return names
}
