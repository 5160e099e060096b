package config

import (
	"fmt"
	"math"
	"os"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func ptr(v float64) *float64 {
	return &v
}

// DefaultConfig returns the plant configuration: the eleven casting-line
// parameters in model feature order, the operating-constraint table and the
// default search settings.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			HTTPAddr:           ":8002",
			GRPCAddr:           ":50052",
			OptimizeBurst:      3,
			OptimizeIntervalMs: 10000,
		},
		Oracle: OracleConfig{
			Kind:      "http",
			URL:       "http://localhost:8000",
			Addr:      "localhost:50051",
			TimeoutMs: 2000,
			Retries: &RetryPolicy{
				Enabled:    true,
				MaxRetries: 2,
				Backoff:    "exponential",
				BaseMs:     50,
				MaxMs:      1000,
			},
			CircuitBreaker: &CircuitBreakerPolicy{
				Enabled:          true,
				FailureThreshold: 5,
				SuccessThreshold: 1,
				TimeoutMs:        5000,
			},
		},
		Optimizer: OptimizerConfig{
			Budget:        40,
			InitialPoints: 10,
			Seed:          42,
			Xi:            0.01,
			Candidates:    1000,
			Workers:       4,
			Weights:       []float64{0.4, 0.2, 0.4},
		},
		Parameters: []Parameter{
			{Name: "SI", External: "si", Floor: ptr(0)},
			{Name: "FE", External: "fe", Floor: ptr(0)},
			{Name: "MetalTemp", External: "metalTemp", Kind: "temperature", Min: ptr(600), Max: ptr(800)},
			{Name: "CastingWheel_RPM", External: "castingWheelRpm", Kind: "speed", Min: ptr(1.5), Max: ptr(3.0)},
			{Name: "CoolingWaterPressure", External: "coolingWaterPressure", Kind: "pressure", Min: ptr(3.0), Max: ptr(6.0)},
			{Name: "CoolingWaterTemp", External: "coolingWaterTemp", Kind: "temperature", Min: ptr(20), Max: ptr(40)},
			{Name: "CastBarEntryTemp", External: "castBarEntryTemp", Kind: "temperature", Min: ptr(500), Max: ptr(600)},
			{Name: "RollingMill_RPM", External: "rollingMillRpm", Kind: "speed", Min: ptr(700), Max: ptr(900)},
			{Name: "EmulsionTemp", External: "emulsionTemp", Kind: "temperature", Min: ptr(50), Max: ptr(70)},
			{Name: "EmulsionPressure", External: "emulsionPressure", Kind: "pressure", Min: ptr(1.5), Max: ptr(3.0)},
			{Name: "RodQuenchWaterPressure", External: "rodQuenchWaterPressure", Kind: "pressure", Floor: ptr(0)},
		},
		BootstrapPath: "last_prediction.json",
	}
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.Server.OptimizeBurst < 0 || cfg.Server.OptimizeIntervalMs < 0 {
		return fmt.Errorf("server optimize_burst and optimize_interval_ms cannot be negative")
	}

	if err := validateOracle(&cfg.Oracle); err != nil {
		return fmt.Errorf("oracle validation failed: %w", err)
	}

	if err := validateOptimizer(&cfg.Optimizer); err != nil {
		return fmt.Errorf("optimizer validation failed: %w", err)
	}

	if err := validateParameters(cfg.Parameters); err != nil {
		return fmt.Errorf("parameters validation failed: %w", err)
	}

	return nil
}

// validateOracle validates the oracle connection settings
func validateOracle(o *OracleConfig) error {
	switch o.Kind {
	case "http":
		if o.URL == "" {
			return fmt.Errorf("url is required for http oracle")
		}
	case "grpc":
		if o.Addr == "" {
			return fmt.Errorf("addr is required for grpc oracle")
		}
	default:
		return fmt.Errorf("invalid oracle kind: %s (must be http or grpc)", o.Kind)
	}
	if o.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms cannot be negative, got %d", o.TimeoutMs)
	}

	if o.Retries != nil {
		if o.Retries.MaxRetries < 0 {
			return fmt.Errorf("retries max_retries cannot be negative, got %d", o.Retries.MaxRetries)
		}
		validBackoffs := map[string]bool{
			"exponential": true,
			"linear":      true,
			"constant":    true,
		}
		if !validBackoffs[o.Retries.Backoff] {
			return fmt.Errorf("invalid backoff type: %s (must be exponential, linear, or constant)", o.Retries.Backoff)
		}
		if o.Retries.BaseMs < 0 {
			return fmt.Errorf("retries base_ms cannot be negative, got %d", o.Retries.BaseMs)
		}
	}

	if cb := o.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.FailureThreshold <= 0 {
			return fmt.Errorf("circuit_breaker failure_threshold must be positive, got %d", cb.FailureThreshold)
		}
		if cb.SuccessThreshold <= 0 {
			return fmt.Errorf("circuit_breaker success_threshold must be positive, got %d", cb.SuccessThreshold)
		}
		if cb.TimeoutMs < 0 {
			return fmt.Errorf("circuit_breaker timeout_ms cannot be negative, got %d", cb.TimeoutMs)
		}
	}

	return nil
}

// validateOptimizer validates the search settings
func validateOptimizer(o *OptimizerConfig) error {
	if o.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", o.Budget)
	}
	if o.InitialPoints <= 0 {
		return fmt.Errorf("initial_points must be positive, got %d", o.InitialPoints)
	}
	if o.Xi < 0 {
		return fmt.Errorf("xi cannot be negative, got %f", o.Xi)
	}
	if o.Candidates < 0 {
		return fmt.Errorf("candidates cannot be negative, got %d", o.Candidates)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", o.Workers)
	}
	if len(o.Weights) != 3 {
		return fmt.Errorf("weights must have exactly 3 entries, got %d", len(o.Weights))
	}
	if _, err := o.WeightTriplet().Normalize(); err != nil {
		return err
	}
	if es := o.EarlyStop; es != nil && es.Enabled {
		if es.MinEvaluations < 0 || es.NoImprovement < 0 || es.Plateau < 0 {
			return fmt.Errorf("early_stop counts cannot be negative")
		}
		if es.Tolerance < 0 || es.TargetError < 0 {
			return fmt.Errorf("early_stop tolerance and target_error cannot be negative")
		}
	}
	return nil
}

// validateParameters validates the parameter metadata table
func validateParameters(params []Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("at least one parameter must be defined")
	}

	validKinds := map[string]bool{
		"":            true,
		"temperature": true,
		"speed":       true,
		"pressure":    true,
		"generic":     true,
	}
	names := make(map[string]bool)
	externals := make(map[string]bool)
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		names[p.Name] = true

		if p.External != "" {
			if externals[p.External] {
				return fmt.Errorf("duplicate external name: %s", p.External)
			}
			externals[p.External] = true
		}

		if !validKinds[p.Kind] {
			return fmt.Errorf("parameter %s: invalid kind %s (must be temperature, speed, pressure, or generic)", p.Name, p.Kind)
		}

		if (p.Min == nil) != (p.Max == nil) {
			return fmt.Errorf("parameter %s: min and max must be set together", p.Name)
		}
		if b, ok := p.Bounds(); ok {
			if math.IsNaN(b.Min) || math.IsNaN(b.Max) || b.Min >= b.Max {
				return fmt.Errorf("parameter %s: min (%v) must be less than max (%v)", p.Name, b.Min, b.Max)
			}
		}
	}

	return nil
}
