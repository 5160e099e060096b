package improvement

import (
	"fmt"
	"math"
)

// ConvergenceStrategy decides whether a search may stop before its budget is spent
type ConvergenceStrategy interface {
	// CheckConvergence checks if optimization has converged based on history
	CheckConvergence(history []OptimizationStep) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementIterations is the number of evaluations without a new best before stopping
	NoImprovementIterations int
	// ScoreTolerance is the best-error change below which the search counts as flat
	ScoreTolerance float64
	// MinIterations is the number of evaluations before convergence can be detected
	MinIterations int
	// PlateauIterations is the window over which the best error must stay flat
	PlateauIterations int
	// TargetError stops the search once the best error is at or below it; 0 disables
	TargetError float64
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		NoImprovementIterations: 15,
		ScoreTolerance:          1e-3,
		MinIterations:           15,
		PlateauIterations:       10,
		TargetError:             0,
	}
}

// NoImprovementStrategy converges when the best error has not changed for N evaluations
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if s.config.NoImprovementIterations <= 0 || len(history) == 0 || len(history) < s.config.MinIterations {
		return false, ""
	}

	bestScore := math.Inf(1)
	bestIteration := -1
	for i, step := range history {
		if step.Score < bestScore {
			bestScore = step.Score
			bestIteration = i
		}
	}
	if bestIteration < 0 {
		return false, ""
	}

	since := len(history) - 1 - bestIteration
	if since >= s.config.NoImprovementIterations {
		return true, fmt.Sprintf("no improvement for %d evaluations (best at evaluation %d)", since, history[bestIteration].Iteration)
	}
	return false, ""
}

// PlateauStrategy converges when the best error moved less than the tolerance over a window
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	window := s.config.PlateauIterations
	if window <= 0 || len(history) < s.config.MinIterations || len(history) <= window {
		return false, ""
	}

	before := history[len(history)-1-window].BestScore
	now := history[len(history)-1].BestScore
	if math.IsInf(before, 1) {
		return false, ""
	}
	if delta := before - now; delta <= s.config.ScoreTolerance {
		return true, fmt.Sprintf("best error plateaued for %d evaluations (change: %.6f)", window, delta)
	}
	return false, ""
}

// TargetReachedStrategy converges once the best error is good enough
type TargetReachedStrategy struct {
	config *ConvergenceConfig
}

// NewTargetReachedStrategy creates a target-error convergence strategy
func NewTargetReachedStrategy(config *ConvergenceConfig) *TargetReachedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &TargetReachedStrategy{config: config}
}

func (s *TargetReachedStrategy) Name() string {
	return "target_reached"
}

func (s *TargetReachedStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if s.config.TargetError <= 0 || len(history) == 0 {
		return false, ""
	}
	best := history[len(history)-1].BestScore
	if best <= s.config.TargetError {
		return true, fmt.Sprintf("best error %.4f%% within target %.4f%%", best, s.config.TargetError)
	}
	return false, ""
}

// CombinedStrategy converges as soon as any of its strategies does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy creates the combined no-improvement, plateau and target strategy
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewTargetReachedStrategy(config),
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}
