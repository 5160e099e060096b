package improvement

import (
	"fmt"
	"math"

	"github.com/rodline/procopt/pkg/models"
	"github.com/rodline/procopt/pkg/utils"
)

// PredictionComparison compares the model's predictions before and after a step
type PredictionComparison struct {
	Before        models.Triplet
	After         models.Triplet
	BeforeError   float64
	AfterError    float64
	ErrorDiff     float64 // after - before; negative means closer to target
	Improvement   bool
	PropertyDiff  models.Triplet
	RelativeAfter [3]float64 // per-property percentage error after the step
}

// ComparePredictions scores two predictions against the same objective
func ComparePredictions(before, after models.Triplet, objective *Objective) (*PredictionComparison, error) {
	if objective == nil {
		return nil, fmt.Errorf("objective is nil")
	}
	relAfter, err := RelativeErrors(after, objective.Desired())
	if err != nil {
		return nil, err
	}
	beforeErr := objective.Evaluate(before)
	afterErr := objective.Evaluate(after)

	c := &PredictionComparison{
		Before:        before,
		After:         after,
		BeforeError:   beforeErr,
		AfterError:    afterErr,
		ErrorDiff:     afterErr - beforeErr,
		Improvement:   afterErr < beforeErr,
		RelativeAfter: relAfter,
	}
	for i := range c.PropertyDiff {
		c.PropertyDiff[i] = after[i] - before[i]
	}
	return c, nil
}

// ErrorReduction returns how much closer the step moved to the target, in error points
func (c *PredictionComparison) ErrorReduction() float64 {
	return -c.ErrorDiff
}

// ImprovementPercentage returns the relative error reduction in percent
func (c *PredictionComparison) ImprovementPercentage() float64 {
	return GetImprovementPercentage(c.BeforeError, c.AfterError)
}

// IsSignificantImprovement reports whether the error dropped by at least thresholdPercent of its previous value
func (c *PredictionComparison) IsSignificantImprovement(thresholdPercent float64) bool {
	if c == nil || !c.Improvement {
		return false
	}
	return c.ImprovementPercentage() >= thresholdPercent
}

// GetImprovementPercentage calculates the percentage decrease from before to after
func GetImprovementPercentage(before, after float64) float64 {
	if before == 0 || math.IsInf(before, 0) || math.IsInf(after, 0) {
		return 0
	}
	return -(after - before) / before * 100
}

// HistoryTrend summarises the errors along a session's history
type HistoryTrend struct {
	Steps         int     `json:"steps"`
	BestStep      int     `json:"best_step"`
	BestError     float64 `json:"best_error"`
	Trend         string  `json:"trend"`
	AverageError  float64 `json:"average_error"`
	ErrorVariance float64 `json:"error_variance"`
}

// CompareHistory analyses the error of every history entry, root first
func CompareHistory(errors []float64) (*HistoryTrend, error) {
	if len(errors) == 0 {
		return nil, fmt.Errorf("history is empty")
	}
	finite := make([]float64, 0, len(errors))
	for _, e := range errors {
		if !math.IsInf(e, 0) && !math.IsNaN(e) {
			finite = append(finite, e)
		}
	}
	bestIdx := utils.ArgMin(errors)
	return &HistoryTrend{
		Steps:         len(errors),
		BestStep:      bestIdx,
		BestError:     errors[bestIdx],
		Trend:         determineTrend(finite),
		AverageError:  utils.Mean(finite),
		ErrorVariance: utils.Variance(finite),
	}, nil
}

// determineTrend fits a line through the errors; lower is better
func determineTrend(scores []float64) string {
	if len(scores) < 2 {
		return "stable"
	}

	n := float64(len(scores))
	var sumX, sumY, sumXY, sumX2 float64
	for i, score := range scores {
		x := float64(i)
		sumX += x
		sumY += score
		sumXY += x * score
		sumX2 += x * x
	}
	slope := (n*sumXY - sumX*sumY) / (n*sumX2 - sumX*sumX)

	if slope < -0.01 {
		return "improving"
	}
	if slope > 0.01 {
		return "degrading"
	}
	return "stable"
}
