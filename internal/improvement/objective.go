package improvement

import (
	"fmt"
	"math"

	"github.com/rodline/procopt/pkg/models"
	"github.com/rodline/procopt/pkg/utils"
)

// ZeroDesiredValueError indicates a target property of zero, for which relative error is undefined
type ZeroDesiredValueError struct {
	Index int
}

func (e *ZeroDesiredValueError) Error() string {
	return fmt.Sprintf("desired %s is zero; relative error is undefined", models.PropertyNames[e.Index])
}

// ValidateDesired rejects targets that make the error metric undefined
func ValidateDesired(desired models.Triplet) error {
	for i, d := range desired {
		if d == 0 {
			return &ZeroDesiredValueError{Index: i}
		}
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("desired %s must be finite, got %v", models.PropertyNames[i], d)
		}
	}
	return nil
}

// RelativeErrors returns the per-property percentage error |p - d| / |d| * 100
func RelativeErrors(predicted, desired models.Triplet) ([3]float64, error) {
	var out [3]float64
	if err := ValidateDesired(desired); err != nil {
		return out, err
	}
	for i := range out {
		out[i] = math.Abs(predicted[i]-desired[i]) / math.Abs(desired[i]) * 100
	}
	return out, nil
}

// ErrorMetric returns the weighted sum of relative percentage errors.
// Weights are normalized to sum to one first.
func ErrorMetric(predicted, desired models.Triplet, weights models.Weights) (float64, error) {
	w, err := weights.Normalize()
	if err != nil {
		return 0, err
	}
	rel, err := RelativeErrors(predicted, desired)
	if err != nil {
		return 0, err
	}
	return utils.Dot(w[:], rel[:]), nil
}

// Objective is an ErrorMetric bound to validated targets and normalized weights
type Objective struct {
	desired models.Triplet
	weights models.Weights
}

// NewObjective validates desired and weights once so that Evaluate cannot fail
func NewObjective(desired models.Triplet, weights models.Weights) (*Objective, error) {
	if err := ValidateDesired(desired); err != nil {
		return nil, err
	}
	w, err := weights.Normalize()
	if err != nil {
		return nil, err
	}
	return &Objective{desired: desired, weights: w}, nil
}

// Evaluate scores a prediction; non-finite predictions score +Inf
func (o *Objective) Evaluate(predicted models.Triplet) float64 {
	if !predicted.IsFinite() {
		return math.Inf(1)
	}
	total := 0.0
	for i := range predicted {
		total += o.weights[i] * math.Abs(predicted[i]-o.desired[i]) / math.Abs(o.desired[i]) * 100
	}
	return total
}

// Desired returns the target triplet
func (o *Objective) Desired() models.Triplet {
	return o.desired
}

// Weights returns the normalized weights
func (o *Objective) Weights() models.Weights {
	return o.weights
}
