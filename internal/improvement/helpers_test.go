package improvement

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/models"
)

var plantDesired = models.Triplet{200, 10, 55}

// plantParams returns the eleven plant parameters at a typical operating point
func plantParams(t *testing.T) *models.ParameterSet {
	t.Helper()
	names := config.DefaultConfig().ParameterNames()
	values := []float64{0.05, 0.18, 722.19, 2.1, 4.2, 31.5, 540, 810, 62, 2.2, 3.4}
	ps, err := models.NewParameterSet(names, values)
	if err != nil {
		t.Fatalf("NewParameterSet: %v", err)
	}
	return ps
}

func plantBuilder(t *testing.T) *SearchSpaceBuilder {
	t.Helper()
	b, err := NewSearchSpaceBuilder(SpecsFromConfig(config.DefaultConfig().Parameters))
	if err != nil {
		t.Fatalf("NewSearchSpaceBuilder: %v", err)
	}
	return b
}

// bowlOracle predicts the desired properties exactly when the feature at
// index sits at optimum, degrading quadratically away from it
type bowlOracle struct {
	index   int
	optimum float64
	scale   float64
	calls   atomic.Int32
}

func (b *bowlOracle) Predict(_ context.Context, x []float64) oracle.Outcome {
	b.calls.Add(1)
	d := (x[b.index] - b.optimum) / b.scale
	f := 1 + d*d
	return oracle.Success(models.Triplet{plantDesired[0] * f, plantDesired[1] * f, plantDesired[2] * f})
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Candidates = 300
	return s
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
