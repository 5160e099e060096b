package improvement

import (
	"math"
	"testing"

	"github.com/rodline/procopt/pkg/utils"
)

func TestGaussianProcessInterpolates(t *testing.T) {
	x := [][]float64{{0.1}, {0.3}, {0.5}, {0.7}, {0.9}}
	y := make([]float64, len(x))
	for i, p := range x {
		y[i] = math.Sin(3 * p[0])
	}

	gp, err := fitGP(x, y)
	if err != nil {
		t.Fatalf("fitGP: %v", err)
	}
	for i, p := range x {
		mean, std := gp.predict(p)
		got := mean*gp.yStd + gp.yMean
		if !almostEqual(got, y[i], 1e-3) {
			t.Fatalf("point %d: expected %v, got %v", i, y[i], got)
		}
		if std > 0.05 {
			t.Fatalf("point %d: expected small std at observation, got %v", i, std)
		}
	}

	// uncertainty grows away from the data
	_, near := gp.predict([]float64{0.3})
	_, far := gp.predict([]float64{0.0})
	if far <= near {
		t.Fatalf("expected larger std away from data: near=%v far=%v", near, far)
	}
}

func TestFitGPRejectsEmpty(t *testing.T) {
	if _, err := fitGP(nil, nil); err == nil {
		t.Fatalf("expected error for empty observations")
	}
	if _, err := fitGP([][]float64{{0.1}}, []float64{1, 2}); err == nil {
		t.Fatalf("expected error for mismatched observations")
	}
}

func TestExpectedImprovement(t *testing.T) {
	if ei := expectedImprovement(0, 0, 1, 0.01); ei != 0 {
		t.Fatalf("expected zero EI without uncertainty, got %v", ei)
	}
	low := expectedImprovement(-1, 0.5, 0, 0.01)
	high := expectedImprovement(1, 0.5, 0, 0.01)
	if low <= high {
		t.Fatalf("expected lower mean to have higher EI: %v <= %v", low, high)
	}
	narrow := expectedImprovement(0.5, 0.1, 0, 0.01)
	wide := expectedImprovement(0.5, 1.0, 0, 0.01)
	if wide <= narrow {
		t.Fatalf("expected wider posterior to have higher EI: %v <= %v", wide, narrow)
	}
	if ei := expectedImprovement(3, 1, 0, 0.01); ei < 0 {
		t.Fatalf("expected non-negative EI, got %v", ei)
	}
}

func TestAcquisitionStaysInUnitCube(t *testing.T) {
	x := [][]float64{{0.2, 0.2}, {0.8, 0.8}, {0.2, 0.8}, {0.8, 0.2}}
	y := []float64{4, 1, 3, 2}
	gp, err := fitGP(x, y)
	if err != nil {
		t.Fatalf("fitGP: %v", err)
	}
	acq := &acquisition{
		gp:         gp,
		best:       gp.standardize(1),
		xi:         DefaultXi,
		candidates: 200,
		rng:        utils.NewRandSource(7),
	}
	for i := 0; i < 5; i++ {
		u := acq.next(2, x)
		for _, v := range u {
			if v < 0 || v > 1 {
				t.Fatalf("proposal outside unit cube: %v", u)
			}
		}
	}
}
