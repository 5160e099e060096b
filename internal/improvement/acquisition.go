package improvement

import (
	"github.com/rodline/procopt/pkg/utils"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultXi is the expected-improvement exploration margin
const DefaultXi = 0.01

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// expectedImprovement for minimization: E[max(best - f(x) - xi, 0)]
func expectedImprovement(mean, std, best, xi float64) float64 {
	if std <= 0 {
		return 0
	}
	imp := best - mean - xi
	z := imp / std
	return imp*stdNormal.CDF(z) + std*stdNormal.Prob(z)
}

// acquisition proposes the next unit-cube point to evaluate
type acquisition struct {
	gp         *gaussianProcess
	best       float64 // standardized incumbent
	xi         float64
	candidates int
	rng        *utils.RandSource
}

func (a *acquisition) score(u []float64) float64 {
	mean, std := a.gp.predict(u)
	return expectedImprovement(mean, std, a.best, a.xi)
}

// next samples random candidates, refines the best one with Nelder-Mead and
// falls back to a random point when the proposal repeats an observation
func (a *acquisition) next(dim int, observed [][]float64) []float64 {
	var bestPoint []float64
	bestScore := -1.0
	for i := 0; i < a.candidates; i++ {
		u := a.rng.UnitPoint(dim)
		if s := a.score(u); s > bestScore {
			bestScore = s
			bestPoint = u
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return -a.score(clampUnit(x))
		},
	}
	settings := &optimize.Settings{FuncEvaluations: 200}
	// a stopped search still reports the best location it reached
	if res, _ := optimize.Minimize(problem, bestPoint, settings, &optimize.NelderMead{}); res != nil {
		refined := clampUnit(res.X)
		if a.score(refined) > bestScore {
			bestPoint = refined
		}
	}

	for _, o := range observed {
		if distance(bestPoint, o) < 1e-9 {
			return a.rng.UnitPoint(dim)
		}
	}
	return bestPoint
}

func clampUnit(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = utils.ClampFloat64(v, 0, 1)
	}
	return out
}
