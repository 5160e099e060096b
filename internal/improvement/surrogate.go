package improvement

import (
	"errors"
	"math"

	"github.com/rodline/procopt/pkg/utils"
	"gonum.org/v1/gonum/mat"
)

// lengthScaleGrid holds the candidate Matérn length scales on the unit cube
var lengthScaleGrid = []float64{0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 1.0, 1.5, 2.5}

// gpNoise is the observation noise variance in standardized units
const gpNoise = 1e-6

var errSurrogateFit = errors.New("gaussian process: kernel matrix is not positive definite for any length scale")

// gaussianProcess is a zero-mean GP on standardized targets with a Matérn 5/2 kernel
type gaussianProcess struct {
	x           [][]float64
	chol        *mat.Cholesky
	alpha       *mat.VecDense
	lengthScale float64
	yMean       float64
	yStd        float64
}

func matern52(r, lengthScale float64) float64 {
	s := math.Sqrt(5) * r / lengthScale
	return (1 + s + s*s/3) * math.Exp(-s)
}

func distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// fitGP conditions a GP on points x (unit cube) and finite targets y,
// picking the length scale with the highest log marginal likelihood
func fitGP(x [][]float64, y []float64) (*gaussianProcess, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, errors.New("gaussian process: need matching, non-empty observations")
	}
	ys, mean, std := utils.Standardize(y)
	yv := mat.NewVecDense(n, ys)

	var best *gaussianProcess
	bestLML := math.Inf(-1)
	for _, l := range lengthScaleGrid {
		k := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := matern52(distance(x[i], x[j]), l)
				if i == j {
					v += gpNoise
				}
				k.SetSym(i, j, v)
			}
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(k); !ok {
			continue
		}
		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, yv); err != nil {
			continue
		}
		lml := -0.5*mat.Dot(yv, alpha) - 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
		if lml > bestLML {
			bestLML = lml
			best = &gaussianProcess{
				x:           x,
				chol:        &chol,
				alpha:       alpha,
				lengthScale: l,
				yMean:       mean,
				yStd:        std,
			}
		}
	}
	if best == nil {
		return nil, errSurrogateFit
	}
	return best, nil
}

// predict returns the posterior mean and standard deviation at u in standardized units
func (gp *gaussianProcess) predict(u []float64) (float64, float64) {
	n := len(gp.x)
	kstar := mat.NewVecDense(n, nil)
	for i, xi := range gp.x {
		kstar.SetVec(i, matern52(distance(u, xi), gp.lengthScale))
	}
	mean := mat.Dot(kstar, gp.alpha)

	v := mat.NewVecDense(n, nil)
	if err := gp.chol.SolveVecTo(v, kstar); err != nil {
		return mean, 0
	}
	variance := 1 - mat.Dot(kstar, v)
	if variance < 1e-12 {
		variance = 1e-12
	}
	return mean, math.Sqrt(variance)
}

// standardize maps a raw target onto the GP's standardized scale
func (gp *gaussianProcess) standardize(y float64) float64 {
	return (y - gp.yMean) / gp.yStd
}
