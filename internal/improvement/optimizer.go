package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rodline/procopt/internal/oracle"
	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
	"github.com/rodline/procopt/pkg/utils"
	"github.com/sourcegraph/conc/pool"
)

// ErrNoFeasibleEvaluation is returned when the oracle failed for every evaluated point
var ErrNoFeasibleEvaluation = errors.New("no oracle evaluation succeeded")

// Settings tunes one Bayesian search
type Settings struct {
	Budget        int
	InitialPoints int
	Seed          int64
	Xi            float64
	Candidates    int
	Workers       int
	// Convergence, when set, may end the search before the budget is spent
	Convergence ConvergenceStrategy
}

// DefaultSettings returns the plant search settings
func DefaultSettings() Settings {
	return Settings{
		Budget:        40,
		InitialPoints: 10,
		Seed:          42,
		Xi:            DefaultXi,
		Candidates:    1000,
		Workers:       4,
	}
}

// SettingsFromConfig converts the optimizer configuration section
func SettingsFromConfig(cfg config.OptimizerConfig) Settings {
	s := Settings{
		Budget:        cfg.Budget,
		InitialPoints: cfg.InitialPoints,
		Seed:          cfg.Seed,
		Xi:            cfg.Xi,
		Candidates:    cfg.Candidates,
		Workers:       cfg.Workers,
	}
	if es := cfg.EarlyStop; es != nil && es.Enabled {
		s.Convergence = NewCombinedStrategy(&ConvergenceConfig{
			NoImprovementIterations: es.NoImprovement,
			ScoreTolerance:          es.Tolerance,
			MinIterations:           es.MinEvaluations,
			PlateauIterations:       es.Plateau,
			TargetError:             es.TargetError,
		})
	}
	return s.withDefaults()
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Budget <= 0 {
		s.Budget = d.Budget
	}
	if s.InitialPoints <= 0 {
		s.InitialPoints = d.InitialPoints
	}
	if s.InitialPoints > s.Budget {
		s.InitialPoints = s.Budget
	}
	if s.Xi < 0 {
		s.Xi = d.Xi
	}
	if s.Candidates <= 0 {
		s.Candidates = d.Candidates
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	return s
}

// Request describes one optimization step
type Request struct {
	Params  *models.ParameterSet
	Desired models.Triplet
	// Names are the parameters to search; all others stay fixed
	Names []string
	// Weights default to models.DefaultWeights when left zero
	Weights models.Weights
	// Log overrides the optimizer's logger for this request
	Log *slog.Logger
}

// Evaluation is one oracle query made during a search
type Evaluation struct {
	Index int
	// Values holds the searched parameters, in request order
	Values     []float64
	Prediction models.Triplet
	Error      float64
	BestError  float64
	// Failure is the oracle error, when the evaluation scored +Inf
	Failure string
}

// OptimizationStep is the per-evaluation view used by convergence strategies
type OptimizationStep struct {
	Iteration int
	Score     float64
	BestScore float64
}

// Progress is reported after every evaluation
type Progress struct {
	Evaluation int
	Budget     int
	Error      float64
	BestError  float64
}

// ProgressFunc receives progress reports; it runs on the optimizing goroutine
type ProgressFunc func(Progress)

// OptimizationResult contains the outcome of a search
type OptimizationResult struct {
	Best              *models.ParameterSet
	Prediction        models.Triplet
	Error             float64
	Evaluations       int
	Dimensions        []Dimension
	Trace             []Evaluation
	Converged         bool
	ConvergenceReason string
	Duration          time.Duration
}

// Optimizer runs Gaussian-process / expected-improvement searches against an oracle
type Optimizer struct {
	oracle   oracle.PredictionOracle
	space    *SearchSpaceBuilder
	settings Settings
	log      *slog.Logger
}

// NewOptimizer creates an optimizer; zero settings fall back to DefaultSettings
func NewOptimizer(o oracle.PredictionOracle, space *SearchSpaceBuilder, settings Settings) *Optimizer {
	return &Optimizer{
		oracle:   o,
		space:    space,
		settings: settings.withDefaults(),
		log:      logger.With("component", "optimizer"),
	}
}

// WithLogger sets the logger used for search progress
func (o *Optimizer) WithLogger(l *slog.Logger) *Optimizer {
	o.log = l
	return o
}

// Settings returns the effective settings
func (o *Optimizer) Settings() Settings {
	return o.settings
}

// Oracle returns the prediction oracle the optimizer queries
func (o *Optimizer) Oracle() oracle.PredictionOracle {
	return o.oracle
}

// SearchSpace returns the search-space builder
func (o *Optimizer) SearchSpace() *SearchSpaceBuilder {
	return o.space
}

// searchRun holds the state of one Optimize call
type searchRun struct {
	oracle    oracle.PredictionOracle
	objective *Objective
	dims      []Dimension
	positions []int
	base      []float64
	budget    int
	progress  ProgressFunc
	log       *slog.Logger

	units   [][]float64
	scores  []float64
	trace   []Evaluation
	history []OptimizationStep
	best    float64
}

type evalResult struct {
	values     []float64
	prediction models.Triplet
	score      float64
	failure    string
}

// Optimize searches the selected parameters for the values whose prediction is
// closest to the desired properties. It returns before any oracle call when
// the request is invalid, and an error without a result when ctx is cancelled.
func (o *Optimizer) Optimize(ctx context.Context, req Request, progress ProgressFunc) (*OptimizationResult, error) {
	if req.Params == nil {
		return nil, fmt.Errorf("parameter set is required")
	}
	weights := req.Weights
	if weights == (models.Weights{}) {
		weights = models.DefaultWeights
	}
	objective, err := NewObjective(req.Desired, weights)
	if err != nil {
		return nil, err
	}
	dims, err := o.space.Build(req.Params, req.Names)
	if err != nil {
		return nil, err
	}

	log := o.log
	if req.Log != nil {
		log = req.Log
	}

	start := time.Now()
	run := &searchRun{
		oracle:    o.oracle,
		objective: objective,
		dims:      dims,
		positions: make([]int, len(dims)),
		base:      req.Params.Values(),
		budget:    o.settings.Budget,
		progress:  progress,
		log:       log,
		best:      math.Inf(1),
	}
	for i, d := range dims {
		run.positions[i] = req.Params.Index(d.Name)
	}

	rng := utils.NewRandSource(o.settings.Seed)
	if err := o.initialDesign(ctx, run, rng); err != nil {
		return nil, err
	}

	converged, reason := false, ""
	for len(run.trace) < run.budget {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("optimization cancelled after %d evaluations: %w", len(run.trace), err)
		}
		if o.settings.Convergence != nil {
			if converged, reason = o.settings.Convergence.CheckConvergence(run.history); converged {
				break
			}
		}
		u := o.propose(run, rng)
		run.record(u, run.evaluate(ctx, u))
	}

	bestIdx := utils.ArgMin(run.scores)
	if bestIdx < 0 || math.IsInf(run.scores[bestIdx], 1) {
		last := ""
		if n := len(run.trace); n > 0 {
			last = run.trace[n-1].Failure
		}
		return nil, fmt.Errorf("%w after %d evaluations: %s", ErrNoFeasibleEvaluation, len(run.trace), last)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("optimization cancelled after %d evaluations: %w", len(run.trace), err)
	}

	bestEval := run.trace[bestIdx]
	updates := make(map[string]float64, len(dims))
	for i, d := range dims {
		updates[d.Name] = bestEval.Values[i]
	}
	best, err := req.Params.With(updates)
	if err != nil {
		return nil, err
	}

	result := &OptimizationResult{
		Best:              best,
		Prediction:        bestEval.Prediction,
		Error:             bestEval.Error,
		Evaluations:       len(run.trace),
		Dimensions:        dims,
		Trace:             run.trace,
		Converged:         converged,
		ConvergenceReason: reason,
	}
	if final := o.oracle.Predict(ctx, best.Values()); final.OK() {
		result.Prediction = final.Prediction
		result.Error = objective.Evaluate(final.Prediction)
	} else {
		log.Warn("final prediction failed, reporting best observed values", "error", final.Err)
	}
	result.Duration = time.Since(start)

	log.Info("optimization finished",
		"parameters", req.Names,
		"evaluations", result.Evaluations,
		"best_error", result.Error,
		"converged", converged,
		"duration", result.Duration)
	return result, nil
}

// initialDesign evaluates the random starting points on a bounded worker pool.
// Points are drawn up front and results stored by index, so the outcome does
// not depend on scheduling.
func (o *Optimizer) initialDesign(ctx context.Context, run *searchRun, rng *utils.RandSource) error {
	n := o.settings.InitialPoints
	points := make([][]float64, n)
	for i := range points {
		points[i] = rng.UnitPoint(len(run.dims))
	}

	results := make([]evalResult, n)
	p := pool.New().WithMaxGoroutines(o.settings.Workers)
	for i, u := range points {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			results[i] = run.evaluate(ctx, u)
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("optimization cancelled during initial design: %w", err)
	}
	for i, u := range points {
		run.record(u, results[i])
	}
	return nil
}

// propose fits the surrogate and maximizes expected improvement. Failed
// evaluations enter the fit at the worst finite error seen so far.
func (o *Optimizer) propose(run *searchRun, rng *utils.RandSource) []float64 {
	dim := len(run.dims)
	worst := math.Inf(-1)
	bestFinite := math.Inf(1)
	for _, s := range run.scores {
		if math.IsInf(s, 1) {
			continue
		}
		worst = math.Max(worst, s)
		bestFinite = math.Min(bestFinite, s)
	}
	if math.IsInf(worst, -1) {
		return rng.UnitPoint(dim)
	}

	ys := make([]float64, len(run.scores))
	for i, s := range run.scores {
		if math.IsInf(s, 1) {
			s = worst
		}
		ys[i] = s
	}
	gp, err := fitGP(run.units, ys)
	if err != nil {
		run.log.Debug("surrogate fit failed, sampling at random", "error", err)
		return rng.UnitPoint(dim)
	}

	acq := &acquisition{
		gp:         gp,
		best:       gp.standardize(bestFinite),
		xi:         o.settings.Xi,
		candidates: o.settings.Candidates,
		rng:        rng,
	}
	return acq.next(dim, run.units)
}

// evaluate maps a unit-cube point into the search box and scores its prediction
func (r *searchRun) evaluate(ctx context.Context, u []float64) evalResult {
	features := make([]float64, len(r.base))
	copy(features, r.base)
	values := make([]float64, len(r.dims))
	for i, d := range r.dims {
		v := utils.ClampFloat64(d.Bounds.Min+u[i]*d.Bounds.Width(), d.Bounds.Min, d.Bounds.Max)
		values[i] = v
		features[r.positions[i]] = v
	}

	out := r.oracle.Predict(ctx, features)
	if !out.OK() {
		return evalResult{values: values, score: math.Inf(1), failure: out.Err.Error()}
	}
	return evalResult{values: values, prediction: out.Prediction, score: r.objective.Evaluate(out.Prediction)}
}

func (r *searchRun) record(u []float64, res evalResult) {
	if res.score < r.best {
		r.best = res.score
	}
	idx := len(r.trace)
	r.units = append(r.units, u)
	r.scores = append(r.scores, res.score)
	r.trace = append(r.trace, Evaluation{
		Index:      idx,
		Values:     res.values,
		Prediction: res.prediction,
		Error:      res.score,
		BestError:  r.best,
		Failure:    res.failure,
	})
	r.history = append(r.history, OptimizationStep{Iteration: idx + 1, Score: res.score, BestScore: r.best})

	if res.failure != "" {
		r.log.Debug("oracle evaluation failed", "evaluation", idx+1, "error", res.failure)
	} else {
		r.log.Debug("evaluation", "evaluation", idx+1, "error", res.score, "best_error", r.best)
	}
	if r.progress != nil {
		r.progress(Progress{Evaluation: idx + 1, Budget: r.budget, Error: res.score, BestError: r.best})
	}
}
