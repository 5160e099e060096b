package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/metrics"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
)

var (
	// ErrNothingToUndo is returned by Undo when only the root entry remains
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrSessionBusy is returned when a mutation overlaps a running optimization
	ErrSessionBusy = errors.New("session is busy")
	// ErrSessionNotFound is returned by the manager for unknown session IDs
	ErrSessionNotFound = errors.New("session not found")
	// ErrOracleUnavailable wraps oracle failures outside the search itself
	ErrOracleUnavailable = errors.New("prediction oracle unavailable")
)

// significantImprovementPct is the relative error drop a step needs to count as improved
const significantImprovementPct = 1.0

// State is the session state derived from the history depth
type State string

const (
	StateIdle   State = "idle"   // only the root entry
	StateActive State = "active" // at least one committed step
)

// Entry is one snapshot on the history stack
type Entry struct {
	Params *models.ParameterSet `json:"parameters"`
	// Report is nil for the root entry
	Report    *models.StepReport `json:"report,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// HistoryRecorder persists history changes. Every method is called before the
// in-memory mutation; an error aborts the mutation.
type HistoryRecorder interface {
	Init(ctx context.Context, id string, desired models.Triplet, root Entry) error
	Push(ctx context.Context, id string, depth int, entry Entry) error
	Truncate(ctx context.Context, id string, depth int) error
	SetDesired(ctx context.Context, id string, desired models.Triplet) error
	Delete(ctx context.Context, id string) error
}

type nopRecorder struct{}

func (nopRecorder) Init(context.Context, string, models.Triplet, Entry) error { return nil }
func (nopRecorder) Push(context.Context, string, int, Entry) error            { return nil }
func (nopRecorder) Truncate(context.Context, string, int) error               { return nil }
func (nopRecorder) SetDesired(context.Context, string, models.Triplet) error  { return nil }
func (nopRecorder) Delete(context.Context, string) error                      { return nil }

// Snapshot is a consistent read-only view of a session
type Snapshot struct {
	ID            string               `json:"id"`
	State         State                `json:"state"`
	Current       *models.ParameterSet `json:"current_parameters"`
	Desired       models.Triplet       `json:"desired"`
	Weights       models.Weights       `json:"weights"`
	HistoryLength int                  `json:"history_length"`
	Busy          bool                 `json:"busy"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Session owns one operator's parameter history and desired targets.
// Only Optimize talks to the oracle; the other mutations are in-memory
// apart from the recorder.
type Session struct {
	id        string
	optimizer *improvement.Optimizer
	weights   models.Weights
	recorder  HistoryRecorder
	collector *metrics.Collector
	labels    map[string]string
	log       *slog.Logger
	createdAt time.Time

	mu      sync.Mutex
	busy    bool
	desired models.Triplet
	history []Entry
}

// Option configures a session
type Option func(*Session)

// WithID sets the session ID; the manager assigns a UUID otherwise
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithWeights overrides the default property weights
func WithWeights(w models.Weights) Option {
	return func(s *Session) { s.weights = w }
}

// WithRecorder attaches a persistence hook
func WithRecorder(r HistoryRecorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

func newSession(opt *improvement.Optimizer, opts []Option) (*Session, error) {
	if opt == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	s := &Session{
		optimizer: opt,
		weights:   models.DefaultWeights,
		recorder:  nopRecorder{},
		collector: metrics.NewCollector(),
		createdAt: time.Now().UTC(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = "default"
	}
	if _, err := s.weights.Normalize(); err != nil {
		return nil, err
	}
	s.labels = metrics.CreateSessionLabels(s.id)
	s.log = logger.ForSession(s.id)
	return s, nil
}

// New creates a session whose history holds only params
func New(ctx context.Context, opt *improvement.Optimizer, params *models.ParameterSet, desired models.Triplet, opts ...Option) (*Session, error) {
	s, err := newSession(opt, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx, params, desired); err != nil {
		return nil, err
	}
	return s, nil
}

// Restore rebuilds a session from persisted history without calling the recorder
func Restore(opt *improvement.Optimizer, desired models.Triplet, history []Entry, opts ...Option) (*Session, error) {
	if len(history) == 0 || history[0].Params == nil {
		return nil, fmt.Errorf("restore: history must contain a root entry")
	}
	if err := improvement.ValidateDesired(desired); err != nil {
		return nil, err
	}
	s, err := newSession(opt, opts)
	if err != nil {
		return nil, err
	}
	s.desired = desired
	s.history = make([]Entry, len(history))
	copy(s.history, history)
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Initialize discards the history and starts over from params
func (s *Session) Initialize(ctx context.Context, params *models.ParameterSet, desired models.Triplet) error {
	if params == nil || params.Len() == 0 {
		return fmt.Errorf("parameter set is required")
	}
	if err := improvement.ValidateDesired(desired); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrSessionBusy
	}

	root := Entry{Params: params.Clone(), CreatedAt: time.Now().UTC()}
	if err := s.recorder.Init(ctx, s.id, desired, root); err != nil {
		return fmt.Errorf("record initialize: %w", err)
	}
	s.desired = desired
	s.history = []Entry{root}
	s.collector.Clear()
	s.collector.Start()
	s.log.Info("session initialized", "parameters", params.Len())
	return nil
}

// Optimize searches names starting from the current parameters and pushes
// the best set found. On any error the history is left untouched.
func (s *Session) Optimize(ctx context.Context, names []string, progress improvement.ProgressFunc) (*models.StepReport, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.busy = true
	current := s.history[len(s.history)-1].Params.Clone()
	desired := s.desired
	depth := len(s.history)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	// validate before the first oracle call
	objective, err := improvement.NewObjective(desired, s.weights)
	if err != nil {
		return nil, err
	}
	if _, err := s.optimizer.SearchSpace().Build(current, names); err != nil {
		return nil, err
	}

	before := s.optimizer.Oracle().Predict(ctx, current.Values())
	if !before.OK() {
		return nil, fmt.Errorf("%w: predict current parameters: %w", ErrOracleUnavailable, before.Err)
	}

	s.collector.Clear()
	s.collector.Start()
	record := metrics.ProgressRecorder(s.collector, s.labels)
	hook := func(p improvement.Progress) {
		record(p)
		if progress != nil {
			progress(p)
		}
	}

	s.log.Info("optimization started", "parameters", names, "before_error", objective.Evaluate(before.Prediction))
	result, err := s.optimizer.Optimize(ctx, improvement.Request{
		Params:  current,
		Desired: desired,
		Names:   names,
		Weights: s.weights,
		Log:     s.log,
	}, hook)
	s.collector.Stop()
	if err != nil {
		s.log.Warn("optimization failed", "error", err)
		return nil, err
	}

	cmp, err := improvement.ComparePredictions(before.Prediction, result.Prediction, objective)
	if err != nil {
		return nil, err
	}
	report := &models.StepReport{
		Parameters:       append([]string(nil), names...),
		BeforePrediction: cmp.Before,
		AfterPrediction:  cmp.After,
		BeforeError:      cmp.BeforeError,
		AfterError:       cmp.AfterError,
		ErrorReduction:   cmp.ErrorReduction(),
		Improved:         cmp.IsSignificantImprovement(significantImprovementPct),
		Changes:          models.DiffParameters(current, result.Best),
		Result:           result.Best.Clone(),
		Evaluations:      result.Evaluations,
		Duration:         result.Duration,
	}
	entry := Entry{Params: result.Best, Report: report, CreatedAt: time.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recorder.Push(context.WithoutCancel(ctx), s.id, depth, entry); err != nil {
		return nil, fmt.Errorf("record optimize: %w", err)
	}
	s.history = append(s.history, entry)
	metrics.RecordStep(s.collector, report, s.labels)

	s.log.Info("optimization committed",
		"history_length", len(s.history),
		"original_error", report.BeforeError,
		"optimized_error", report.AfterError,
		"improvement_pct", cmp.ImprovementPercentage())
	if !report.Improved {
		s.log.Warn("step did not improve the predicted error", "threshold_pct", significantImprovementPct)
	}
	return report, nil
}

// Undo drops the most recent step
func (s *Session) Undo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrSessionBusy
	}
	if len(s.history) <= 1 {
		return ErrNothingToUndo
	}
	depth := len(s.history) - 1
	if err := s.recorder.Truncate(ctx, s.id, depth); err != nil {
		return fmt.Errorf("record undo: %w", err)
	}
	s.history = s.history[:depth]
	s.log.Info("step undone", "history_length", depth)
	return nil
}

// Reset truncates the history back to the root entry
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrSessionBusy
	}
	if len(s.history) == 1 {
		return nil
	}
	if err := s.recorder.Truncate(ctx, s.id, 1); err != nil {
		return fmt.Errorf("record reset: %w", err)
	}
	s.history = s.history[:1]
	s.log.Info("session reset")
	return nil
}

// SetDesired replaces the target properties without touching the history
func (s *Session) SetDesired(ctx context.Context, desired models.Triplet) error {
	if err := improvement.ValidateDesired(desired); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrSessionBusy
	}
	if err := s.recorder.SetDesired(ctx, s.id, desired); err != nil {
		return fmt.Errorf("record desired: %w", err)
	}
	s.desired = desired
	s.log.Info("desired values updated", "desired", desired)
	return nil
}

// Current returns a copy of the top-of-history parameter set
func (s *Session) Current() *models.ParameterSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[len(s.history)-1].Params.Clone()
}

// Root returns a copy of the original parameter set
func (s *Session) Root() *models.ParameterSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[0].Params.Clone()
}

// History returns the history entries, root first
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	for i, e := range s.history {
		out[i] = Entry{Params: e.Params.Clone(), Report: e.Report, CreatedAt: e.CreatedAt}
	}
	return out
}

// Len returns the history depth
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Desired returns the target properties
func (s *Session) Desired() models.Triplet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired
}

// State reports idle or active
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	if len(s.history) > 1 {
		return StateActive
	}
	return StateIdle
}

// Snapshot returns a consistent view of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.id,
		State:         s.stateLocked(),
		Current:       s.history[len(s.history)-1].Params.Clone(),
		Desired:       s.desired,
		Weights:       s.weights,
		HistoryLength: len(s.history),
		Busy:          s.busy,
		CreatedAt:     s.createdAt,
	}
}

// Prediction is the oracle's view of the current parameters
type Prediction struct {
	Prediction models.Triplet `json:"prediction"`
	Error      float64        `json:"error"`
	Relative   [3]float64     `json:"relative_errors"`
}

// Predict queries the oracle for the current parameters and scores the result
func (s *Session) Predict(ctx context.Context) (*Prediction, error) {
	current := s.Current()
	desired := s.Desired()

	out := s.optimizer.Oracle().Predict(ctx, current.Values())
	if !out.OK() {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, out.Err)
	}
	errVal, err := improvement.ErrorMetric(out.Prediction, desired, s.weights)
	if err != nil {
		return nil, err
	}
	rel, err := improvement.RelativeErrors(out.Prediction, desired)
	if err != nil {
		return nil, err
	}
	return &Prediction{Prediction: out.Prediction, Error: errVal, Relative: rel}, nil
}

// Trace returns the progress of the last optimization run
func (s *Session) Trace() *metrics.Trace {
	return metrics.ConvertToTrace(s.collector, s.labels)
}

// Metrics returns the metric summary of the last optimization run
func (s *Session) Metrics() *models.MetricsSummary {
	return s.collector.GetSummary()
}

// Trend summarises the errors along the history, root first.
// It fails until at least one step has been committed.
func (s *Session) Trend() (*improvement.HistoryTrend, error) {
	s.mu.Lock()
	errs := make([]float64, 0, len(s.history))
	for _, e := range s.history[1:] {
		if e.Report == nil {
			continue
		}
		// the first reported step also carries the baseline
		if len(errs) == 0 {
			errs = append(errs, e.Report.BeforeError)
		}
		errs = append(errs, e.Report.AfterError)
	}
	s.mu.Unlock()
	return improvement.CompareHistory(errs)
}
