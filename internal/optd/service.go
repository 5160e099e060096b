// Package optd exposes optimization sessions over HTTP and gRPC.
package optd

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rodline/procopt/internal/bootstrap"
	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/internal/metrics"
	"github.com/rodline/procopt/internal/policy"
	"github.com/rodline/procopt/internal/session"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
)

// Options configures a Service
type Options struct {
	// Mapping translates API parameter names; defaults to models.DefaultNameMapping
	Mapping *models.NameMapping
	// BootstrapPath is read when a create request omits parameters or targets
	BootstrapPath string
	// Limiter bounds optimize calls per session; nil disables limiting
	Limiter policy.RateLimitingPolicy
	// Notifier receives committed steps; nil disables callbacks
	Notifier *Notifier
}

// Service holds the transport-independent request handling shared by the HTTP and gRPC servers
type Service struct {
	manager       *session.Manager
	mapping       *models.NameMapping
	bootstrapPath string
	limiter       policy.RateLimitingPolicy
	notifier      *Notifier
	now           func() time.Time
}

// NewService creates a service over m
func NewService(m *session.Manager, opts Options) *Service {
	mapping := opts.Mapping
	if mapping == nil {
		mapping = models.DefaultNameMapping
	}
	return &Service{
		manager:       m,
		mapping:       mapping,
		bootstrapPath: opts.BootstrapPath,
		limiter:       opts.Limiter,
		notifier:      opts.Notifier,
		now:           time.Now,
	}
}

// Desired is the wire form of the target properties
type Desired struct {
	UTS          float64 `json:"uts"`
	Elongation   float64 `json:"elongation"`
	Conductivity float64 `json:"conductivity"`
}

// Triplet converts to the model order
func (d Desired) Triplet() models.Triplet {
	return models.Triplet{d.UTS, d.Elongation, d.Conductivity}
}

// CreateRequest starts a session; omitted fields come from the bootstrap file
type CreateRequest struct {
	// Parameters are keyed by external name
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Desired    *Desired           `json:"desired,omitempty"`
}

// OptimizeRequest selects the parameters of one step
type OptimizeRequest struct {
	Parameters []string `json:"parameters"`
}

// ProgressPoint is one evaluation of a step; null errors mark failed oracle calls
type ProgressPoint struct {
	Evaluation int      `json:"evaluation"`
	Error      *float64 `json:"error"`
	BestError  *float64 `json:"best_error"`
}

// StateResponse is the current state of a session plus the live prediction
type StateResponse struct {
	Session         session.Snapshot    `json:"session"`
	Prediction      *session.Prediction `json:"prediction,omitempty"`
	PredictionError string              `json:"prediction_error,omitempty"`
}

// OptimizeResponse reports a committed step
type OptimizeResponse struct {
	Report   *models.StepReport `json:"report"`
	Progress []ProgressPoint    `json:"progress"`
	Session  session.Snapshot   `json:"session"`
}

// TraceResponse is the progress of the last optimization run
type TraceResponse struct {
	Trace   *metrics.Trace         `json:"trace"`
	Metrics *models.MetricsSummary `json:"metrics"`
}

func finitePtr(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*session.Session, error) {
	var (
		params  *models.ParameterSet
		desired models.Triplet
		err     error
	)
	if req.Parameters != nil {
		params, err = bootstrap.ParamsFromExternal(req.Parameters, s.mapping)
		if err != nil {
			return nil, err
		}
	}
	if req.Desired != nil {
		desired = req.Desired.Triplet()
	}

	if params == nil || req.Desired == nil {
		if s.bootstrapPath == "" {
			return nil, fmt.Errorf("%w: parameters and desired values are required", ErrBadRequest)
		}
		snap, err := bootstrap.Load(s.bootstrapPath, s.mapping)
		if err != nil {
			return nil, err
		}
		if params == nil {
			params = snap.Params
		}
		if req.Desired == nil {
			if !snap.HasPrediction {
				return nil, fmt.Errorf("%w: desired values are required", ErrBadRequest)
			}
			desired = snap.Prediction
		}
	}
	return s.manager.Create(ctx, params, desired)
}

func (s *Service) Get(id string) (*session.Session, error) {
	return s.manager.Get(id)
}

func (s *Service) List() []string {
	return s.manager.List()
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.manager.Delete(ctx, id)
}

// State returns the session snapshot with a live prediction; an oracle
// failure is reported in the response rather than failing it
func (s *Service) State(ctx context.Context, id string) (*StateResponse, error) {
	sess, err := s.manager.Get(id)
	if err != nil {
		return nil, err
	}
	resp := &StateResponse{Session: sess.Snapshot()}
	pred, err := sess.Predict(ctx)
	if err != nil {
		resp.PredictionError = err.Error()
	} else {
		resp.Prediction = pred
	}
	return resp, nil
}

func (s *Service) SetDesired(ctx context.Context, id string, d Desired) (session.Snapshot, error) {
	sess, err := s.manager.Get(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	if err := sess.SetDesired(ctx, d.Triplet()); err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Optimize runs one step. Names may be canonical or external.
func (s *Service) Optimize(ctx context.Context, id string, names []string) (*OptimizeResponse, error) {
	sess, err := s.manager.Get(id)
	if err != nil {
		return nil, err
	}
	if s.limiter != nil && !s.limiter.AllowRequest(id, s.now()) {
		return nil, ErrRateLimited
	}

	canonical := make([]string, len(names))
	for i, n := range names {
		if c, ok := s.mapping.Canonical(n); ok {
			n = c
		}
		canonical[i] = n
	}

	var progress []ProgressPoint
	report, err := sess.Optimize(ctx, canonical, func(p improvement.Progress) {
		progress = append(progress, ProgressPoint{
			Evaluation: p.Evaluation,
			Error:      finitePtr(p.Error),
			BestError:  finitePtr(p.BestError),
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("optimization step committed", "session_id", id, "evaluations", report.Evaluations)
	snap := sess.Snapshot()
	s.notifier.Notify(StepNotification{
		SessionID:     id,
		State:         snap.State,
		HistoryLength: snap.HistoryLength,
		Report:        report,
		Timestamp:     s.now().UTC().UnixMilli(),
	})
	return &OptimizeResponse{Report: report, Progress: progress, Session: snap}, nil
}

func (s *Service) Undo(ctx context.Context, id string) (session.Snapshot, error) {
	sess, err := s.manager.Get(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	if err := sess.Undo(ctx); err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Service) Reset(ctx context.Context, id string) (session.Snapshot, error) {
	sess, err := s.manager.Get(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	if err := sess.Reset(ctx); err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Service) Trace(id string) (*TraceResponse, error) {
	sess, err := s.manager.Get(id)
	if err != nil {
		return nil, err
	}
	return &TraceResponse{Trace: sess.Trace(), Metrics: sess.Metrics()}, nil
}

func (s *Service) History(id string) ([]session.Entry, error) {
	sess, err := s.manager.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.History(), nil
}
