package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rodline/procopt/internal/policy"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
	"github.com/rodline/procopt/pkg/utils"
)

// guard runs one logical prediction through the circuit breaker and retry policy
type guard struct {
	target   string
	timeout  time.Duration
	policies *policy.Manager
	log      *slog.Logger
	now      func() time.Time
}

func newGuard(target string, timeout time.Duration, policies *policy.Manager) *guard {
	return &guard{
		target:   target,
		timeout:  timeout,
		policies: policies,
		log:      logger.With("component", "oracle", "target", target),
		now:      time.Now,
	}
}

func (g *guard) do(ctx context.Context, call func(ctx context.Context) (models.Triplet, error)) Outcome {
	retry := g.policies.GetRetry()
	breaker := g.policies.GetCircuitBreaker()

	for attempt := 0; ; attempt++ {
		if breaker != nil && !breaker.AllowRequest(g.target, g.now()) {
			return Failure(ErrCircuitOpen)
		}

		t, err := g.once(ctx, call)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess(g.target, g.now())
			}
			return Success(t)
		}

		var perm *policy.PermanentError
		if breaker != nil && !errors.As(err, &perm) && ctx.Err() == nil {
			breaker.RecordFailure(g.target, g.now())
		}
		if retry == nil || !retry.ShouldRetry(attempt, err) || ctx.Err() != nil {
			return Failure(err)
		}

		delay := retry.GetBackoffDuration(attempt + 1)
		g.log.Debug("retrying prediction", "attempt", attempt+1, "delay", delay, "error", err)
		if werr := utils.Wait(ctx, delay); werr != nil {
			return Failure(err)
		}
	}
}

func (g *guard) once(ctx context.Context, call func(ctx context.Context) (models.Triplet, error)) (models.Triplet, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	t, err := call(ctx)
	if err != nil {
		return models.Triplet{}, err
	}
	if !t.IsFinite() {
		return models.Triplet{}, policy.Permanent(&InvalidPredictionError{Reason: "non-finite value in response"})
	}
	return t, nil
}
