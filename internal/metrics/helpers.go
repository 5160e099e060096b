package metrics

import (
	"math"
	"time"

	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/pkg/models"
)

// Metric names recorded during optimization
const (
	MetricEvaluationError = "evaluation_error"
	MetricBestError       = "best_error"
	MetricOracleFailures  = "oracle_failures"
	MetricStepError       = "step_error"
	MetricStepDuration    = "step_duration_ms"
)

// ProgressRecorder returns a progress hook that records every evaluation into c.
// Failed evaluations count toward MetricOracleFailures instead of the error series.
func ProgressRecorder(c *Collector, labels map[string]string) improvement.ProgressFunc {
	return func(p improvement.Progress) {
		now := time.Now()
		if math.IsInf(p.Error, 1) {
			c.Record(MetricOracleFailures, float64(p.Evaluation), now, labels)
		} else {
			c.Record(MetricEvaluationError, p.Error, now, labels)
		}
		if !math.IsInf(p.BestError, 1) {
			c.Record(MetricBestError, p.BestError, now, labels)
		}
	}
}

// RecordStep records the outcome of a committed optimization step
func RecordStep(c *Collector, report *models.StepReport, labels map[string]string) {
	c.RecordNow(MetricStepError, report.AfterError, labels)
	c.RecordNow(MetricStepDuration, float64(report.Duration)/float64(time.Millisecond), labels)
}

// CreateSessionLabels creates a labels map for a session
func CreateSessionLabels(sessionID string) map[string]string {
	return map[string]string{
		"session": sessionID,
	}
}

// ConvertToTrace returns the evaluation and best-error series of the last run
func ConvertToTrace(c *Collector, labels map[string]string) *Trace {
	t := &Trace{
		Errors:   values(c.GetTimeSeries(MetricEvaluationError, labels)),
		Best:     values(c.GetTimeSeries(MetricBestError, labels)),
		Failures: len(c.GetTimeSeries(MetricOracleFailures, labels)),
	}
	if agg := c.GetAggregation(MetricEvaluationError, labels); agg != nil {
		t.Aggregation = agg
	}
	return t
}

// Trace is the progress of one optimization run
type Trace struct {
	Errors      []float64           `json:"errors"`
	Best        []float64           `json:"best_errors"`
	Failures    int                 `json:"oracle_failures"`
	Aggregation *models.Aggregation `json:"aggregation,omitempty"`
}

func values(points []*models.MetricPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
