package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rodline/procopt/pkg/models"
	"github.com/rodline/procopt/pkg/utils"
)

// Collector collects the time series of an optimization run
type Collector struct {
	mu sync.RWMutex

	startTime time.Time
	endTime   time.Time

	// metric name -> label key -> points
	timeSeries map[string]map[string][]*models.MetricPoint
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:  time.Now(),
		timeSeries: make(map[string]map[string][]*models.MetricPoint),
	}
}

// Start marks the start of metric collection
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.endTime = time.Time{}
}

// Stop marks the end of metric collection
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record records a metric value at a specific timestamp
func (c *Collector) Record(name string, value float64, timestamp time.Time, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.timeSeries[name] == nil {
		c.timeSeries[name] = make(map[string][]*models.MetricPoint)
	}
	c.timeSeries[name][key] = append(c.timeSeries[name][key], &models.MetricPoint{
		Timestamp: timestamp,
		Name:      name,
		Value:     value,
		Labels:    copyLabels(labels),
	})
}

// RecordNow records a metric value at the current time
func (c *Collector) RecordNow(name string, value float64, labels map[string]string) {
	c.Record(name, value, time.Now(), labels)
}

// GetTimeSeries returns a copy of the points recorded for a metric and label set
func (c *Collector) GetTimeSeries(name string, labels map[string]string) []*models.MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.getPointsUnsafe(name, labelKey(labels))
	if points == nil {
		return nil
	}
	result := make([]*models.MetricPoint, len(points))
	for i, p := range points {
		result[i] = &models.MetricPoint{
			Timestamp: p.Timestamp,
			Name:      p.Name,
			Value:     p.Value,
			Labels:    copyLabels(p.Labels),
		}
	}
	return result
}

// GetAggregation calculates aggregated statistics for a metric
func (c *Collector) GetAggregation(name string, labels map[string]string) *models.Aggregation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return calculateAggregation(c.getPointsUnsafe(name, labelKey(labels)))
}

// Count returns the number of points recorded for a metric across all labels
func (c *Collector) Count(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, points := range c.timeSeries[name] {
		n += len(points)
	}
	return n
}

// GetSummary returns all values per metric with their aggregations
func (c *Collector) GetSummary() *models.MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	end := c.endTime
	if end.IsZero() {
		end = time.Now()
	}
	summary := &models.MetricsSummary{
		StartTime:    c.startTime,
		EndTime:      c.endTime,
		Duration:     end.Sub(c.startTime),
		Metrics:      make(map[string][]float64),
		Aggregations: make(map[string]*models.Aggregation),
	}

	for name, labelMap := range c.timeSeries {
		all := make([]*models.MetricPoint, 0)
		for _, points := range labelMap {
			all = append(all, points...)
		}
		sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

		values := make([]float64, len(all))
		for i, p := range all {
			values[i] = p.Value
		}
		summary.Metrics[name] = values
		if agg := calculateAggregation(all); agg != nil {
			summary.Aggregations[name] = agg
		}
	}
	return summary
}

// Clear drops all recorded points
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeSeries = make(map[string]map[string][]*models.MetricPoint)
}

// getPointsUnsafe returns points without locking (caller must hold lock)
func (c *Collector) getPointsUnsafe(name, key string) []*models.MetricPoint {
	if c.timeSeries[name] == nil {
		return nil
	}
	return c.timeSeries[name][key]
}

// labelKey creates a stable map key from labels
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func calculateAggregation(points []*models.MetricPoint) *models.Aggregation {
	if len(points) == 0 {
		return nil
	}

	values := make([]float64, len(points))
	sum := 0.0
	for i, p := range points {
		values[i] = p.Value
		sum += p.Value
	}
	sort.Float64s(values)

	return &models.Aggregation{
		Count: int64(len(values)),
		Sum:   sum,
		Min:   values[0],
		Max:   values[len(values)-1],
		Mean:  sum / float64(len(values)),
		P50:   calculatePercentile(values, 0.50),
		P95:   calculatePercentile(values, 0.95),
	}
}

// calculatePercentile interpolates the percentile p in [0, 1] of values
func calculatePercentile(values []float64, p float64) float64 {
	return utils.Percentile(values, p*100)
}
