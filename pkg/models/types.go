package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PropertyNames are the three predicted material properties, in oracle output order.
var PropertyNames = [3]string{"uts", "elongation", "conductivity"}

// Triplet holds one value per material property (UTS, elongation, conductivity)
type Triplet [3]float64

// Map returns the triplet keyed by property name
func (t Triplet) Map() map[string]float64 {
	return map[string]float64{
		PropertyNames[0]: t[0],
		PropertyNames[1]: t[1],
		PropertyNames[2]: t[2],
	}
}

// IsFinite reports whether every component is a finite number
func (t Triplet) IsFinite() bool {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Weights is the per-property weighting applied to relative errors
type Weights [3]float64

// DefaultWeights are the plant weights for UTS, elongation and conductivity
var DefaultWeights = Weights{0.4, 0.2, 0.4}

// Normalize scales the weights so they sum to 1.
// Weights must be non-negative with a positive sum.
func (w Weights) Normalize() (Weights, error) {
	sum := 0.0
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Weights{}, &InvalidWeightsError{Reason: fmt.Sprintf("weight %d (%s) must be a non-negative number, got %v", i, PropertyNames[i], v)}
		}
		sum += v
	}
	if sum <= 0 {
		return Weights{}, &InvalidWeightsError{Reason: "weights must have a positive sum"}
	}
	return Weights{w[0] / sum, w[1] / sum, w[2] / sum}, nil
}

// Bounds is a closed search interval for a single parameter
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Valid reports whether the interval has positive width
func (b Bounds) Valid() bool {
	return b.Min < b.Max && !math.IsNaN(b.Min) && !math.IsNaN(b.Max)
}

// Contains reports whether v lies inside the closed interval
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Width returns Max - Min
func (b Bounds) Width() float64 {
	return b.Max - b.Min
}

// ParameterSet is an ordered mapping from parameter name to value.
// The order defines the feature vector fed to the prediction oracle,
// and the key set never changes once the set is built.
type ParameterSet struct {
	names  []string
	values map[string]float64
}

// NewParameterSet builds a parameter set from parallel name/value slices
func NewParameterSet(names []string, values []float64) (*ParameterSet, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("parameter set: %d names but %d values", len(names), len(values))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("parameter set: at least one parameter is required")
	}
	p := &ParameterSet{
		names:  make([]string, 0, len(names)),
		values: make(map[string]float64, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("parameter set: name at position %d is empty", i)
		}
		if _, dup := p.values[name]; dup {
			return nil, fmt.Errorf("parameter set: duplicate parameter %s", name)
		}
		p.names = append(p.names, name)
		p.values[name] = values[i]
	}
	return p, nil
}

// Len returns the number of parameters
func (p *ParameterSet) Len() int {
	return len(p.names)
}

// Names returns the parameter names in feature order
func (p *ParameterSet) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Values returns the parameter values in feature order
func (p *ParameterSet) Values() []float64 {
	out := make([]float64, len(p.names))
	for i, name := range p.names {
		out[i] = p.values[name]
	}
	return out
}

// Get returns the value of a parameter
func (p *ParameterSet) Get(name string) (float64, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Has reports whether the set contains the named parameter
func (p *ParameterSet) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Index returns the feature position of a parameter, or -1
func (p *ParameterSet) Index(name string) int {
	for i, n := range p.names {
		if n == name {
			return i
		}
	}
	return -1
}

// With returns a copy of the set with the given values overwritten.
// Names outside the set are rejected so the key set stays fixed.
func (p *ParameterSet) With(updates map[string]float64) (*ParameterSet, error) {
	for name := range updates {
		if !p.Has(name) {
			return nil, &UnknownParameterError{Name: name}
		}
	}
	out := p.Clone()
	for name, v := range updates {
		out.values[name] = v
	}
	return out, nil
}

// Clone returns a deep copy
func (p *ParameterSet) Clone() *ParameterSet {
	if p == nil {
		return nil
	}
	out := &ParameterSet{
		names:  make([]string, len(p.names)),
		values: make(map[string]float64, len(p.values)),
	}
	copy(out.names, p.names)
	for k, v := range p.values {
		out.values[k] = v
	}
	return out
}

// Equal reports whether both sets have the same names, order and values
func (p *ParameterSet) Equal(other *ParameterSet) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.names) != len(other.names) {
		return false
	}
	for i, name := range p.names {
		if other.names[i] != name || other.values[name] != p.values[name] {
			return false
		}
	}
	return true
}

// Map returns an unordered copy of the values
func (p *ParameterSet) Map() map[string]float64 {
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the set as a JSON object preserving feature order
func (p *ParameterSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range p.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the document
func (p *ParameterSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("parameter set: expected JSON object")
	}
	var names []string
	var values []float64
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("parameter set: expected string key")
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("parameter set: value for %s: %w", key, err)
		}
		names = append(names, key)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	built, err := NewParameterSet(names, values)
	if err != nil {
		return err
	}
	*p = *built
	return nil
}

// ParameterChange describes how one parameter moved during an optimization step
type ParameterChange struct {
	Name             string  `json:"name"`
	OriginalValue    float64 `json:"original_value"`
	OptimizedValue   float64 `json:"optimized_value"`
	AbsoluteChange   float64 `json:"absolute_change"`
	PercentageChange float64 `json:"percentage_change"`
}

// StepReport summarises a committed optimization step
type StepReport struct {
	Parameters       []string          `json:"optimized_parameters"`
	BeforePrediction Triplet           `json:"before_prediction"`
	AfterPrediction  Triplet           `json:"after_prediction"`
	BeforeError      float64           `json:"original_error"`
	AfterError       float64           `json:"optimized_error"`
	ErrorReduction   float64           `json:"error_reduction"`
	Improved         bool              `json:"improved"`
	Changes          []ParameterChange `json:"parameter_changes"`
	Result           *ParameterSet     `json:"all_parameters"`
	Evaluations      int               `json:"evaluations"`
	Duration         time.Duration     `json:"duration_ns"`
}

// DiffParameters lists every parameter whose value differs between before and after
func DiffParameters(before, after *ParameterSet) []ParameterChange {
	changes := make([]ParameterChange, 0)
	for _, name := range before.Names() {
		orig, _ := before.Get(name)
		opt, ok := after.Get(name)
		if !ok || orig == opt {
			continue
		}
		change := opt - orig
		pct := 0.0
		if orig != 0 {
			pct = change / orig * 100
		}
		changes = append(changes, ParameterChange{
			Name:             name,
			OriginalValue:    orig,
			OptimizedValue:   opt,
			AbsoluteChange:   change,
			PercentageChange: pct,
		})
	}
	return changes
}

// MetricPoint is a single progress sample
type MetricPoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Aggregation represents aggregated statistics for a metric
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// MetricsSummary summarises the metrics of one optimization run
type MetricsSummary struct {
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Duration     time.Duration           `json:"duration_ns"`
	Metrics      map[string][]float64    `json:"metrics"`
	Aggregations map[string]*Aggregation `json:"aggregations"`
}
