package improvement

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/rodline/procopt/pkg/config"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
)

// ParameterKind selects the heuristic interval used when no explicit bounds exist
type ParameterKind string

const (
	KindTemperature ParameterKind = "temperature"
	KindSpeed       ParameterKind = "speed"
	KindPressure    ParameterKind = "pressure"
	KindGeneric     ParameterKind = "generic"
)

// Spread returns the relative half-width of the heuristic interval
func (k ParameterKind) Spread() float64 {
	switch k {
	case KindTemperature:
		return 0.05
	case KindSpeed, KindPressure:
		return 0.20
	default:
		return 0.10
	}
}

// ClassifyName derives a kind from naming conventions of the plant's parameters
func ClassifyName(name string) ParameterKind {
	switch {
	case strings.Contains(name, "Temp"):
		return KindTemperature
	case strings.Contains(name, "RPM"):
		return KindSpeed
	case strings.Contains(name, "Pressure"):
		return KindPressure
	default:
		return KindGeneric
	}
}

// ParameterSpec is one row of the parameter metadata table
type ParameterSpec struct {
	Name   string
	Kind   ParameterKind
	Bounds *models.Bounds
	// Floor clamps the lower end of heuristic intervals, e.g. 0 for physical quantities
	Floor *float64
}

// Dimension is one searched parameter with its interval
type Dimension struct {
	Name      string        `json:"name"`
	Bounds    models.Bounds `json:"bounds"`
	Heuristic bool          `json:"heuristic"`
}

// DegenerateSearchIntervalError indicates a heuristic interval of zero width
type DegenerateSearchIntervalError struct {
	Name  string
	Value float64
}

func (e *DegenerateSearchIntervalError) Error() string {
	return fmt.Sprintf("parameter %s: heuristic search interval around %v has no width; configure explicit bounds", e.Name, e.Value)
}

// SearchSpaceBuilder turns a parameter selection into search dimensions
type SearchSpaceBuilder struct {
	specs map[string]ParameterSpec
	log   *slog.Logger
}

// NewSearchSpaceBuilder indexes the metadata table. Rows without a kind are
// classified by name here, once.
func NewSearchSpaceBuilder(specs []ParameterSpec) (*SearchSpaceBuilder, error) {
	b := &SearchSpaceBuilder{
		specs: make(map[string]ParameterSpec, len(specs)),
		log:   logger.With("component", "search_space"),
	}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("parameter spec with empty name")
		}
		if _, dup := b.specs[s.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter spec: %s", s.Name)
		}
		if s.Bounds != nil && !s.Bounds.Valid() {
			return nil, fmt.Errorf("parameter %s: invalid bounds (%v, %v)", s.Name, s.Bounds.Min, s.Bounds.Max)
		}
		if s.Kind == "" {
			s.Kind = ClassifyName(s.Name)
		}
		b.specs[s.Name] = s
	}
	return b, nil
}

// SpecsFromConfig converts configured parameters to metadata rows
func SpecsFromConfig(params []config.Parameter) []ParameterSpec {
	specs := make([]ParameterSpec, 0, len(params))
	for _, p := range params {
		s := ParameterSpec{Name: p.Name, Kind: ParameterKind(p.Kind)}
		if b, ok := p.Bounds(); ok {
			s.Bounds = &b
		}
		if p.Floor != nil {
			f := *p.Floor
			s.Floor = &f
		}
		specs = append(specs, s)
	}
	return specs
}

// Spec returns the metadata row for name, classifying unknown names by convention
func (b *SearchSpaceBuilder) Spec(name string) ParameterSpec {
	if s, ok := b.specs[name]; ok {
		return s
	}
	return ParameterSpec{Name: name, Kind: ClassifyName(name)}
}

// Build returns one dimension per selected name, in selection order
func (b *SearchSpaceBuilder) Build(params *models.ParameterSet, names []string) ([]Dimension, error) {
	if len(names) == 0 {
		return nil, &models.InvalidSelectionError{Reason: "no parameters selected"}
	}
	seen := make(map[string]bool, len(names))
	dims := make([]Dimension, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, &models.InvalidSelectionError{Input: name, Reason: "parameter selected more than once"}
		}
		seen[name] = true

		current, ok := params.Get(name)
		if !ok {
			return nil, &models.UnknownParameterError{Name: name}
		}
		dim, err := b.dimension(b.Spec(name), current)
		if err != nil {
			return nil, err
		}
		dims = append(dims, dim)
	}
	return dims, nil
}

func (b *SearchSpaceBuilder) dimension(spec ParameterSpec, current float64) (Dimension, error) {
	if spec.Bounds != nil {
		if !spec.Bounds.Contains(current) {
			b.log.Warn("current value outside operating bounds", "parameter", spec.Name,
				"value", current, "min", spec.Bounds.Min, "max", spec.Bounds.Max)
		}
		return Dimension{Name: spec.Name, Bounds: *spec.Bounds}, nil
	}

	if current == 0 || math.IsNaN(current) || math.IsInf(current, 0) {
		return Dimension{}, &DegenerateSearchIntervalError{Name: spec.Name, Value: current}
	}
	spread := spec.Kind.Spread()
	lo, hi := current*(1-spread), current*(1+spread)
	if lo > hi {
		lo, hi = hi, lo
	}
	if spec.Floor != nil && lo < *spec.Floor {
		lo = *spec.Floor
	}
	if lo >= hi {
		return Dimension{}, &DegenerateSearchIntervalError{Name: spec.Name, Value: current}
	}
	return Dimension{Name: spec.Name, Bounds: models.Bounds{Min: lo, Max: hi}, Heuristic: true}, nil
}
