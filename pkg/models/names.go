package models

import "fmt"

// NameMapping translates between the external (API/bootstrap) parameter names
// and the canonical names the regression model was trained on.
type NameMapping struct {
	external []string
	toCanon  map[string]string
	toExt    map[string]string
}

// DefaultNameMapping is the plant's fixed 11-entry table, in model feature order
var DefaultNameMapping = MustNameMapping([][2]string{
	{"si", "SI"},
	{"fe", "FE"},
	{"metalTemp", "MetalTemp"},
	{"castingWheelRpm", "CastingWheel_RPM"},
	{"coolingWaterPressure", "CoolingWaterPressure"},
	{"coolingWaterTemp", "CoolingWaterTemp"},
	{"castBarEntryTemp", "CastBarEntryTemp"},
	{"rollingMillRpm", "RollingMill_RPM"},
	{"emulsionTemp", "EmulsionTemp"},
	{"emulsionPressure", "EmulsionPressure"},
	{"rodQuenchWaterPressure", "RodQuenchWaterPressure"},
})

// NewNameMapping builds a bidirectional mapping from {external, canonical} pairs.
// Both sides must be unique and non-empty.
func NewNameMapping(pairs [][2]string) (*NameMapping, error) {
	m := &NameMapping{
		external: make([]string, 0, len(pairs)),
		toCanon:  make(map[string]string, len(pairs)),
		toExt:    make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		ext, canon := p[0], p[1]
		if ext == "" || canon == "" {
			return nil, fmt.Errorf("name mapping entries cannot be empty")
		}
		if _, dup := m.toCanon[ext]; dup {
			return nil, fmt.Errorf("duplicate external name: %s", ext)
		}
		if _, dup := m.toExt[canon]; dup {
			return nil, fmt.Errorf("duplicate canonical name: %s", canon)
		}
		m.external = append(m.external, ext)
		m.toCanon[ext] = canon
		m.toExt[canon] = ext
	}
	return m, nil
}

// MustNameMapping is NewNameMapping that panics on invalid tables
func MustNameMapping(pairs [][2]string) *NameMapping {
	m, err := NewNameMapping(pairs)
	if err != nil {
		panic(err)
	}
	return m
}

// Len returns the number of entries
func (m *NameMapping) Len() int {
	return len(m.external)
}

// Canonical returns the model-side name for an external name
func (m *NameMapping) Canonical(external string) (string, bool) {
	c, ok := m.toCanon[external]
	return c, ok
}

// External returns the API-side name for a canonical name
func (m *NameMapping) External(canonical string) (string, bool) {
	e, ok := m.toExt[canonical]
	return e, ok
}

// CanonicalOrder returns the canonical names in table order
func (m *NameMapping) CanonicalOrder() []string {
	out := make([]string, len(m.external))
	for i, ext := range m.external {
		out[i] = m.toCanon[ext]
	}
	return out
}
