package utils

import (
	"math/rand"
	"time"
)

// RandSource is a seeded random number generator for search trajectories.
// It is not safe for concurrent use; each optimization run owns its own source.
type RandSource struct {
	rng *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed draws one from the clock, so the run is not reproducible.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *RandSource) Float64() float64 {
	return r.rng.Float64()
}

// UnitPoint returns a uniformly distributed point in the unit hypercube [0, 1)^dim
func (r *RandSource) UnitPoint(dim int) []float64 {
	p := make([]float64, dim)
	for i := range p {
		p[i] = r.rng.Float64()
	}
	return p
}

// Float64 returns a random float64 from the shared source, used for retry jitter.
// Safe for concurrent use.
func Float64() float64 {
	return rand.Float64()
}
