package utils

import "testing"

func TestNewRandSource(t *testing.T) {
	if NewRandSource(12345) == nil {
		t.Fatal("Expected RandSource to be created")
	}
	// zero seed falls back to the clock
	if NewRandSource(0) == nil {
		t.Fatal("Expected RandSource to be created with zero seed")
	}
}

func TestRandSourceFloat64(t *testing.T) {
	rng := NewRandSource(12345)

	for i := 0; i < 100; i++ {
		val := rng.Float64()
		if val < 0 || val >= 1.0 {
			t.Errorf("Float64() returned value outside [0, 1): %f", val)
		}
	}
}

func TestRandSourceUnitPoint(t *testing.T) {
	rng := NewRandSource(7)
	p := rng.UnitPoint(4)
	if len(p) != 4 {
		t.Fatalf("expected 4 coordinates, got %d", len(p))
	}
	for _, v := range p {
		if v < 0 || v >= 1 {
			t.Fatalf("coordinate %f outside unit interval", v)
		}
	}
}

func TestRandSourceDeterministic(t *testing.T) {
	a := NewRandSource(42)
	b := NewRandSource(42)
	for i := 0; i < 50; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("same seed produced different sequences at step %d", i)
		}
	}
}
