package utils

import (
	"math"
	"testing"
)

func TestClampFloat64(t *testing.T) {
	tests := []struct {
		value, min, max, expected float64
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
		{800.0000001, 600, 800, 800},
	}

	for _, tt := range tests {
		if got := ClampFloat64(tt.value, tt.min, tt.max); got != tt.expected {
			t.Errorf("ClampFloat64(%v, %v, %v) = %v, want %v", tt.value, tt.min, tt.max, got, tt.expected)
		}
	}
}

func TestMeanVarianceStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(values); got != 5 {
		t.Errorf("Mean = %v, want 5", got)
	}
	if got := Variance(values); got != 4 {
		t.Errorf("Variance = %v, want 4", got)
	}
	if got := StdDev(values); got != 2 {
		t.Errorf("StdDev = %v, want 2", got)
	}
	if Mean(nil) != 0 || Variance(nil) != 0 {
		t.Errorf("expected zero statistics for empty input")
	}
}

func TestStandardize(t *testing.T) {
	out, mean, std := Standardize([]float64{1, 3})
	if mean != 2 || std != 1 {
		t.Fatalf("expected mean 2 std 1, got %v %v", mean, std)
	}
	if out[0] != -1 || out[1] != 1 {
		t.Fatalf("unexpected standardized values %v", out)
	}

	flat, _, std := Standardize([]float64{5, 5, 5})
	if std != 1 {
		t.Fatalf("expected std fallback of 1 for constant input, got %v", std)
	}
	for _, v := range flat {
		if v != 0 {
			t.Fatalf("expected zeros for constant input, got %v", flat)
		}
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		percentile float64
		expected   float64
	}{
		{0, 1},
		{50, 5.5},
		{100, 10},
	}

	for _, tt := range tests {
		got := Percentile(values, tt.percentile)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.percentile, got, tt.expected)
		}
	}
	if Percentile(nil, 50) != 0 {
		t.Errorf("expected 0 for empty input")
	}
}

func TestDot(t *testing.T) {
	if got := Dot([]float64{0.4, 0.2, 0.4}, []float64{10, 20, 30}); math.Abs(got-20) > 1e-12 {
		t.Errorf("Dot = %v, want 20", got)
	}
}

func TestArgMin(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected int
	}{
		{"simple", []float64{3, 1, 2}, 1},
		{"tie keeps first", []float64{1, 1}, 0},
		{"infinity", []float64{math.Inf(1), 4}, 1},
		{"nan skipped", []float64{math.NaN(), 2}, 1},
		{"empty", nil, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ArgMin(tt.values); got != tt.expected {
				t.Errorf("ArgMin(%v) = %d, want %d", tt.values, got, tt.expected)
			}
		})
	}
}
