package utils

import (
	"math"
	"testing"
)

const floatTolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

// ============================================================
// LogReturn Tests
// ============================================================

func TestLogReturn(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		expected float64
	}{
		{"up move", 101, 100, math.Log(1.01)},
		{"down move", 99, 101, math.Log(99.0 / 101.0)},
		{"flat", 100, 100, 0},
		{"zero previous", 100, 0, 0},
		{"zero current", 0, 100, 0},
		{"negative price", -5, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogReturn(tt.current, tt.previous)
			if !almostEqual(got, tt.expected) {
				t.Errorf("LogReturn(%v, %v) = %v, expected %v", tt.current, tt.previous, got, tt.expected)
			}
		})
	}
}

// ============================================================
// Mean / SampleStd Tests
// ============================================================

func TestMean(t *testing.T) {
	tests := []struct {
		name     string
		xs       []float64
		expected float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5}, 5},
		{"simple", []float64{1, 2, 3, 4}, 2.5},
		{"negative", []float64{-1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mean(tt.xs); !almostEqual(got, tt.expected) {
				t.Errorf("Mean(%v) = %v, expected %v", tt.xs, got, tt.expected)
			}
		})
	}
}

func TestSampleStd(t *testing.T) {
	// Выборочное отклонение [2,4,4,4,5,5,7,9]: дисперсия = 32/7
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	expected := math.Sqrt(32.0 / 7.0)
	if got := SampleStd(xs); !almostEqual(got, expected) {
		t.Errorf("SampleStd = %v, expected %v", got, expected)
	}

	if got := SampleStd([]float64{5}); got != 0 {
		t.Errorf("SampleStd of single element = %v, expected 0", got)
	}
	if got := SampleStd(nil); got != 0 {
		t.Errorf("SampleStd of nil = %v, expected 0", got)
	}
	if got := SampleStd([]float64{3, 3, 3}); got != 0 {
		t.Errorf("SampleStd of constant series = %v, expected 0", got)
	}
}

// ============================================================
// Pearson Tests
// ============================================================

func TestPearson(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		xs := []float64{1, 2, 3, 4, 5}
		ys := []float64{2, 4, 6, 8, 10}
		r, ok := Pearson(xs, ys)
		if !ok {
			t.Fatal("Pearson returned ok=false")
		}
		if !almostEqual(r, 1.0) {
			t.Errorf("expected r=1.0, got %v", r)
		}
	})

	t.Run("perfect negative", func(t *testing.T) {
		xs := []float64{1, 2, 3, 4, 5}
		ys := []float64{10, 8, 6, 4, 2}
		r, ok := Pearson(xs, ys)
		if !ok {
			t.Fatal("Pearson returned ok=false")
		}
		if !almostEqual(r, -1.0) {
			t.Errorf("expected r=-1.0, got %v", r)
		}
	})

	t.Run("zero variance excluded", func(t *testing.T) {
		xs := []float64{3, 3, 3, 3}
		ys := []float64{1, 2, 3, 4}
		if _, ok := Pearson(xs, ys); ok {
			t.Error("expected ok=false for zero-variance series")
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		if _, ok := Pearson([]float64{1, 2}, []float64{1, 2, 3}); ok {
			t.Error("expected ok=false for length mismatch")
		}
	})

	t.Run("too few samples", func(t *testing.T) {
		if _, ok := Pearson([]float64{1}, []float64{2}); ok {
			t.Error("expected ok=false for single sample")
		}
	})
}
