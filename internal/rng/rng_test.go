package rng

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestInt(t *testing.T) {
	s := New()

	t.Run("GeneratesWithinRange", func(t *testing.T) {
		for _, max := range []int64{2, 10, 100, 1000, 10000} {
			for i := 0; i < 1000; i++ {
				n, err := s.Int(max)
				if err != nil {
					t.Fatalf("Failed to generate int: %v", err)
				}
				if n < 0 || n >= max {
					t.Errorf("Generated value %d out of range [0, %d)", n, max)
				}
			}
		}
	})

	t.Run("RejectsZeroOrNegative", func(t *testing.T) {
		if _, err := s.Int(0); err == nil {
			t.Error("Expected error for max=0")
		}
		if _, err := s.Int(-1); err == nil {
			t.Error("Expected error for max=-1")
		}
	})

	t.Run("UniformDistribution", func(t *testing.T) {
		const max = 10
		const samples = 100000
		counts := make([]int, max)

		for i := 0; i < samples; i++ {
			n, err := s.Int(max)
			if err != nil {
				t.Fatalf("Failed to generate int: %v", err)
			}
			counts[n]++
		}

		expected := float64(samples) / float64(max)
		var chiSquare float64
		for _, count := range counts {
			diff := float64(count) - expected
			chiSquare += (diff * diff) / expected
		}

		// Critical value for 9 DOF at 99% confidence is ~21.67
		if chiSquare > 25 {
			t.Errorf("Chi-square test failed: %f (expected < 25)", chiSquare)
		}
	})

	t.Run("FailsWhenEntropyExhausted", func(t *testing.T) {
		s := NewWithEntropy(bytes.NewReader(nil))
		if _, err := s.Int(100); err == nil {
			t.Error("Expected error when entropy source is unavailable")
		}
	})
}

func TestIntRange(t *testing.T) {
	s := New()

	t.Run("GeneratesWithinRange", func(t *testing.T) {
		testCases := []struct {
			min, max int64
		}{
			{1, 100},
			{0, 10},
			{5, 15},
			{-10, 10},
		}

		for _, tc := range testCases {
			for i := 0; i < 100; i++ {
				n, err := s.IntRange(tc.min, tc.max)
				if err != nil {
					t.Fatalf("Failed to generate int range: %v", err)
				}
				if n < tc.min || n > tc.max {
					t.Errorf("Generated value %d out of range [%d, %d]", n, tc.min, tc.max)
				}
			}
		}
	})

	t.Run("RejectsInvalidRange", func(t *testing.T) {
		if _, err := s.IntRange(10, 5); err == nil {
			t.Error("Expected error for min > max")
		}
	})

	t.Run("SingleValueRange", func(t *testing.T) {
		n, err := s.IntRange(5, 5)
		if err != nil {
			t.Fatalf("Failed to generate single value range: %v", err)
		}
		if n != 5 {
			t.Errorf("Expected 5, got %d", n)
		}
	})
}

func TestFloat(t *testing.T) {
	s := New()

	t.Run("GeneratesWithinRange", func(t *testing.T) {
		for i := 0; i < 10000; i++ {
			f, err := s.Float()
			if err != nil {
				t.Fatalf("Failed to generate float: %v", err)
			}
			if f < 0.0 || f >= 1.0 {
				t.Errorf("Generated value %f out of range [0.0, 1.0)", f)
			}
		}
	})
}

// fixedEntropy yields a predetermined 63-bit value on every 8-byte read.
type fixedEntropy struct {
	value uint64
}

func (f *fixedEntropy) Read(p []byte) (int, error) {
	if len(p) != 8 {
		return 0, errors.New("unexpected read size")
	}
	// Int shifts right by one, so pre-shift left to land on value.
	v := f.value << 1
	for i := 7; i >= 0; i-- {
		p[i] = byte(v)
		v >>= 8
	}
	return 8, nil
}

func TestCrashPoint(t *testing.T) {
	s := New()

	t.Run("AlwaysAtLeastOne", func(t *testing.T) {
		for i := 0; i < 10000; i++ {
			p, err := s.CrashPoint(0.01, 10000)
			if err != nil {
				t.Fatalf("Failed to generate crash point: %v", err)
			}
			if p < 1.0 {
				t.Errorf("Crash point %f below 1.0", p)
			}
			if p > 10000 {
				t.Errorf("Crash point %f above cap", p)
			}
		}
	})

	t.Run("ZeroDrawClampsToCap", func(t *testing.T) {
		s := NewWithEntropy(&fixedEntropy{value: 0})
		p, err := s.CrashPoint(0.01, 5000)
		if err != nil {
			t.Fatalf("Failed on zero draw: %v", err)
		}
		if p != 5000 {
			t.Errorf("Expected cap 5000 for zero draw, got %f", p)
		}
	})

	t.Run("RejectsInvalidParameters", func(t *testing.T) {
		if _, err := s.CrashPoint(0, 1000); err == nil {
			t.Error("Expected error for zero house edge")
		}
		if _, err := s.CrashPoint(1, 1000); err == nil {
			t.Error("Expected error for house edge of 1")
		}
		if _, err := s.CrashPoint(0.01, 1.0); err == nil {
			t.Error("Expected error for cap of 1.0")
		}
	})

	t.Run("TailDistribution", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping statistical test in short mode")
		}

		// P(crashPoint >= m) ~= (1 - edge) / m. Count the mass above a
		// few thresholds over a large sample.
		const samples = 200000
		const edge = 0.01
		thresholds := []float64{2.0, 5.0, 10.0}
		counts := make([]int, len(thresholds))

		for i := 0; i < samples; i++ {
			p, err := s.CrashPoint(edge, 1e9)
			if err != nil {
				t.Fatalf("Failed to generate crash point: %v", err)
			}
			for j, m := range thresholds {
				if p >= m {
					counts[j]++
				}
			}
		}

		for j, m := range thresholds {
			got := float64(counts[j]) / float64(samples)
			want := (1 - edge) / m
			if math.Abs(got-want) > 0.01 {
				t.Errorf("P(point >= %.1f): got %f, want ~%f", m, got, want)
			}
		}
	})
}

func TestGrid(t *testing.T) {
	s := New()

	t.Run("DimensionsAndBounds", func(t *testing.T) {
		grid, err := s.Grid(8, 3, 3)
		if err != nil {
			t.Fatalf("Failed to generate grid: %v", err)
		}
		if len(grid) != 3 {
			t.Fatalf("Expected 3 rows, got %d", len(grid))
		}
		for _, row := range grid {
			if len(row) != 3 {
				t.Fatalf("Expected 3 cols, got %d", len(row))
			}
			for _, cell := range row {
				if cell < 0 || cell >= 8 {
					t.Errorf("Cell value %d out of range [0, 8)", cell)
				}
			}
		}
	})

	t.Run("CellsAreIndependent", func(t *testing.T) {
		// Over many draws every symbol should show up in every cell.
		seen := [3][3]map[int64]bool{}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				seen[r][c] = make(map[int64]bool)
			}
		}

		for i := 0; i < 2000; i++ {
			grid, err := s.Grid(4, 3, 3)
			if err != nil {
				t.Fatalf("Failed to generate grid: %v", err)
			}
			for r := 0; r < 3; r++ {
				for c := 0; c < 3; c++ {
					seen[r][c][grid[r][c]] = true
				}
			}
		}

		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				if len(seen[r][c]) != 4 {
					t.Errorf("Cell (%d,%d) saw only %d of 4 symbols", r, c, len(seen[r][c]))
				}
			}
		}
	})

	t.Run("RejectsInvalidDimensions", func(t *testing.T) {
		if _, err := s.Grid(0, 3, 3); err == nil {
			t.Error("Expected error for zero symbols")
		}
		if _, err := s.Grid(8, 0, 3); err == nil {
			t.Error("Expected error for zero rows")
		}
	})
}

func TestHealthCheck(t *testing.T) {
	s := New()

	result, err := s.HealthCheck()
	if err != nil {
		t.Fatalf("Health check error: %v", err)
	}

	if !result.Healthy {
		t.Error("RNG reported unhealthy")
	}
	if !result.ChiSquarePassed {
		t.Errorf("Chi-square test failed with value %f", result.ChiSquare)
	}
}

func BenchmarkInt(b *testing.B) {
	s := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Int(1000)
	}
}

func BenchmarkCrashPoint(b *testing.B) {
	s := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.CrashPoint(0.01, 10000)
	}
}

func BenchmarkGrid(b *testing.B) {
	s := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Grid(8, 3, 3)
	}
}
