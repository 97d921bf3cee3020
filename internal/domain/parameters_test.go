package domain

import (
	"math"
	"testing"
)

func TestNewThresholds(t *testing.T) {
	th := NewThresholds(map[float64]float64{1.0: -2.5, 0.0: 0, 0.5: -3.5})

	if len(th) != 2 {
		t.Fatalf("Expected 2 thresholds, got %d", len(th))
	}
	if th[0].Fraction != 0.5 || th[0].Difficulty != -3.5 {
		t.Errorf("Expected first threshold {0.5 -3.5}, got %+v", th[0])
	}
	if th[1].Fraction != 1.0 || th[1].Difficulty != -2.5 {
		t.Errorf("Expected second threshold {1 -2.5}, got %+v", th[1])
	}
}

func TestParametersCategory(t *testing.T) {
	p := Parameters{Thresholds: NewThresholds(map[float64]float64{0.5: 0, 1.0: 1})}

	testCases := []struct {
		fraction float64
		expected int
	}{
		{0, 0},
		{0.2, 0},
		{0.3, 1},
		{0.5, 1},
		{0.8, 2},
		{1, 2},
	}

	for _, tc := range testCases {
		if got := p.Category(tc.fraction); got != tc.expected {
			t.Errorf("Category(%v): expected %d, got %d", tc.fraction, tc.expected, got)
		}
	}

	if got := (Parameters{}).Category(1); got != 0 {
		t.Errorf("Expected category 0 without thresholds, got %d", got)
	}
}

func TestParametersCloneIsDeep(t *testing.T) {
	p := Parameters{Discrimination: 1, Thresholds: []Threshold{{Fraction: 1, Difficulty: 0.5}}}
	c := p.Clone()
	c.Thresholds[0].Difficulty = 9

	if p.Thresholds[0].Difficulty != 0.5 {
		t.Errorf("Clone shares threshold storage with the original")
	}
}

func TestParametersLocation(t *testing.T) {
	if got := (Parameters{Difficulty: 1.23}).Location(); got != 1.23 {
		t.Errorf("Expected location 1.23, got %v", got)
	}
	p := Parameters{Thresholds: []Threshold{{0.5, -1}, {1, 2}}}
	if got := p.Location(); got != 0.5 {
		t.Errorf("Expected mean threshold 0.5, got %v", got)
	}
}

func TestParametersValidate(t *testing.T) {
	testCases := []struct {
		name     string
		params   Parameters
		expected error
	}{
		{"valid dichotomous", Parameters{Difficulty: 1, Discrimination: 1, Guessing: 0.2}, nil},
		{"valid polytomous", Parameters{Discrimination: 1, Thresholds: []Threshold{{0.5, -1}, {1, 1}}}, nil},
		{"NaN difficulty", Parameters{Difficulty: math.NaN()}, ErrNonFiniteParameter},
		{"infinite threshold", Parameters{Thresholds: []Threshold{{1, math.Inf(1)}}}, ErrNonFiniteParameter},
		{"guessing too large", Parameters{Guessing: 1}, ErrGuessingOutOfRange},
		{"negative guessing", Parameters{Guessing: -0.1}, ErrGuessingOutOfRange},
		{"unordered fractions", Parameters{Thresholds: []Threshold{{1, 0}, {0.5, 0}}}, ErrThresholdOrder},
		{"fraction above one", Parameters{Thresholds: []Threshold{{1.5, 0}}}, ErrThresholdOrder},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.params.Validate(); err != tc.expected {
				t.Errorf("Expected error %v, got %v", tc.expected, err)
			}
		})
	}
}
