package domain

import (
	"errors"
	"math"
	"sort"
)

// Parameter validation errors
var (
	ErrNonFiniteParameter   = errors.New("parameter value must be finite")
	ErrThresholdOrder       = errors.New("threshold fractions must be strictly increasing within (0, 1]")
	ErrGuessingOutOfRange   = errors.New("guessing must lie in [0, 1)")
	ErrDiscriminationIsZero = errors.New("discrimination cannot be zero")
)

// Threshold is the difficulty of reaching one response category of a
// polytomous item. Fraction identifies the category by the score it awards.
type Threshold struct {
	Fraction   float64 `json:"fraction"`
	Difficulty float64 `json:"difficulty"`
}

// Parameters is the item-parameter vector shared by all response models.
// Dichotomous models read Difficulty, Discrimination and Guessing;
// polytomous models read Thresholds (one per category above zero) and
// Discrimination. Fields a model does not use are left at their zero value.
type Parameters struct {
	Difficulty     float64     `json:"difficulty"`
	Discrimination float64     `json:"discrimination"`
	Guessing       float64     `json:"guessing,omitempty"`
	Thresholds     []Threshold `json:"thresholds,omitempty"`
}

// NewThresholds builds an ordered threshold list from a fraction→difficulty
// map. The entry for fraction 0 is ignored because the lowest category has no
// threshold of its own.
func NewThresholds(byFraction map[float64]float64) []Threshold {
	out := make([]Threshold, 0, len(byFraction))
	for f, d := range byFraction {
		if f <= 0 {
			continue
		}
		out = append(out, Threshold{Fraction: f, Difficulty: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fraction < out[j].Fraction })
	return out
}

// Clone returns a deep copy of p.
func (p Parameters) Clone() Parameters {
	c := p
	if p.Thresholds != nil {
		c.Thresholds = make([]Threshold, len(p.Thresholds))
		copy(c.Thresholds, p.Thresholds)
	}
	return c
}

// Fractions returns the score of every response category, starting with the
// zero category.
func (p Parameters) Fractions() []float64 {
	out := make([]float64, 0, len(p.Thresholds)+1)
	out = append(out, 0)
	for _, t := range p.Thresholds {
		out = append(out, t.Fraction)
	}
	return out
}

// Category returns the index of the category whose fraction is nearest to
// the given response fraction.
func (p Parameters) Category(fraction float64) int {
	best := 0
	bestDist := math.Abs(fraction)
	for i, t := range p.Thresholds {
		if d := math.Abs(fraction - t.Fraction); d < bestDist {
			best = i + 1
			bestDist = d
		}
	}
	return best
}

// Location summarises the item difficulty as one number: the difficulty of
// a dichotomous item or the mean threshold of a polytomous item.
func (p Parameters) Location() float64 {
	if len(p.Thresholds) == 0 {
		return p.Difficulty
	}
	var s float64
	for _, t := range p.Thresholds {
		s += t.Difficulty
	}
	return s / float64(len(p.Thresholds))
}

// Validate checks that every value is finite and the category structure
// is well formed.
func (p Parameters) Validate() error {
	for _, v := range []float64{p.Difficulty, p.Discrimination, p.Guessing} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFiniteParameter
		}
	}
	if p.Guessing < 0 || p.Guessing >= 1 {
		return ErrGuessingOutOfRange
	}
	prev := 0.0
	for _, t := range p.Thresholds {
		if math.IsNaN(t.Difficulty) || math.IsInf(t.Difficulty, 0) {
			return ErrNonFiniteParameter
		}
		if t.Fraction <= prev || t.Fraction > 1 {
			return ErrThresholdOrder
		}
		prev = t.Fraction
	}
	return nil
}
