package irt

import (
	"errors"
	"fmt"
	"math"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/linalg"
)

// ErrInvalidBound is returned when a trust-region bound is malformed.
var ErrInvalidBound = errors.New("irt: invalid trust-region bound")

// Bound is the plausible range of one base parameter.
//
// The admissible interval is [Min, Max], narrowed to Mean ± SDFactor·SD when
// SDFactor is positive. PriorSD, when positive, adds the Gaussian log-prior
// -(v-Mean)²/(2·PriorSD²) to the objective the optimizer maximizes.
type Bound struct {
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
	Mean     float64 `mapstructure:"mean"`
	SD       float64 `mapstructure:"sd"`
	SDFactor float64 `mapstructure:"sd_factor"`
	PriorSD  float64 `mapstructure:"prior_sd"`
}

// Interval returns the effective [lo, hi] of the bound. When the SD window
// misses [Min, Max] entirely the absolute limits apply.
func (b Bound) Interval() (float64, float64) {
	lo, hi := b.Min, b.Max
	if b.SDFactor > 0 && b.SD > 0 {
		wlo := math.Max(lo, b.Mean-b.SDFactor*b.SD)
		whi := math.Min(hi, b.Mean+b.SDFactor*b.SD)
		if wlo <= whi {
			lo, hi = wlo, whi
		}
	}
	return lo, hi
}

// Clamp limits v to the bound's interval.
func (b Bound) Clamp(v float64) float64 {
	lo, hi := b.Interval()
	return math.Min(math.Max(v, lo), hi)
}

// Validate rejects bounds that cannot describe a non-empty interval.
func (b Bound) Validate() error {
	for _, v := range []float64{b.Min, b.Max, b.Mean, b.SD, b.SDFactor, b.PriorSD} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidBound)
		}
	}
	if b.Min > b.Max {
		return fmt.Errorf("%w: min %v exceeds max %v", ErrInvalidBound, b.Min, b.Max)
	}
	if b.SD < 0 || b.SDFactor < 0 || b.PriorSD < 0 {
		return fmt.Errorf("%w: sd, sd_factor and prior_sd must be non-negative", ErrInvalidBound)
	}
	return nil
}

// TrustRegion holds one Bound per base parameter name. Parameters without a
// bound are left unconstrained.
type TrustRegion struct {
	Bounds map[string]Bound `mapstructure:"bounds"`
}

// DefaultTrustRegion returns bounds wide enough for typical logit-scale
// items. Guessing carries a weak prior because it is poorly identified.
func DefaultTrustRegion() TrustRegion {
	return TrustRegion{Bounds: map[string]Bound{
		ParamDifficulty:     {Min: -6, Max: 6},
		ParamDiscrimination: {Min: 0.2, Max: 4, Mean: 1, PriorSD: 2},
		ParamGuessing:       {Min: 0, Max: 0.5, Mean: 0.15, PriorSD: 0.1},
	}}
}

// Validate checks every bound. Guessing must stay inside [0, 1).
func (tr TrustRegion) Validate() error {
	for name, b := range tr.Bounds {
		switch name {
		case ParamDifficulty, ParamDiscrimination, ParamGuessing:
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidBound, name)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == ParamGuessing && (b.Min < 0 || b.Max >= 1) {
			return fmt.Errorf("%s: %w: must lie within [0, 1)", name, ErrInvalidBound)
		}
		if name == ParamDiscrimination && b.Min <= 0 && b.Max >= 0 {
			return fmt.Errorf("%s: %w: %v", name, ErrInvalidBound, domain.ErrDiscriminationIsZero)
		}
	}
	return nil
}

// WithSample returns a copy whose bound for base takes its SD from the
// sample values. The configured Mean is kept. The receiver is not modified.
func (tr TrustRegion) WithSample(base string, values []float64) TrustRegion {
	out := TrustRegion{Bounds: make(map[string]Bound, len(tr.Bounds))}
	for k, v := range tr.Bounds {
		out.Bounds[k] = v
	}
	b, ok := out.Bounds[base]
	if !ok || len(values) < 2 {
		return out
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	b.SD = math.Sqrt(ss / float64(len(values)-1))
	out.Bounds[base] = b
	return out
}

// Clamp limits every free parameter of params to its bound. It is
// idempotent.
func (tr TrustRegion) Clamp(m Model, params domain.Parameters) domain.Parameters {
	names := m.ParameterNames(params)
	v := m.Vector(params)
	for i, n := range names {
		if b, ok := tr.Bounds[BaseName(n)]; ok {
			v[i] = b.Clamp(v[i])
		}
	}
	out, err := m.FromVector(params, v)
	if err != nil {
		return params
	}
	return out
}

// Penalty returns the log-prior of params.
func (tr TrustRegion) Penalty(m Model, params domain.Parameters) float64 {
	var p float64
	names := m.ParameterNames(params)
	v := m.Vector(params)
	for i, n := range names {
		if b, ok := tr.Bounds[BaseName(n)]; ok && b.PriorSD > 0 {
			d := v[i] - b.Mean
			p -= d * d / (2 * b.PriorSD * b.PriorSD)
		}
	}
	return p
}

// PenaltyJacobian returns the gradient of Penalty over the free parameters.
func (tr TrustRegion) PenaltyJacobian(m Model, params domain.Parameters) []float64 {
	names := m.ParameterNames(params)
	v := m.Vector(params)
	j := make([]float64, len(names))
	for i, n := range names {
		if b, ok := tr.Bounds[BaseName(n)]; ok && b.PriorSD > 0 {
			j[i] = -(v[i] - b.Mean) / (b.PriorSD * b.PriorSD)
		}
	}
	return j
}

// PenaltyHessian returns the diagonal Hessian of Penalty.
func (tr TrustRegion) PenaltyHessian(m Model, params domain.Parameters) linalg.Matrix {
	names := m.ParameterNames(params)
	h := linalg.New(len(names), len(names))
	for i, n := range names {
		if b, ok := tr.Bounds[BaseName(n)]; ok && b.PriorSD > 0 {
			h.Set(i, i, -1/(b.PriorSD*b.PriorSD))
		}
	}
	return h
}

// Contains reports whether every free parameter lies within its bound.
func (tr TrustRegion) Contains(m Model, params domain.Parameters) bool {
	names := m.ParameterNames(params)
	v := m.Vector(params)
	for i, n := range names {
		if b, ok := tr.Bounds[BaseName(n)]; ok {
			lo, hi := b.Interval()
			if v[i] < lo || v[i] > hi {
				return false
			}
		}
	}
	return true
}
