package catcalc

import (
	"math"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
)

// minCurvature is the smallest |f''| accepted as a Newton denominator.
const minCurvature = 1e-9

// Observation is one scored response together with the model and parameters
// of the item it answers. Observations of one person may mix models.
type Observation struct {
	Model    irt.Model
	Params   domain.Parameters
	Fraction float64
}

// AbilityBounds limits ability estimates and individual Newton steps.
type AbilityBounds struct {
	Min     float64
	Max     float64
	MaxStep float64
}

// Clamp limits theta to [Min, Max].
func (b AbilityBounds) Clamp(theta float64) float64 {
	return math.Min(math.Max(theta, b.Min), b.Max)
}

// AbilityEstimate is the outcome of a one-dimensional ability fit.
type AbilityEstimate struct {
	Ability       float64
	StandardError float64
	Converged     bool
	Iterations    int
	Err           error
}

// derivatives sums the first and second log-likelihood derivatives over obs.
func derivatives(theta float64, obs []Observation) (float64, float64) {
	var d1, d2 float64
	for _, o := range obs {
		d1 += o.Model.LogLikelihoodDAbility(theta, o.Params, o.Fraction)
		d2 += o.Model.LogLikelihoodD2Ability(theta, o.Params, o.Fraction)
	}
	return d1, d2
}

// NewtonStep performs one Newton-Raphson update of theta over obs. It
// reports ErrFlatCurvature and returns theta unchanged when the curvature is
// too small or not concave.
func NewtonStep(theta float64, obs []Observation, bounds AbilityBounds) (float64, error) {
	d1, d2 := derivatives(theta, obs)
	if math.IsNaN(d1) || math.IsNaN(d2) || math.IsInf(d1, 0) || math.IsInf(d2, 0) {
		return theta, ErrNonFinite
	}
	if d2 > -minCurvature {
		return theta, ErrFlatCurvature
	}
	step := d1 / d2
	if bounds.MaxStep > 0 && math.Abs(step) > bounds.MaxStep {
		step = math.Copysign(bounds.MaxStep, step)
	}
	return bounds.Clamp(theta - step), nil
}

// StandardError returns 1/sqrt(Σ Fisher information) of obs at theta, or
// +Inf when the items carry no information.
func StandardError(theta float64, obs []Observation) float64 {
	var info float64
	for _, o := range obs {
		info += o.Model.FisherInfo(theta, o.Params)
	}
	if info <= 0 || math.IsNaN(info) {
		return math.Inf(1)
	}
	return 1 / math.Sqrt(info)
}

// InitialAbility is the logit of the smoothed proportion correct.
func InitialAbility(fractions []float64) float64 {
	var sum float64
	for _, f := range fractions {
		sum += f
	}
	p := (sum + 0.5) / (float64(len(fractions)) + 1)
	return math.Log(p / (1 - p))
}

// EstimateAbility runs Newton-Raphson from start until the step falls below
// tol or maxIter is reached. On a flat or non-concave curvature the last good
// estimate is kept and flagged.
func EstimateAbility(start float64, obs []Observation, bounds AbilityBounds, tol float64, maxIter int) AbilityEstimate {
	theta := bounds.Clamp(start)
	est := AbilityEstimate{Ability: theta}
	if len(obs) == 0 {
		est.StandardError = math.Inf(1)
		return est
	}
	for est.Iterations < maxIter {
		est.Iterations++
		next, err := NewtonStep(theta, obs, bounds)
		if err != nil {
			est.Err = err
			break
		}
		delta := math.Abs(next - theta)
		theta = next
		if delta < tol {
			est.Converged = true
			break
		}
	}
	est.Ability = theta
	est.StandardError = StandardError(theta, obs)
	return est
}
