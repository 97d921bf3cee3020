// Package irt implements the item response models used for calibration and
// adaptive item selection. Every model is a stateless value satisfying Model;
// callers pick one by name through a Registry and never branch on the
// concrete type.
package irt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/linalg"
)

// Base parameter names. Vector entries of a model are always one of these.
const (
	ParamDifficulty     = "difficulty"
	ParamDiscrimination = "discrimination"
	ParamGuessing       = "guessing"
)

// Model names used as registry keys.
const (
	ModelRasch              = "rasch"
	ModelRaschBirnbaumA     = "raschbirnbauma"
	ModelRaschBirnbaumB     = "raschbirnbaumb"
	ModelMixedRaschBirnbaum = "mixedraschbirnbaum"
	ModelPCM                = "pcm"
	ModelPCMGeneralized     = "pcmgeneralized"
	ModelGRM                = "grm"
	ModelGRMGeneralized     = "grmgeneralized"
)

var (
	// ErrUnknownModel is returned when a model name is not registered.
	ErrUnknownModel = errors.New("irt: unknown model")

	// ErrVectorLength is returned when a parameter vector does not match the
	// shape a model declares for a template.
	ErrVectorLength = errors.New("irt: parameter vector has wrong length")
)

// Model is the capability set of one item response model.
//
// Every function is pure. The ability is a scalar on the logit scale, params
// is the item parameter set and x is the observed response fraction in [0, 1].
// Polytomous models map x to the nearest declared category.
type Model interface {
	// Name returns the registry key of the model.
	Name() string

	// Polytomous reports whether the model scores ordered categories.
	Polytomous() bool

	// ParameterNames declares the free parameter vector for params, e.g.
	// [difficulty discrimination] or [difficulty[0.5] difficulty[1] discrimination].
	ParameterNames(params domain.Parameters) []string

	// Vector extracts the free parameters in ParameterNames order.
	Vector(params domain.Parameters) []float64

	// FromVector writes v back onto a copy of template. Values the model does
	// not estimate are reset to their fixed value.
	FromVector(template domain.Parameters, v []float64) (domain.Parameters, error)

	// InitialParams returns a starting point derived from the observed
	// fractions of one item. template supplies the category structure of
	// polytomous items when it has one.
	InitialParams(template domain.Parameters, fractions []float64) domain.Parameters

	Likelihood(ability float64, params domain.Parameters, x float64) float64
	LogLikelihood(ability float64, params domain.Parameters, x float64) float64
	LogLikelihoodDAbility(ability float64, params domain.Parameters, x float64) float64
	LogLikelihoodD2Ability(ability float64, params domain.Parameters, x float64) float64

	// Jacobian is the gradient of the log-likelihood over the free parameters.
	Jacobian(ability float64, params domain.Parameters, x float64) []float64

	// Hessian is the symmetric matrix of second derivatives over the free
	// parameters.
	Hessian(ability float64, params domain.Parameters, x float64) linalg.Matrix

	// FisherInfo is the expected information about ability.
	FisherInfo(ability float64, params domain.Parameters) float64
}

// BaseName strips the category suffix from a parameter name.
func BaseName(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		return name[:i]
	}
	return name
}

// NumParams returns the number of free parameters of m for params.
func NumParams(m Model, params domain.Parameters) int {
	return len(m.ParameterNames(params))
}

func thresholdName(fraction float64) string {
	return fmt.Sprintf("%s[%s]", ParamDifficulty, strconv.FormatFloat(fraction, 'g', -1, 64))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// logSigmoid returns ln(sigmoid(z)) without underflow for large |z|.
func logSigmoid(z float64) float64 {
	if z >= 0 {
		return -math.Log1p(math.Exp(-z))
	}
	return z - math.Log1p(math.Exp(z))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// clampProb keeps an empirical proportion away from 0 and 1.
func clampProb(p float64) float64 {
	return math.Min(math.Max(p, 0.02), 0.98)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// logSumExp returns ln(Σ exp(v)).
func logSumExp(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	if math.IsInf(m, -1) {
		return m
	}
	var s float64
	for _, x := range v {
		s += math.Exp(x - m)
	}
	return m + math.Log(s)
}

// thresholdTemplate returns the category fractions an item is estimated
// with: those of template when present, otherwise the distinct positive
// fractions observed.
func thresholdTemplate(template domain.Parameters, fractions []float64) []float64 {
	if len(template.Thresholds) > 0 {
		out := make([]float64, len(template.Thresholds))
		for i, t := range template.Thresholds {
			out[i] = t.Fraction
		}
		return out
	}
	seen := make(map[float64]float64)
	for _, f := range fractions {
		if f > 0 {
			seen[f] = 0
		}
	}
	if len(seen) == 0 {
		seen[1] = 0
	}
	th := domain.NewThresholds(seen)
	out := make([]float64, len(th))
	for i, t := range th {
		out[i] = t.Fraction
	}
	return out
}

// minThresholdGap keeps initial thresholds strictly increasing so that no
// middle category starts with zero probability.
const minThresholdGap = 0.2

// cumulativeThresholds starts each threshold at the negative logit of the
// share of responses reaching that category or above.
func cumulativeThresholds(cats []float64, fractions []float64) []domain.Threshold {
	p := domain.Parameters{Thresholds: make([]domain.Threshold, len(cats))}
	for i, f := range cats {
		p.Thresholds[i].Fraction = f
	}
	counts := make([]float64, len(cats)+1)
	for _, x := range fractions {
		counts[p.Category(x)]++
	}
	n := float64(len(fractions))
	out := make([]domain.Threshold, len(cats))
	above := n
	for i, f := range cats {
		above -= counts[i]
		share := 0.5
		if n > 0 {
			share = clampProb(above / n)
		}
		d := -logit(share)
		if i > 0 && d < out[i-1].Difficulty+minThresholdGap {
			d = out[i-1].Difficulty + minThresholdGap
		}
		out[i] = domain.Threshold{Fraction: f, Difficulty: d}
	}
	return out
}
