package irt

import (
	"math"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/linalg"
)

// initialGuessing is where the lower asymptote starts when it is estimated.
const initialGuessing = 0.1

// dichotomous implements the logistic family
//
//	p(θ) = c + (1-c)·σ(a(θ-b))
//
// with any subset of (b, a, c) free. A response fraction x is scored as the
// fractional Bernoulli outcome p^x (1-p)^(1-x), which is exact for x in {0, 1}.
type dichotomous struct {
	name           string
	discrimination bool
	guessing       bool
}

// NewRasch returns the one-parameter logistic model: [difficulty].
func NewRasch() Model { return dichotomous{name: ModelRasch} }

// NewRaschBirnbaumA returns the two-parameter logistic model:
// [difficulty discrimination].
func NewRaschBirnbaumA() Model {
	return dichotomous{name: ModelRaschBirnbaumA, discrimination: true}
}

// NewRaschBirnbaumB returns the three-parameter logistic model:
// [difficulty discrimination guessing].
func NewRaschBirnbaumB() Model {
	return dichotomous{name: ModelRaschBirnbaumB, discrimination: true, guessing: true}
}

// NewMixedRaschBirnbaum returns the Rasch slope with a guessing asymptote:
// [difficulty guessing].
func NewMixedRaschBirnbaum() Model {
	return dichotomous{name: ModelMixedRaschBirnbaum, guessing: true}
}

func (m dichotomous) Name() string     { return m.name }
func (m dichotomous) Polytomous() bool { return false }

func (m dichotomous) ParameterNames(domain.Parameters) []string {
	names := []string{ParamDifficulty}
	if m.discrimination {
		names = append(names, ParamDiscrimination)
	}
	if m.guessing {
		names = append(names, ParamGuessing)
	}
	return names
}

func (m dichotomous) Vector(p domain.Parameters) []float64 {
	v := []float64{p.Difficulty}
	if m.discrimination {
		v = append(v, p.Discrimination)
	}
	if m.guessing {
		v = append(v, p.Guessing)
	}
	return v
}

func (m dichotomous) FromVector(template domain.Parameters, v []float64) (domain.Parameters, error) {
	if len(v) != len(m.ParameterNames(template)) {
		return domain.Parameters{}, ErrVectorLength
	}
	out := template.Clone()
	out.Thresholds = nil
	out.Difficulty = v[0]
	i := 1
	out.Discrimination = 1
	if m.discrimination {
		out.Discrimination = v[i]
		i++
	}
	out.Guessing = 0
	if m.guessing {
		out.Guessing = v[i]
	}
	return out, nil
}

func (m dichotomous) InitialParams(_ domain.Parameters, fractions []float64) domain.Parameters {
	p := domain.Parameters{
		Difficulty:     -logit(clampProb(mean(fractions))),
		Discrimination: 1,
	}
	if m.guessing {
		p.Guessing = initialGuessing
	}
	return p
}

// terms holds the quantities every derivative is built from.
type terms struct {
	a, b, c float64
	z       float64
	s, q    float64 // σ(z) and 1-σ(z)
	p       float64 // probability of a correct response
}

func (m dichotomous) terms(ability float64, params domain.Parameters) terms {
	t := terms{b: params.Difficulty, a: 1}
	if m.discrimination {
		t.a = params.Discrimination
	}
	if m.guessing {
		t.c = params.Guessing
	}
	t.z = t.a * (ability - t.b)
	t.s = sigmoid(t.z)
	t.q = sigmoid(-t.z)
	t.p = t.c + (1-t.c)*t.s
	return t
}

// r is (1-c)σ/p, the share of the correct-response probability carried by
// the logistic part. It is exactly 1 without guessing.
func (t terms) r() float64 {
	if t.c == 0 || t.p == 0 {
		return 1
	}
	return (1 - t.c) * t.s / t.p
}

func (m dichotomous) Likelihood(ability float64, params domain.Parameters, x float64) float64 {
	return math.Exp(m.LogLikelihood(ability, params, x))
}

func (m dichotomous) LogLikelihood(ability float64, params domain.Parameters, x float64) float64 {
	t := m.terms(ability, params)
	var ll float64
	if x > 0 {
		lp := logSigmoid(t.z)
		if t.c > 0 {
			lp = math.Log(t.p)
		}
		ll += x * lp
	}
	if x < 1 {
		ll += (1 - x) * (math.Log1p(-t.c) + logSigmoid(-t.z))
	}
	return ll
}

// gz and hzz are the first and second derivatives of the log-likelihood
// with respect to z.
func (t terms) gz(x float64) float64 {
	return x*t.r()*t.q - (1-x)*t.s
}

func (t terms) hzz(x float64) float64 {
	rq := t.r() * t.q
	return x*(rq*(1-2*t.s)-rq*rq) - (1-x)*t.s*t.q
}

func (m dichotomous) LogLikelihoodDAbility(ability float64, params domain.Parameters, x float64) float64 {
	t := m.terms(ability, params)
	return t.a * t.gz(x)
}

func (m dichotomous) LogLikelihoodD2Ability(ability float64, params domain.Parameters, x float64) float64 {
	t := m.terms(ability, params)
	return t.a * t.a * t.hzz(x)
}

func (m dichotomous) Jacobian(ability float64, params domain.Parameters, x float64) []float64 {
	t := m.terms(ability, params)
	g := t.gz(x)
	j := []float64{-t.a * g}
	if m.discrimination {
		j = append(j, (ability-t.b)*g)
	}
	if m.guessing {
		j = append(j, x*t.q/t.p-(1-x)/(1-t.c))
	}
	return j
}

func (m dichotomous) Hessian(ability float64, params domain.Parameters, x float64) linalg.Matrix {
	t := m.terms(ability, params)
	g := t.gz(x)
	hzz := t.hzz(x)
	u := ability - t.b

	n := len(m.ParameterNames(params))
	h := linalg.New(n, n)
	h.Set(0, 0, t.a*t.a*hzz)

	ia, ic := -1, -1
	next := 1
	if m.discrimination {
		ia = next
		next++
		h.Set(ia, ia, u*u*hzz)
		h.Set(0, ia, -t.a*u*hzz-g)
		h.Set(ia, 0, h.At(0, ia))
	}
	if m.guessing {
		ic = next
		ratio := t.q / t.p
		hcc := -x*ratio*ratio - (1-x)/((1-t.c)*(1-t.c))
		hzc := -x * t.s * ratio * (1 + (1-t.c)*ratio)
		h.Set(ic, ic, hcc)
		h.Set(0, ic, -t.a*hzc)
		h.Set(ic, 0, -t.a*hzc)
		if ia >= 0 {
			h.Set(ia, ic, u*hzc)
			h.Set(ic, ia, u*hzc)
		}
	}
	return h
}

func (m dichotomous) FisherInfo(ability float64, params domain.Parameters) float64 {
	t := m.terms(ability, params)
	if t.c == 0 {
		return t.a * t.a * t.s * t.q
	}
	return t.a * t.a * (1 - t.c) * t.s * t.s * t.q / t.p
}
