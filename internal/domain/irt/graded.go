package irt

import (
	"math"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/linalg"
)

// graded implements the cumulative logistic family
//
//	P*_k(θ) = σ(a(θ - b_k)),  P_k = P*_k - P*_{k+1},  P*_0 = 1,  P*_{K+1} = 0
//
// With a fixed at 1 it is the graded response model with unit slope; with a
// free it is Samejima's graded response model. Thresholds are kept ordered so
// that every category probability is non-negative.
type graded struct {
	name           string
	discrimination bool
}

// NewGRM returns the graded response model with unit slope:
// [difficulty per category].
func NewGRM() Model { return graded{name: ModelGRM} }

// NewGRMGeneralized returns Samejima's graded response model:
// [difficulty per category, discrimination].
func NewGRMGeneralized() Model {
	return graded{name: ModelGRMGeneralized, discrimination: true}
}

func (m graded) Name() string     { return m.name }
func (m graded) Polytomous() bool { return true }

func (m graded) ParameterNames(p domain.Parameters) []string {
	return polytomousNames(p, m.discrimination)
}

func (m graded) Vector(p domain.Parameters) []float64 {
	return polytomousVector(p, m.discrimination)
}

func (m graded) FromVector(template domain.Parameters, v []float64) (domain.Parameters, error) {
	return polytomousFromVector(template, v, m.discrimination, true)
}

func (m graded) InitialParams(template domain.Parameters, fractions []float64) domain.Parameters {
	cats := thresholdTemplate(template, fractions)
	return domain.Parameters{
		Discrimination: 1,
		Thresholds:     cumulativeThresholds(cats, fractions),
	}
}

func (m graded) slope(p domain.Parameters) float64 {
	if m.discrimination {
		return p.Discrimination
	}
	return 1
}

// boundary is one cumulative curve P*_j a category probability depends on,
// with the log-likelihood's derivatives with respect to its logit z_j.
type boundary struct {
	index int     // threshold index j-1
	g     float64 // d lnP / dz_j
}

// gradedTerms is the local structure of lnP_k: up to two boundaries, the
// gradient over their logits and the 2x2 Hessian over them.
type gradedTerms struct {
	a      float64
	logP   float64
	bounds []boundary
	hz     [2][2]float64
}

func (m graded) terms(ability float64, p domain.Parameters, k int) gradedTerms {
	a := m.slope(p)
	nth := len(p.Thresholds)
	z := func(j int) float64 { return a * (ability - p.Thresholds[j-1].Difficulty) }
	t := gradedTerms{a: a}

	switch {
	case nth == 0:
		return t
	case k == 0:
		// ln(1 - σ(z_1)), one-sided lower tail.
		z1 := z(1)
		s := sigmoid(z1)
		t.logP = logSigmoid(-z1)
		t.bounds = []boundary{{index: 0, g: -s}}
		t.hz[0][0] = -s * (1 - s)
	case k == nth:
		// ln σ(z_K), one-sided upper tail.
		zk := z(nth)
		s := sigmoid(zk)
		t.logP = logSigmoid(zk)
		t.bounds = []boundary{{index: nth - 1, g: 1 - s}}
		t.hz[0][0] = -s * (1 - s)
	default:
		sLo := sigmoid(z(k))
		sHi := sigmoid(z(k + 1))
		d := sLo - sHi
		if d <= 0 {
			t.logP = math.Inf(-1)
			return t
		}
		t.logP = math.Log(d)
		wLo := sLo * (1 - sLo)
		wHi := sHi * (1 - sHi)
		gLo := wLo / d
		gHi := -wHi / d
		t.bounds = []boundary{{index: k - 1, g: gLo}, {index: k, g: gHi}}
		t.hz[0][0] = wLo*(1-2*sLo)/d - gLo*gLo
		t.hz[1][1] = -wHi*(1-2*sHi)/d - gHi*gHi
		t.hz[0][1] = -gLo * gHi
		t.hz[1][0] = t.hz[0][1]
	}
	return t
}

func (m graded) Likelihood(ability float64, params domain.Parameters, x float64) float64 {
	return math.Exp(m.LogLikelihood(ability, params, x))
}

func (m graded) LogLikelihood(ability float64, params domain.Parameters, x float64) float64 {
	return m.terms(ability, params, params.Category(x)).logP
}

func (m graded) LogLikelihoodDAbility(ability float64, params domain.Parameters, x float64) float64 {
	t := m.terms(ability, params, params.Category(x))
	var g float64
	for _, b := range t.bounds {
		g += b.g
	}
	return t.a * g
}

func (m graded) LogLikelihoodD2Ability(ability float64, params domain.Parameters, x float64) float64 {
	t := m.terms(ability, params, params.Category(x))
	var h float64
	for i := range t.bounds {
		for j := range t.bounds {
			h += t.hz[i][j]
		}
	}
	return t.a * t.a * h
}

func (m graded) Jacobian(ability float64, params domain.Parameters, x float64) []float64 {
	t := m.terms(ability, params, params.Category(x))
	nth := len(params.Thresholds)
	n := nth
	if m.discrimination {
		n++
	}
	jac := make([]float64, n)
	for _, b := range t.bounds {
		jac[b.index] = -t.a * b.g
		if m.discrimination {
			jac[nth] += (ability - params.Thresholds[b.index].Difficulty) * b.g
		}
	}
	return jac
}

func (m graded) Hessian(ability float64, params domain.Parameters, x float64) linalg.Matrix {
	t := m.terms(ability, params, params.Category(x))
	nth := len(params.Thresholds)
	n := nth
	if m.discrimination {
		n++
	}
	h := linalg.New(n, n)
	u := func(b boundary) float64 { return ability - params.Thresholds[b.index].Difficulty }
	for i, bi := range t.bounds {
		for j, bj := range t.bounds {
			h.Set(bi.index, bj.index, t.a*t.a*t.hz[i][j])
		}
	}
	if !m.discrimination {
		return h
	}
	var haa float64
	for i, bi := range t.bounds {
		for j, bj := range t.bounds {
			haa += u(bi) * u(bj) * t.hz[i][j]
		}
	}
	h.Set(nth, nth, haa)
	for j, bj := range t.bounds {
		var v float64
		for i, bi := range t.bounds {
			v += u(bi) * t.hz[i][j]
		}
		v = -t.a*v - bj.g
		h.Set(nth, bj.index, v)
		h.Set(bj.index, nth, v)
	}
	return h
}

func (m graded) FisherInfo(ability float64, params domain.Parameters) float64 {
	a := m.slope(params)
	nth := len(params.Thresholds)
	star := make([]float64, nth+2)
	star[0] = 1
	for j := 1; j <= nth; j++ {
		star[j] = sigmoid(a * (ability - params.Thresholds[j-1].Difficulty))
	}
	var info float64
	for k := 0; k <= nth; k++ {
		pk := star[k] - star[k+1]
		if pk <= 0 {
			continue
		}
		d := star[k]*(1-star[k]) - star[k+1]*(1-star[k+1])
		info += a * a * d * d / pk
	}
	return info
}
