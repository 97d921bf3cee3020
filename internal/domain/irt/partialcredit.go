package irt

import (
	"math"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/linalg"
)

// partialCredit implements the divide-by-total family
//
//	P_k(θ) = exp(η_k) / Σ_m exp(η_m),  η_k = a·Σ_{j≤k}(θ - b_j),  η_0 = 0
//
// over categories 0..K where K is the number of thresholds. With a fixed at
// 1 it is the Masters partial credit model; with a free it is the Muraki
// generalized partial credit model.
type partialCredit struct {
	name           string
	discrimination bool
}

// NewPCM returns the partial credit model: [difficulty per category].
func NewPCM() Model { return partialCredit{name: ModelPCM} }

// NewPCMGeneralized returns the generalized partial credit model:
// [difficulty per category, discrimination].
func NewPCMGeneralized() Model {
	return partialCredit{name: ModelPCMGeneralized, discrimination: true}
}

func (m partialCredit) Name() string     { return m.name }
func (m partialCredit) Polytomous() bool { return true }

func (m partialCredit) ParameterNames(p domain.Parameters) []string {
	return polytomousNames(p, m.discrimination)
}

func (m partialCredit) Vector(p domain.Parameters) []float64 {
	return polytomousVector(p, m.discrimination)
}

func (m partialCredit) FromVector(template domain.Parameters, v []float64) (domain.Parameters, error) {
	return polytomousFromVector(template, v, m.discrimination, false)
}

func (m partialCredit) InitialParams(template domain.Parameters, fractions []float64) domain.Parameters {
	cats := thresholdTemplate(template, fractions)
	return domain.Parameters{
		Discrimination: 1,
		Thresholds:     cumulativeThresholds(cats, fractions),
	}
}

func (m partialCredit) slope(p domain.Parameters) float64 {
	if m.discrimination {
		return p.Discrimination
	}
	return 1
}

// pcmState carries the category distribution at one ability.
type pcmState struct {
	a     float64
	u     []float64 // u_k = kθ - Σ_{j≤k} b_j, so η_k = a·u_k
	logP  []float64
	probs []float64
}

func (m partialCredit) state(ability float64, p domain.Parameters) pcmState {
	k := len(p.Thresholds)
	st := pcmState{
		a:     m.slope(p),
		u:     make([]float64, k+1),
		logP:  make([]float64, k+1),
		probs: make([]float64, k+1),
	}
	eta := make([]float64, k+1)
	for i := 1; i <= k; i++ {
		st.u[i] = st.u[i-1] + ability - p.Thresholds[i-1].Difficulty
		eta[i] = st.a * st.u[i]
	}
	lse := logSumExp(eta)
	for i := range eta {
		st.logP[i] = eta[i] - lse
		st.probs[i] = math.Exp(st.logP[i])
	}
	return st
}

// tail returns T_j = P(category ≥ j).
func (st pcmState) tail(j int) float64 {
	var s float64
	for m := j; m < len(st.probs); m++ {
		s += st.probs[m]
	}
	return s
}

// moments returns E[k] and Var[k] of the category index.
func (st pcmState) moments() (float64, float64) {
	var e, e2 float64
	for k, p := range st.probs {
		e += float64(k) * p
		e2 += float64(k*k) * p
	}
	return e, e2 - e*e
}

func (m partialCredit) Likelihood(ability float64, params domain.Parameters, x float64) float64 {
	return math.Exp(m.LogLikelihood(ability, params, x))
}

func (m partialCredit) LogLikelihood(ability float64, params domain.Parameters, x float64) float64 {
	st := m.state(ability, params)
	return st.logP[params.Category(x)]
}

func (m partialCredit) LogLikelihoodDAbility(ability float64, params domain.Parameters, x float64) float64 {
	st := m.state(ability, params)
	e, _ := st.moments()
	return st.a * (float64(params.Category(x)) - e)
}

func (m partialCredit) LogLikelihoodD2Ability(ability float64, params domain.Parameters, _ float64) float64 {
	st := m.state(ability, params)
	_, v := st.moments()
	return -st.a * st.a * v
}

func (m partialCredit) Jacobian(ability float64, params domain.Parameters, x float64) []float64 {
	st := m.state(ability, params)
	k := params.Category(x)
	nth := len(params.Thresholds)
	j := make([]float64, 0, nth+1)
	for i := 1; i <= nth; i++ {
		reached := 0.0
		if k >= i {
			reached = 1
		}
		j = append(j, -st.a*reached+st.a*st.tail(i))
	}
	if m.discrimination {
		var eu float64
		for i, p := range st.probs {
			eu += p * st.u[i]
		}
		j = append(j, st.u[k]-eu)
	}
	return j
}

func (m partialCredit) Hessian(ability float64, params domain.Parameters, x float64) linalg.Matrix {
	st := m.state(ability, params)
	k := params.Category(x)
	nth := len(params.Thresholds)
	n := nth
	if m.discrimination {
		n++
	}
	h := linalg.New(n, n)
	tails := make([]float64, nth+2)
	for i := 1; i <= nth; i++ {
		tails[i] = st.tail(i)
	}
	a2 := st.a * st.a
	for i := 1; i <= nth; i++ {
		for j := i; j <= nth; j++ {
			v := -a2 * (tails[j] - tails[i]*tails[j])
			h.Set(i-1, j-1, v)
			h.Set(j-1, i-1, v)
		}
	}
	if !m.discrimination {
		return h
	}

	var eu, eu2 float64
	for i, p := range st.probs {
		eu += p * st.u[i]
		eu2 += p * st.u[i] * st.u[i]
	}
	ia := nth
	h.Set(ia, ia, -(eu2 - eu*eu))
	for j := 1; j <= nth; j++ {
		var covTail float64
		for c := j; c < len(st.probs); c++ {
			covTail += st.probs[c] * st.u[c]
		}
		covTail -= eu * tails[j]
		reached := 0.0
		if k >= j {
			reached = 1
		}
		v := -reached + tails[j] + st.a*covTail
		h.Set(ia, j-1, v)
		h.Set(j-1, ia, v)
	}
	return h
}

func (m partialCredit) FisherInfo(ability float64, params domain.Parameters) float64 {
	st := m.state(ability, params)
	_, v := st.moments()
	return st.a * st.a * v
}

func polytomousNames(p domain.Parameters, discrimination bool) []string {
	names := make([]string, 0, len(p.Thresholds)+1)
	for _, t := range p.Thresholds {
		names = append(names, thresholdName(t.Fraction))
	}
	if discrimination {
		names = append(names, ParamDiscrimination)
	}
	return names
}

func polytomousVector(p domain.Parameters, discrimination bool) []float64 {
	v := make([]float64, 0, len(p.Thresholds)+1)
	for _, t := range p.Thresholds {
		v = append(v, t.Difficulty)
	}
	if discrimination {
		v = append(v, p.Discrimination)
	}
	return v
}

// polytomousFromVector writes thresholds (and the slope) back onto template.
// With ordered set, threshold difficulties are sorted ascending while the
// category fractions stay in place.
func polytomousFromVector(template domain.Parameters, v []float64, discrimination, ordered bool) (domain.Parameters, error) {
	nth := len(template.Thresholds)
	want := nth
	if discrimination {
		want++
	}
	if len(v) != want {
		return domain.Parameters{}, ErrVectorLength
	}
	out := template.Clone()
	out.Difficulty = 0
	out.Guessing = 0
	out.Discrimination = 1
	for i := range out.Thresholds {
		out.Thresholds[i].Difficulty = v[i]
	}
	if ordered {
		sortDifficulties(out.Thresholds)
	}
	if discrimination {
		out.Discrimination = v[nth]
	}
	return out, nil
}

func sortDifficulties(th []domain.Threshold) {
	for i := 1; i < len(th); i++ {
		for j := i; j > 0 && th[j].Difficulty < th[j-1].Difficulty; j-- {
			th[j].Difficulty, th[j-1].Difficulty = th[j-1].Difficulty, th[j].Difficulty
		}
	}
}
