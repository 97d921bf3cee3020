package catcalc

import (
	"math"

	"github.com/phrazzld/scry-cat/internal/domain/irt"
)

// freeScale reports whether nothing in the sample pins the ability metric:
// no person ability is held fixed and no fixed item takes part in the
// ability step. Joint estimation is then only identified up to a linear
// transform of the ability axis, which standardize removes.
func freeScale(items []*itemUnit, persons []*personUnit) bool {
	for _, p := range persons {
		if p.fixed {
			return false
		}
	}
	for _, u := range items {
		if u.fixed && u.usable {
			return false
		}
	}
	return true
}

// standardize moves the abilities to mean 0 and, for models with a free
// slope, standard deviation 1, and applies the inverse transform to the free
// item parameters so every likelihood is unchanged. Abilities pinned at the
// bounds (all-correct or all-wrong patterns) are left out of the moments. It
// returns the largest ability change.
func (e *Estimator) standardize(region irt.TrustRegion, model irt.Model, items []*itemUnit, persons []*personUnit) float64 {
	b := e.cfg.bounds()
	var interior []float64
	for _, p := range persons {
		if p.ability > b.Min+1e-6 && p.ability < b.Max-1e-6 {
			interior = append(interior, p.ability)
		}
	}
	if len(interior) < 2 {
		return 0
	}

	var mean float64
	for _, a := range interior {
		mean += a
	}
	mean /= float64(len(interior))
	sd := 1.0
	if hasSlope(model, items) {
		var ss float64
		for _, a := range interior {
			ss += (a - mean) * (a - mean)
		}
		if v := math.Sqrt(ss / float64(len(interior)-1)); v > 1e-6 {
			sd = v
		}
	}
	if math.Abs(mean) < 1e-12 && math.Abs(sd-1) < 1e-12 {
		return 0
	}

	var delta float64
	for _, p := range persons {
		next := b.Clamp((p.ability - mean) / sd)
		delta = math.Max(delta, math.Abs(next-p.ability))
		p.ability = next
	}
	for _, u := range items {
		if u.fixed || u.model == nil {
			continue
		}
		names := u.model.ParameterNames(u.params)
		v := u.model.Vector(u.params)
		for i, n := range names {
			switch irt.BaseName(n) {
			case irt.ParamDifficulty:
				v[i] = (v[i] - mean) / sd
			case irt.ParamDiscrimination:
				v[i] *= sd
			}
		}
		if p, err := u.model.FromVector(u.params, v); err == nil {
			u.params = region.Clamp(u.model, p)
		}
	}
	return delta
}

// hasSlope reports whether model estimates a discrimination for the free
// items of this sample.
func hasSlope(model irt.Model, items []*itemUnit) bool {
	for _, u := range items {
		if u.fixed || u.model == nil {
			continue
		}
		for _, n := range model.ParameterNames(u.params) {
			if irt.BaseName(n) == irt.ParamDiscrimination {
				return true
			}
		}
		return false
	}
	return false
}
