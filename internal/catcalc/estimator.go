// Package catcalc estimates item and person parameters from response data by
// alternating Newton-Raphson: abilities are fitted with items held fixed,
// then items with abilities held fixed, until both settle.
package catcalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
	"github.com/phrazzld/scry-cat/internal/linalg"
)

var (
	// ErrNoResponses is returned when there is nothing to estimate from.
	ErrNoResponses = errors.New("catcalc: no usable responses")

	// ErrFlatCurvature flags an ability whose log-likelihood curvature was
	// too flat or not concave for a Newton step.
	ErrFlatCurvature = errors.New("catcalc: log-likelihood curvature is flat or not concave")

	// ErrNonFinite flags a unit whose derivatives became NaN or infinite.
	ErrNonFinite = errors.New("catcalc: non-finite derivatives")
)

// Config tunes the estimator. Zero values are replaced with defaults.
type Config struct {
	AbilityTolerance     float64 `mapstructure:"ability_tolerance"      validate:"gte=0"` // default 1e-4
	ParamTolerance       float64 `mapstructure:"param_tolerance"        validate:"gte=0"` // default 1e-4
	MaxAbilityIterations int     `mapstructure:"max_ability_iterations" validate:"gte=0"` // default 30
	MaxParamIterations   int     `mapstructure:"max_param_iterations"   validate:"gte=0"` // default 30
	MaxRounds            int     `mapstructure:"max_rounds"             validate:"gte=0"` // default 100
	MaxAbilityStep       float64 `mapstructure:"max_ability_step"       validate:"gte=0"` // default 1
	MinAbility           float64 `mapstructure:"min_ability"`                            // default -6
	MaxAbility           float64 `mapstructure:"max_ability"`                            // default 6
	MaxHalvings          int     `mapstructure:"max_halvings"           validate:"gte=0"` // default 10
	Workers              int     `mapstructure:"workers"                validate:"gte=0"` // default GOMAXPROCS
}

func (c Config) withDefaults() Config {
	if c.AbilityTolerance == 0 {
		c.AbilityTolerance = 1e-4
	}
	if c.ParamTolerance == 0 {
		c.ParamTolerance = 1e-4
	}
	if c.MaxAbilityIterations == 0 {
		c.MaxAbilityIterations = 30
	}
	if c.MaxParamIterations == 0 {
		c.MaxParamIterations = 30
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = 100
	}
	if c.MaxAbilityStep == 0 {
		c.MaxAbilityStep = 1
	}
	if c.MinAbility == 0 && c.MaxAbility == 0 {
		c.MinAbility, c.MaxAbility = -6, 6
	}
	if c.MaxHalvings == 0 {
		c.MaxHalvings = 10
	}
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

func (c Config) bounds() AbilityBounds {
	return AbilityBounds{Min: c.MinAbility, Max: c.MaxAbility, MaxStep: c.MaxAbilityStep}
}

// Estimator fits one response model to a calibration sample.
type Estimator struct {
	cfg      Config
	region   irt.TrustRegion
	registry *irt.Registry
	logger   *slog.Logger
}

// NewEstimator validates the configuration and trust region. Malformed
// bounds are configuration errors and fail here, before any work starts.
func NewEstimator(cfg Config, region irt.TrustRegion, registry *irt.Registry, logger *slog.Logger) (*Estimator, error) {
	cfg = cfg.withDefaults()
	if cfg.MinAbility >= cfg.MaxAbility {
		return nil, fmt.Errorf("catcalc: min ability %v must be below max ability %v", cfg.MinAbility, cfg.MaxAbility)
	}
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = irt.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		cfg:      cfg,
		region:   region,
		registry: registry,
		logger:   logger.With(slog.String("component", "catcalc")),
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (e *Estimator) Config() Config { return e.cfg }

// Registry returns the model registry used for locked items.
func (e *Estimator) Registry() *irt.Registry { return e.registry }

// Input is one calibration sample.
type Input struct {
	Responses []domain.ResponseRecord

	// Prior holds the parameters of the previous context per item. A prior of
	// the estimated model seeds the fit; locked priors are held fixed under
	// their own model; any usable prior is carried over when the item cannot
	// be re-estimated.
	Prior map[uuid.UUID]domain.ItemParam

	// Abilities optionally seeds person abilities.
	Abilities map[uuid.UUID]float64

	// FixedAbilities holds every ability found in Abilities constant, so only
	// item parameters and unknown persons are estimated.
	FixedAbilities bool
}

type response struct {
	unit     int
	fraction float64
}

type itemUnit struct {
	id        uuid.UUID
	model     irt.Model
	params    domain.Parameters
	responses []response // unit = person index
	fixed     bool       // held constant during the item step
	usable    bool       // contributes to the ability step
	result    ItemResult
}

type personUnit struct {
	id        uuid.UUID
	ability   float64
	fixed     bool
	responses []response // unit = item index
	result    PersonResult
}

// Estimate fits model to the sample. Numeric trouble on a single item or
// person is reported through flags on that unit; only a cancelled context or
// an empty sample makes Estimate fail.
func (e *Estimator) Estimate(ctx context.Context, model irt.Model, in Input) (*Result, error) {
	start := time.Now()
	items, persons := e.index(model, in)
	if len(persons) == 0 {
		return nil, ErrNoResponses
	}
	region := e.sampleRegion(items)
	standardizing := freeScale(items, persons)

	res := &Result{Model: model.Name()}
	for round := 1; round <= e.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Rounds = round

		abilityDelta, err := e.abilityStep(ctx, items, persons)
		if err != nil {
			return nil, err
		}
		if standardizing {
			abilityDelta += e.standardize(region, model, items, persons)
		}
		paramDelta, stalled, err := e.itemStep(ctx, region, items, persons)
		if err != nil {
			return nil, err
		}

		e.logger.DebugContext(ctx, "estimation round finished",
			slog.String("model", model.Name()),
			slog.Int("round", round),
			slog.Float64("ability_delta", abilityDelta),
			slog.Float64("param_delta", paramDelta),
			slog.Int("stalled_items", stalled))

		if abilityDelta < e.cfg.AbilityTolerance && paramDelta < e.cfg.ParamTolerance && stalled == 0 {
			res.Converged = true
			break
		}
	}

	e.finish(items, persons, res)

	e.logger.InfoContext(ctx, "estimation finished",
		slog.String("model", model.Name()),
		slog.Bool("converged", res.Converged),
		slog.Int("rounds", res.Rounds),
		slog.Int("items", len(res.Items)),
		slog.Int("persons", len(res.Persons)),
		slog.Float64("log_likelihood", res.LogLikelihood),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

// index groups responses by item and person, resolves each item's role and
// seeds starting values. Units are ordered by id for reproducible results.
func (e *Estimator) index(model irt.Model, in Input) ([]*itemUnit, []*personUnit) {
	byItem := make(map[uuid.UUID][]domain.ResponseRecord)
	for _, r := range in.Responses {
		if prior, ok := in.Prior[r.ItemID]; ok && prior.Status == domain.ItemParamStatusExcludedManually {
			continue
		}
		byItem[r.ItemID] = append(byItem[r.ItemID], r)
	}

	itemIDs := sortedKeys(byItem)
	personIndex := make(map[uuid.UUID]int)
	var persons []*personUnit
	for _, r := range in.Responses {
		if _, ok := byItem[r.ItemID]; !ok {
			continue
		}
		if _, ok := personIndex[r.PersonID]; !ok {
			personIndex[r.PersonID] = 0
			persons = append(persons, &personUnit{id: r.PersonID})
		}
	}
	sort.Slice(persons, func(i, j int) bool { return lessUUID(persons[i].id, persons[j].id) })
	for i, p := range persons {
		personIndex[p.id] = i
	}

	items := make([]*itemUnit, 0, len(itemIDs))
	for ii, id := range itemIDs {
		recs := byItem[id]
		fractions := make([]float64, len(recs))
		for i, r := range recs {
			fractions[i] = r.Fraction
			pi := personIndex[r.PersonID]
			persons[pi].responses = append(persons[pi].responses, response{unit: ii, fraction: r.Fraction})
		}
		u := &itemUnit{id: id}
		for _, r := range recs {
			u.responses = append(u.responses, response{unit: personIndex[r.PersonID], fraction: r.Fraction})
		}
		e.seedItem(u, model, in.Prior, fractions)
		items = append(items, u)
	}

	for _, p := range persons {
		fractions := make([]float64, len(p.responses))
		for i, r := range p.responses {
			fractions[i] = r.fraction
		}
		if a, ok := in.Abilities[p.id]; ok {
			p.ability = e.cfg.bounds().Clamp(a)
			p.fixed = in.FixedAbilities
		} else {
			p.ability = e.cfg.bounds().Clamp(InitialAbility(fractions))
		}
	}
	return items, persons
}

func (e *Estimator) seedItem(u *itemUnit, model irt.Model, priors map[uuid.UUID]domain.ItemParam, fractions []float64) {
	prior, hasPrior := priors[u.id]
	u.result = ItemResult{ItemID: u.id, Model: model.Name(), ResponseCount: len(fractions)}

	holdPrior := func() {
		u.fixed = true
		pm, err := e.registry.Lookup(prior.Model)
		if err != nil {
			u.result.Err = err
			return
		}
		u.model = pm
		u.params = prior.Params.Clone()
		u.usable = prior.Usable()
		u.result.Model = prior.Model
		u.result.Params = prior.Params.Clone()
		u.result.Status = prior.Status
		u.result.StandardError = prior.StandardError
	}

	template := domain.Parameters{}
	if hasPrior && prior.Model == model.Name() {
		template = prior.Params
	}

	switch {
	case hasPrior && prior.Status == domain.ItemParamStatusSetManually:
		holdPrior()
		u.result.Locked = true
		return
	case observedCategories(model, template, fractions) < 2:
		u.result.Skipped = true
		if hasPrior {
			holdPrior()
			return
		}
		u.model = model
		u.params = model.InitialParams(domain.Parameters{}, fractions)
		u.fixed = true
		u.result.Params = u.params.Clone()
		u.result.Status = domain.ItemParamStatusNotCalculated
		return
	}

	u.model = model
	u.usable = true
	if hasPrior && prior.Model == model.Name() && prior.Usable() && prior.Params.Validate() == nil {
		u.params = prior.Params.Clone()
	} else {
		u.params = model.InitialParams(template, fractions)
	}
}

// sampleRegion narrows the configured difficulty window around the spread of
// the starting item locations.
func (e *Estimator) sampleRegion(items []*itemUnit) irt.TrustRegion {
	var locations []float64
	for _, u := range items {
		if !u.fixed {
			locations = append(locations, u.params.Location())
		}
	}
	region := e.region.WithSample(irt.ParamDifficulty, locations)
	for _, u := range items {
		if !u.fixed {
			u.params = region.Clamp(u.model, u.params)
		}
	}
	return region
}

func (e *Estimator) abilityStep(ctx context.Context, items []*itemUnit, persons []*personUnit) (float64, error) {
	deltas := make([]float64, len(persons))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i := range persons {
		i := i
		if persons[i].fixed {
			persons[i].result.Converged = true
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := persons[i]
			obs := observations(p, items)
			est := EstimateAbility(p.ability, obs, e.cfg.bounds(), e.cfg.AbilityTolerance, e.cfg.MaxAbilityIterations)
			deltas[i] = math.Abs(est.Ability - p.ability)
			p.ability = est.Ability
			p.result.Converged = est.Converged
			p.result.Err = est.Err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return maxOf(deltas), nil
}

// itemStep refits every free item and returns the largest parameter change
// and the number of items whose Newton step found no ascent.
func (e *Estimator) itemStep(ctx context.Context, region irt.TrustRegion, items []*itemUnit, persons []*personUnit) (float64, int, error) {
	deltas := make([]float64, len(items))
	stalled := make([]bool, len(items))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i := range items {
		i := i
		if items[i].fixed {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u := items[i]
			abilities := make([]float64, len(u.responses))
			for k, r := range u.responses {
				abilities[k] = persons[r.unit].ability
			}
			fit := e.fitItem(region, u.model, u.params, u.responses, abilities)
			deltas[i] = maxAbsDiff(u.model.Vector(fit.params), u.model.Vector(u.params))
			u.params = fit.params
			u.result.Converged = fit.converged
			u.result.Err = fit.err
			u.result.Iterations = fit.iterations
			u.result.StandardError = fit.standardError
			stalled[i] = fit.stalled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	n := 0
	for _, st := range stalled {
		if st {
			n++
		}
	}
	return maxOf(deltas), n, nil
}

type itemFit struct {
	params        domain.Parameters
	converged     bool
	stalled       bool // no step size improved the objective
	iterations    int
	standardError float64
	err           error
}

// objective is the penalized log-likelihood of one item.
func objective(region irt.TrustRegion, m irt.Model, p domain.Parameters, responses []response, abilities []float64) float64 {
	ll := region.Penalty(m, p)
	for k, r := range responses {
		ll += m.LogLikelihood(abilities[k], p, r.fraction)
	}
	return ll
}

// fitItem runs a penalized Newton-Raphson over the item's parameter vector.
// Each step solves H·d = J, moves to clamp(v - t·d) and halves t until the
// objective no longer decreases.
func (e *Estimator) fitItem(region irt.TrustRegion, m irt.Model, params domain.Parameters, responses []response, abilities []float64) itemFit {
	fit := itemFit{params: params}
	obj := objective(region, m, params, responses, abilities)
	for fit.iterations < e.cfg.MaxParamIterations {
		fit.iterations++
		jac, hess := itemSystem(region, m, fit.params, responses, abilities)
		d, err := ascentDirection(hess, jac)
		if err != nil {
			fit.err = fmt.Errorf("item step: %w", err)
			return fit
		}

		v := m.Vector(fit.params)
		accepted := false
		t := 1.0
		var next domain.Parameters
		var nextObj float64
		for h := 0; h <= e.cfg.MaxHalvings; h++ {
			cand := make([]float64, len(v))
			for i := range v {
				cand[i] = v[i] - t*d[i]
			}
			p, err := m.FromVector(fit.params, cand)
			if err != nil {
				fit.err = err
				return fit
			}
			p = region.Clamp(m, p)
			o := objective(region, m, p, responses, abilities)
			if !math.IsNaN(o) && o >= obj-1e-12 {
				next, nextObj, accepted = p, o, true
				break
			}
			t /= 2
		}
		if !accepted {
			// no ascent along the Newton direction; keep the last estimate.
			// A negligible direction means the item already sits at the
			// optimum and rounding noise rejected the step.
			if maxAbsDiff(d, make([]float64, len(d))) < e.cfg.ParamTolerance {
				fit.converged = true
			} else {
				fit.stalled = true
			}
			break
		}

		delta := maxAbsDiff(m.Vector(next), v)
		fit.params, obj = next, nextObj
		if delta < e.cfg.ParamTolerance {
			fit.converged = true
			break
		}
	}
	fit.standardError = parameterSE(region, m, fit.params, responses, abilities)
	return fit
}

// dampingFactors scale the Hessian diagonal when the plain Newton direction
// does not ascend.
var dampingFactors = []float64{0.01, 0.1, 1, 10, 100}

// ascentDirection solves H·d = J so that v - d is the Newton update. When H
// is not negative definite along J the system is damped with -λI until the
// update ascends. A singular undamped system is an error.
func ascentDirection(hess linalg.Matrix, jac []float64) ([]float64, error) {
	d, err := hess.Solve(jac)
	if err != nil {
		return nil, err
	}
	if dot(jac, d) <= 0 {
		return d, nil
	}
	scale := 0.0
	for i := 0; i < hess.Rows(); i++ {
		scale = math.Max(scale, math.Abs(hess.At(i, i)))
	}
	for _, f := range dampingFactors {
		damped := hess.Clone()
		for i := 0; i < damped.Rows(); i++ {
			damped.AddAt(i, i, -f*scale)
		}
		dd, err := damped.Solve(jac)
		if err == nil && dot(jac, dd) <= 0 {
			return dd, nil
		}
	}
	return d, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// itemSystem sums the penalized gradient and Hessian of one item.
func itemSystem(region irt.TrustRegion, m irt.Model, p domain.Parameters, responses []response, abilities []float64) ([]float64, linalg.Matrix) {
	jac := region.PenaltyJacobian(m, p)
	hess := region.PenaltyHessian(m, p)
	for k, r := range responses {
		for i, g := range m.Jacobian(abilities[k], p, r.fraction) {
			jac[i] += g
		}
		// shapes always agree: both come from the same model and params
		_ = hess.Add(m.Hessian(abilities[k], p, r.fraction))
	}
	return jac, hess
}

// parameterSE is the asymptotic standard error of the first free parameter,
// sqrt([(-H)⁻¹]₀₀), or 0 when the information matrix cannot be inverted.
func parameterSE(region irt.TrustRegion, m irt.Model, p domain.Parameters, responses []response, abilities []float64) float64 {
	_, hess := itemSystem(region, m, p, responses, abilities)
	hess.Scale(-1)
	inv, err := hess.Inverse()
	if err != nil || inv.Rows() == 0 {
		return 0
	}
	v := inv.At(0, 0)
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Sqrt(v)
}

// finish computes final log-likelihoods and standard errors and fills res.
func (e *Estimator) finish(items []*itemUnit, persons []*personUnit, res *Result) {
	for _, u := range items {
		r := u.result
		if !u.fixed {
			r.Params = u.params.Clone()
			if r.Err == nil {
				r.Status = domain.ItemParamStatusCalculatedAutomatically
			} else {
				r.Status = domain.ItemParamStatusNotCalculated
			}
		}
		if u.model != nil {
			for _, resp := range u.responses {
				r.LogLikelihood += u.model.LogLikelihood(persons[resp.unit].ability, u.params, resp.fraction)
			}
		}
		res.LogLikelihood += r.LogLikelihood
		res.ResponseCount += r.ResponseCount
		res.Items = append(res.Items, r)
	}

	for _, p := range persons {
		obs := observations(p, items)
		r := p.result
		r.PersonID = p.id
		r.Ability = p.ability
		r.StandardError = StandardError(p.ability, obs)
		r.ResponseCount = len(p.responses)
		res.Persons = append(res.Persons, r)
	}
}

// observations lists the responses of p on items that take part in the
// ability step.
func observations(p *personUnit, items []*itemUnit) []Observation {
	obs := make([]Observation, 0, len(p.responses))
	for _, r := range p.responses {
		u := items[r.unit]
		if !u.usable || u.model == nil {
			continue
		}
		obs = append(obs, Observation{Model: u.model, Params: u.params, Fraction: r.fraction})
	}
	return obs
}

// observedCategories counts the response categories present in fractions.
// Polytomous items use the category structure they would be fitted with, so
// distinct fractions that round to one category count once.
func observedCategories(model irt.Model, template domain.Parameters, fractions []float64) int {
	if !model.Polytomous() {
		seen := make(map[float64]struct{}, len(fractions))
		for _, f := range fractions {
			seen[f] = struct{}{}
		}
		return len(seen)
	}
	cats := model.InitialParams(template, fractions)
	seen := make(map[int]struct{}, len(cats.Thresholds)+1)
	for _, f := range fractions {
		seen[cats.Category(f)] = struct{}{}
	}
	return len(seen)
}

func sortedKeys[V any](m map[uuid.UUID]V) []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessUUID(keys[i], keys[j]) })
	return keys
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func maxOf(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}
