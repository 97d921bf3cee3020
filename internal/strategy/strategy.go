// Package strategy fits every candidate response model to a calibration
// sample, scores each item's fit with an information criterion and merges
// the per-item winners into the parameter set of a new context.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
)

// Information criteria
const (
	CriterionAIC = "aic"
	CriterionBIC = "bic"
)

// tieTolerance is the criterion difference under which two fits are equal.
const tieTolerance = 1e-9

var (
	// ErrUnknownCriterion is returned for a criterion other than aic or bic.
	ErrUnknownCriterion = errors.New("strategy: unknown information criterion")

	// ErrNoModels is returned when no candidate model is configured.
	ErrNoModels = errors.New("strategy: no candidate models")
)

// Config selects the criterion and candidate models.
type Config struct {
	Criterion string   `mapstructure:"criterion" validate:"required,oneof=aic bic"`
	Models    []string `mapstructure:"models"    validate:"required,min=1"`
}

// DefaultConfig uses AIC over every built-in model.
func DefaultConfig() Config {
	return Config{Criterion: CriterionAIC, Models: irt.DefaultRegistry().Names()}
}

// Strategy chooses the best model per item.
type Strategy struct {
	criterion string
	models    []irt.Model
	estimator *catcalc.Estimator
	logger    *slog.Logger
	now       func() time.Time
}

// New resolves the candidate models against the estimator's registry. An
// unknown model or criterion is a configuration error.
func New(cfg Config, estimator *catcalc.Estimator, logger *slog.Logger) (*Strategy, error) {
	if cfg.Criterion != CriterionAIC && cfg.Criterion != CriterionBIC {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCriterion, cfg.Criterion)
	}
	if len(cfg.Models) == 0 {
		return nil, ErrNoModels
	}
	registry := estimator.Registry()
	models, err := registry.Resolve(cfg.Models)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(models, func(i, j int) bool {
		return registry.Rank(models[i].Name()) < registry.Rank(models[j].Name())
	})
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{
		criterion: cfg.Criterion,
		models:    models,
		estimator: estimator,
		logger:    logger.With(slog.String("component", "strategy")),
		now:       time.Now,
	}, nil
}

// Registry returns the model registry shared with the estimator.
func (s *Strategy) Registry() *irt.Registry { return s.estimator.Registry() }

// Criterion returns the configured information criterion.
func (s *Strategy) Criterion() string { return s.criterion }

// Input is the calibration sample of one scale.
type Input struct {
	ScaleID   uuid.UUID
	ParentID  uuid.UUID
	Name      string
	Responses []domain.ResponseRecord

	// Prior holds the item parameters of the parent context, one per item.
	Prior map[uuid.UUID]domain.ItemParam
}

// Fit is the score of one model on one item.
type Fit struct {
	Model         string
	Params        int
	Responses     int
	LogLikelihood float64
	AIC           float64
	BIC           float64
	Converged     bool
	Err           error
}

// Score returns the fit's value under criterion.
func (f Fit) Score(criterion string) float64 {
	if criterion == CriterionBIC {
		return f.BIC
	}
	return f.AIC
}

// Outcome is a fully formed new context with its parameters.
type Outcome struct {
	Context  domain.Context
	Items    []domain.ItemParam
	Persons  []domain.PersonParam
	Fits     map[uuid.UUID][]Fit
	Selected map[uuid.UUID]string
	Runs     []*catcalc.Result
}

// SelectBestModel runs the estimator under every candidate model in
// parallel and merges the per-item winners. Manually set or excluded
// parameters pass through untouched. Items no model could estimate keep
// their prior parameters, or become not_calculated when they have none.
func (s *Strategy) SelectBestModel(ctx context.Context, in Input) (*Outcome, error) {
	log := s.logger.With(slog.String("scale_id", in.ScaleID.String()))
	runs := make([]*catcalc.Result, len(s.models))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range s.models {
		i, m := i, m
		g.Go(func() error {
			res, err := s.estimator.Estimate(gctx, m, catcalc.Input{Responses: in.Responses, Prior: in.Prior})
			if err != nil {
				return fmt.Errorf("model %s: %w", m.Name(), err)
			}
			runs[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c, err := domain.NewContext(in.ScaleID, in.ParentID, in.Name, now)
	if err != nil {
		return nil, err
	}
	c.Criterion = s.criterion
	c.Converged = true
	for _, r := range runs {
		c.Converged = c.Converged && r.Converged
	}

	out := &Outcome{
		Fits:     make(map[uuid.UUID][]Fit),
		Selected: make(map[uuid.UUID]string),
		Runs:     runs,
	}
	merged := make(map[uuid.UUID]domain.ItemParam)
	for _, id := range s.itemIDs(runs, in.Prior) {
		prior, hasPrior := in.Prior[id]
		if hasPrior && prior.Locked() {
			merged[id] = s.carry(prior, c.ID, now)
			continue
		}

		fits := s.fits(id, runs)
		out.Fits[id] = fits
		best := s.best(fits)
		switch {
		case best >= 0:
			ir, _ := runs[best].Item(id)
			merged[id] = domain.ItemParam{
				ItemID:        id,
				ContextID:     c.ID,
				Model:         ir.Model,
				Params:        ir.Params.Clone(),
				Status:        domain.ItemParamStatusCalculatedAutomatically,
				StandardError: ir.StandardError,
				ResponseCount: ir.ResponseCount,
				UpdatedAt:     now,
			}
			out.Selected[id] = ir.Model
		case hasPrior:
			merged[id] = s.carry(prior, c.ID, now)
		default:
			merged[id] = s.notCalculated(id, runs, c.ID, now)
		}
	}

	for _, id := range sortedIDs(merged) {
		out.Items = append(out.Items, merged[id])
	}
	out.Persons = s.finalAbilities(in, merged, c.ID)
	out.Context = *c

	log.InfoContext(ctx, "model selection finished",
		slog.String("context_id", c.ID.String()),
		slog.String("criterion", s.criterion),
		slog.Int("items", len(out.Items)),
		slog.Int("selected", len(out.Selected)),
		slog.Int("persons", len(out.Persons)),
		slog.Bool("converged", c.Converged))
	return out, nil
}

// fits scores every run on one item. Runs that could not estimate the item
// are listed with their error and never win.
func (s *Strategy) fits(id uuid.UUID, runs []*catcalc.Result) []Fit {
	fits := make([]Fit, 0, len(runs))
	for i, r := range runs {
		ir, ok := r.Item(id)
		f := Fit{Model: s.models[i].Name()}
		switch {
		case !ok:
			f.Err = catcalc.ErrNoResponses
		case !ir.Estimated():
			f.Err = ir.Err
			if f.Err == nil {
				f.Err = errNotEstimated
			}
		default:
			k := float64(irt.NumParams(s.models[i], ir.Params))
			n := float64(ir.ResponseCount)
			f.Params = int(k)
			f.Responses = ir.ResponseCount
			f.LogLikelihood = ir.LogLikelihood
			f.AIC = 2*k - 2*ir.LogLikelihood
			f.BIC = k*math.Log(n) - 2*ir.LogLikelihood
			f.Converged = ir.Converged
			if math.IsNaN(f.AIC) || math.IsInf(f.AIC, 0) {
				f.Err = errNotEstimated
			}
		}
		fits = append(fits, f)
	}
	return fits
}

var errNotEstimated = errors.New("strategy: item not estimated")

// best returns the index of the winning fit, or -1. Lower scores win; ties
// go to fewer parameters and then to the earlier candidate, which is
// registry order.
func (s *Strategy) best(fits []Fit) int {
	best := -1
	for i, f := range fits {
		if f.Err != nil {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := fits[best]
		d := f.Score(s.criterion) - b.Score(s.criterion)
		if d < -tieTolerance || (math.Abs(d) <= tieTolerance && f.Params < b.Params) {
			best = i
		}
	}
	return best
}

func (s *Strategy) carry(prior domain.ItemParam, contextID uuid.UUID, now time.Time) domain.ItemParam {
	p := prior
	p.Params = prior.Params.Clone()
	p.ContextID = contextID
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return p
}

func (s *Strategy) notCalculated(id uuid.UUID, runs []*catcalc.Result, contextID uuid.UUID, now time.Time) domain.ItemParam {
	p := domain.ItemParam{
		ItemID:    id,
		ContextID: contextID,
		Model:     s.models[0].Name(),
		Status:    domain.ItemParamStatusNotCalculated,
		UpdatedAt: now,
	}
	if ir, ok := runs[0].Item(id); ok {
		p.Params = ir.Params.Clone()
		p.ResponseCount = ir.ResponseCount
	}
	return p
}

// finalAbilities re-estimates every person under the merged, mixed-model
// item parameters.
func (s *Strategy) finalAbilities(in Input, merged map[uuid.UUID]domain.ItemParam, contextID uuid.UUID) []domain.PersonParam {
	cfg := s.estimator.Config()
	bounds := catcalc.AbilityBounds{Min: cfg.MinAbility, Max: cfg.MaxAbility, MaxStep: cfg.MaxAbilityStep}
	registry := s.estimator.Registry()

	type personData struct {
		fractions []float64
		obs       []catcalc.Observation
	}
	byPerson := make(map[uuid.UUID]*personData)
	for _, r := range in.Responses {
		ip, ok := merged[r.ItemID]
		if !ok || ip.Status == domain.ItemParamStatusExcludedManually {
			continue
		}
		pd := byPerson[r.PersonID]
		if pd == nil {
			pd = &personData{}
			byPerson[r.PersonID] = pd
		}
		pd.fractions = append(pd.fractions, r.Fraction)
		if !ip.Usable() {
			continue
		}
		m, err := registry.Lookup(ip.Model)
		if err != nil {
			continue
		}
		pd.obs = append(pd.obs, catcalc.Observation{Model: m, Params: ip.Params, Fraction: r.Fraction})
	}

	out := make([]domain.PersonParam, 0, len(byPerson))
	for _, id := range sortedIDs(byPerson) {
		pd := byPerson[id]
		est := catcalc.EstimateAbility(catcalc.InitialAbility(pd.fractions), pd.obs, bounds, cfg.AbilityTolerance, cfg.MaxAbilityIterations)
		out = append(out, domain.PersonParam{
			PersonID:      id,
			ScaleID:       in.ScaleID,
			ContextID:     contextID,
			Ability:       est.Ability,
			StandardError: est.StandardError,
			ResponseCount: len(pd.fractions),
		})
	}
	return out
}

// itemIDs lists every item seen by any run or carried by the prior.
func (s *Strategy) itemIDs(runs []*catcalc.Result, prior map[uuid.UUID]domain.ItemParam) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	for _, r := range runs {
		for _, it := range r.Items {
			seen[it.ItemID] = struct{}{}
		}
	}
	for id := range prior {
		seen[id] = struct{}{}
	}
	return sortedIDs(seen)
}

func sortedIDs[V any](m map[uuid.UUID]V) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
