// Package selector drives a live adaptive attempt: it picks the most
// informative next item under the attempt's context, decides when the
// attempt terminates and folds scored responses into the running ability
// estimates of every affected scale.
//
// Decisions are pure computations over an AttemptState and an immutable
// Snapshot. Every transition returns a new AttemptState; the input state is
// never modified, so many attempts can share one Selector and one Snapshot.
package selector

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
)

var (
	// ErrInvalidConfig is returned by New for malformed settings.
	ErrInvalidConfig = errors.New("selector: invalid configuration")

	// ErrItemNotIssued is returned when a response names an item other than
	// the one the attempt is waiting for.
	ErrItemNotIssued = errors.New("selector: item was not issued to this attempt")

	// ErrAttemptTerminated is returned when a response arrives after the
	// attempt reached its final state.
	ErrAttemptTerminated = errors.New("selector: attempt already terminated")

	// ErrContextMismatch is returned when the snapshot is not the context the
	// attempt is bound to.
	ErrContextMismatch = errors.New("selector: snapshot does not match the attempt context")

	// ErrUnknownItem is returned when the answered item is missing from the
	// pool or has no usable parameters.
	ErrUnknownItem = errors.New("selector: item not in pool")
)

// Pool is everything besides the attempt that a decision reads.
type Pool struct {
	Snapshot *domain.Snapshot
	Tree     *domain.ScaleTree
	Items    []domain.PoolItem
}

// Result is the outcome of NextItem: either an item to administer or the
// reason the attempt stopped.
type Result struct {
	Item    domain.ItemParam
	ScaleID uuid.UUID
	Score   float64
	Reason  domain.TerminationReason
}

// Terminated reports whether the result carries a termination reason
// instead of an item.
func (r Result) Terminated() bool {
	return r.Reason != domain.TerminationNone
}

// Selector makes item decisions for attempts.
type Selector struct {
	cfg      Config
	registry *irt.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg and builds a Selector. Model names in snapshots are
// resolved through registry.
func New(cfg Config, registry *irt.Registry, logger *slog.Logger) (*Selector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = irt.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With(slog.String("component", "selector")),
		now:      time.Now,
	}, nil
}

// Config returns the effective configuration.
func (s *Selector) Config() Config { return s.cfg }

// candidate is a pool item with resolved parameters.
type candidate struct {
	item   domain.PoolItem
	param  domain.ItemParam
	model  irt.Model
	theta  float64
	score  float64
	policy float64
}

// NextItem decides what the attempt does next. A terminated attempt keeps
// its stored reason. An attempt already waiting for an answer gets its
// pending item again.
func (s *Selector) NextItem(state *domain.AttemptState, pool Pool) (Result, *domain.AttemptState, error) {
	if state.Terminated() {
		return Result{Reason: state.Reason}, state.Clone(), nil
	}
	if err := s.check(state, pool); err != nil {
		return Result{}, nil, err
	}
	now := s.now()

	all := s.eligible(state, pool)
	if state.PendingItem != uuid.Nil {
		for _, c := range all {
			if c.item.ID == state.PendingItem {
				return issue(c), state.Clone(), nil
			}
		}
	}

	candidates := s.cooled(all, now)
	if reason := s.termination(state, len(candidates), now); reason != domain.TerminationNone {
		next := state.Clone()
		next.Status = domain.AttemptStatusTerminated
		next.Reason = reason
		next.PendingItem = uuid.Nil
		s.logger.Info("attempt terminated",
			slog.String("attempt_id", state.ID.String()),
			slog.String("reason", string(reason)),
			slog.Int("answered", len(state.History)))
		return Result{Reason: reason}, next, nil
	}

	var best candidate
	if len(state.History) == 0 && s.cfg.FirstItem != FirstItemMostInformative {
		best = s.firstItem(candidates)
	} else {
		best = s.mostInformative(candidates)
	}

	next := state.Clone()
	next.Status = domain.AttemptStatusInProgress
	next.PendingItem = best.item.ID
	s.logger.Debug("item selected",
		slog.String("attempt_id", state.ID.String()),
		slog.String("item_id", best.item.ID.String()),
		slog.Float64("score", best.score),
		slog.Int("candidates", len(candidates)))
	return issue(best), next, nil
}

func issue(c candidate) Result {
	return Result{Item: c.param, ScaleID: c.item.ScaleID, Score: c.model.FisherInfo(c.theta, c.param.Params)}
}

func (s *Selector) check(state *domain.AttemptState, pool Pool) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if pool.Snapshot == nil || pool.Snapshot.Context.ID != state.ContextID {
		return ErrContextMismatch
	}
	if pool.Tree == nil {
		return errors.New("selector: scale tree is required")
	}
	return nil
}

// eligible drops inactive items, items outside the attempt's scale, items
// without usable parameters and items already answered in this attempt.
func (s *Selector) eligible(state *domain.AttemptState, pool Pool) []candidate {
	var out []candidate
	for _, it := range pool.Items {
		if !it.Active || state.Administered(it.ID) || !pool.Tree.Contains(state.ScaleID, it.ScaleID) {
			continue
		}
		ip, ok := pool.Snapshot.Items[it.ID]
		if !ok || !ip.Usable() {
			continue
		}
		m, err := s.registry.Lookup(ip.Model)
		if err != nil {
			s.logger.Warn("skipping item with unknown model",
				slog.String("item_id", it.ID.String()),
				slog.String("model", ip.Model))
			continue
		}
		out = append(out, candidate{item: it, param: ip, model: m, theta: s.ability(state, pool.Tree, it.ScaleID)})
	}
	return out
}

// cooled drops items seen too recently in other attempts. When that would
// leave nothing, the uncooled pool is used instead.
func (s *Selector) cooled(all []candidate, now time.Time) []candidate {
	if s.cfg.Cooldown <= 0 {
		return all
	}
	var out []candidate
	for _, c := range all {
		if !c.item.LastAttemptedAt.IsZero() && now.Sub(c.item.LastAttemptedAt) < s.cfg.Cooldown {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// termination checks the stop conditions in their fixed order.
func (s *Selector) termination(state *domain.AttemptState, remaining int, now time.Time) domain.TerminationReason {
	switch {
	case s.cfg.MaxQuestions > 0 && len(state.History) >= s.cfg.MaxQuestions:
		return domain.TerminationReachedMaximumQuestions
	case remaining == 0:
		return domain.TerminationNoRemainingQuestions
	case s.precise(state):
		return domain.TerminationStandardErrorReached
	case s.cfg.TimeLimit > 0 && now.Sub(state.StartedAt) > s.cfg.TimeLimit:
		return domain.TerminationTimeLimitReached
	}
	return domain.TerminationNone
}

// precise reports whether every scale the strategy tracks is measured
// precisely enough with enough answers.
func (s *Selector) precise(state *domain.AttemptState) bool {
	var scales []uuid.UUID
	switch s.cfg.StandardErrorStrategy {
	case StandardErrorDisabled:
		return false
	case StandardErrorRootScale:
		scales = []uuid.UUID{state.ScaleID}
	default:
		scales = append(scales, state.ScaleID)
		for id := range state.Abilities {
			if id != state.ScaleID {
				scales = append(scales, id)
			}
		}
	}
	for _, id := range scales {
		est, ok := state.Abilities[id]
		if !ok || est.Count < s.cfg.MinQuestionsPerScale || !(est.StandardError <= s.cfg.StandardErrorMin) {
			return false
		}
	}
	return true
}

// ability returns the running estimate for scaleID, falling back to the
// nearest ancestor with an estimate and then to the configured start.
func (s *Selector) ability(state *domain.AttemptState, tree *domain.ScaleTree, scaleID uuid.UUID) float64 {
	for _, id := range tree.WithAncestors(scaleID) {
		if est, ok := state.Abilities[id]; ok {
			return est.Ability
		}
		if id == state.ScaleID {
			break
		}
	}
	return s.cfg.InitialAbility
}

// mostInformative returns the candidate with the highest Fisher information
// at the ability of its scale. Equal scores go to the lower item id.
func (s *Selector) mostInformative(candidates []candidate) candidate {
	best := -1
	for i := range candidates {
		c := &candidates[i]
		c.score = c.model.FisherInfo(c.theta, c.param.Params)
		if math.IsNaN(c.score) {
			c.score = 0
		}
		if best < 0 || c.score > candidates[best].score ||
			(c.score == candidates[best].score && lessID(c.item.ID, candidates[best].item.ID)) {
			best = i
		}
	}
	return candidates[best]
}

// firstItem applies the configured opening policy. Lower policy values win;
// equal values go to the lower item id.
func (s *Selector) firstItem(candidates []candidate) candidate {
	best := -1
	for i := range candidates {
		c := &candidates[i]
		loc := c.param.Params.Location()
		switch s.cfg.FirstItem {
		case FirstItemEasiest:
			c.policy = loc
		case FirstItemHardest:
			c.policy = -loc
		case FirstItemNearestAbility:
			c.policy = math.Abs(loc - s.cfg.InitialAbility)
		}
		c.score = c.model.FisherInfo(c.theta, c.param.Params)
		if best < 0 || c.policy < candidates[best].policy ||
			(c.policy == candidates[best].policy && lessID(c.item.ID, candidates[best].item.ID)) {
			best = i
		}
	}
	return candidates[best]
}

func (s *Selector) bounds() catcalc.AbilityBounds {
	return catcalc.AbilityBounds{Min: s.cfg.MinAbility, Max: s.cfg.MaxAbility, MaxStep: s.cfg.MaxAbilityStep}
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
