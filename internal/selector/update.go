package selector

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/domain"
)

// ApplyResponse records the scored answer to the pending item and moves the
// ability of the item's scale and every ancestor up to the attempt's root by
// one Newton step. Standard errors are recomputed from all answers that count
// towards each scale.
func (s *Selector) ApplyResponse(state *domain.AttemptState, pool Pool, itemID uuid.UUID, fraction float64) (*domain.AttemptState, error) {
	if state.Terminated() {
		return nil, ErrAttemptTerminated
	}
	if state.PendingItem == uuid.Nil || state.PendingItem != itemID {
		return nil, ErrItemNotIssued
	}
	if err := s.check(state, pool); err != nil {
		return nil, err
	}
	now := s.now()
	rec, err := domain.NewResponseRecord(state.PersonID, itemID, fraction, now)
	if err != nil {
		return nil, err
	}

	items := make(map[uuid.UUID]domain.Item, len(pool.Items))
	for _, it := range pool.Items {
		items[it.ID] = it.Item
	}
	item, ok := items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}

	next := state.Clone()
	next.History = append(next.History, domain.AttemptEntry{
		ItemID:     itemID,
		ScaleID:    item.ScaleID,
		Fraction:   rec.Fraction,
		AnsweredAt: rec.AnsweredAt,
	})
	next.PendingItem = uuid.Nil
	next.Status = domain.AttemptStatusInProgress

	for _, scaleID := range s.affected(state.ScaleID, pool.Tree, item.ScaleID) {
		obs := s.observations(next.History, pool, scaleID)
		prev, ok := next.Abilities[scaleID]
		theta := s.cfg.InitialAbility
		if ok {
			theta = prev.Ability
		}
		updated, err := catcalc.NewtonStep(theta, obs, s.bounds())
		if err != nil {
			s.logger.Debug("ability kept",
				slog.String("attempt_id", state.ID.String()),
				slog.String("scale_id", scaleID.String()),
				slog.String("error", err.Error()))
		}
		next.Abilities[scaleID] = domain.AbilityEstimate{
			Ability:       updated,
			StandardError: catcalc.StandardError(updated, obs),
			Count:         s.count(next.History, pool.Tree, scaleID),
		}
	}
	return next, nil
}

// affected returns the item's scale and its ancestors up to root.
func (s *Selector) affected(root uuid.UUID, tree *domain.ScaleTree, scaleID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, id := range tree.WithAncestors(scaleID) {
		out = append(out, id)
		if id == root {
			break
		}
	}
	return out
}

// observations collects the answers counting towards scaleID under the
// parameters of the bound context.
func (s *Selector) observations(history []domain.AttemptEntry, pool Pool, scaleID uuid.UUID) []catcalc.Observation {
	var obs []catcalc.Observation
	for _, e := range history {
		if !pool.Tree.Contains(scaleID, e.ScaleID) {
			continue
		}
		ip, ok := pool.Snapshot.Items[e.ItemID]
		if !ok || !ip.Usable() {
			continue
		}
		m, err := s.registry.Lookup(ip.Model)
		if err != nil {
			continue
		}
		obs = append(obs, catcalc.Observation{Model: m, Params: ip.Params, Fraction: e.Fraction})
	}
	return obs
}

func (s *Selector) count(history []domain.AttemptEntry, tree *domain.ScaleTree, scaleID uuid.UUID) int {
	var n int
	for _, e := range history {
		if tree.Contains(scaleID, e.ScaleID) {
			n++
		}
	}
	return n
}
