package calibration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/store"
)

var (
	// ErrInvalidOverride is returned for overrides that cannot be applied.
	ErrInvalidOverride = errors.New("calibration: invalid override")

	// ErrItemOutsideScale is returned when the item is not on the scale or
	// one of its sub-scales.
	ErrItemOutsideScale = errors.New("calibration: item does not belong to scale")
)

// Override pins, excludes or releases one item's parameters.
//
// SetManually requires Model and Params. ExcludedManually keeps the
// current parameters when the item has some. NotCalculated releases a lock
// so the next calibration estimates the item again.
type Override struct {
	ItemID uuid.UUID
	Status domain.ItemParamStatus
	Model  string
	Params domain.Parameters
}

// OverrideItem publishes a copy of the active context in which the item's
// parameters are replaced.
func (s *Service) OverrideItem(ctx context.Context, scaleID uuid.UUID, o Override) (*domain.Context, error) {
	if o.Status == domain.ItemParamStatusCalculatedAutomatically || !domain.IsValidItemParamStatus(o.Status) {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidOverride, o.Status)
	}
	item, err := s.store.GetItem(ctx, o.ItemID)
	if err != nil {
		return nil, err
	}
	tree, err := s.tree(ctx)
	if err != nil {
		return nil, err
	}
	if !tree.Contains(scaleID, item.ScaleID) {
		return nil, ErrItemOutsideScale
	}

	snap, err := s.activeSnapshot(ctx, scaleID)
	if err != nil && !errors.Is(err, store.ErrContextNotFound) {
		return nil, err
	}

	var parent domain.Context
	var items []domain.ItemParam
	var persons []domain.PersonParam
	if snap != nil {
		parent = snap.Context
		for _, id := range sortedKeys(snap.Items) {
			items = append(items, snap.Items[id])
		}
		for _, id := range sortedKeys(snap.Persons) {
			persons = append(persons, snap.Persons[id])
		}
	}

	now := s.now()
	c, err := domain.NewContext(scaleID, parent.ID, "override "+o.ItemID.String(), now)
	if err != nil {
		return nil, err
	}
	c.Criterion = parent.Criterion
	c.Converged = parent.Converged

	replaced := false
	for i := range items {
		items[i].ContextID = c.ID
		items[i].Params = items[i].Params.Clone()
		if items[i].ItemID == o.ItemID {
			next, err := s.apply(items[i], o)
			if err != nil {
				return nil, err
			}
			next.UpdatedAt = now.UTC()
			items[i] = next
			replaced = true
		}
	}
	if !replaced {
		next, err := s.apply(domain.ItemParam{ItemID: o.ItemID, ContextID: c.ID}, o)
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = now.UTC()
		items = append(items, next)
	}
	for i := range persons {
		persons[i].ContextID = c.ID
	}

	if err := s.store.Publish(ctx, *c, items, persons); err != nil {
		return nil, err
	}
	s.logger.Info("item override published",
		slog.String("scale_id", scaleID.String()),
		slog.String("item_id", o.ItemID.String()),
		slog.String("status", string(o.Status)),
		slog.String("context_id", c.ID.String()))
	s.announce(context.WithoutCancel(ctx), *c)
	return c, nil
}

// apply returns cur with the override applied.
func (s *Service) apply(cur domain.ItemParam, o Override) (domain.ItemParam, error) {
	next := cur
	next.Status = o.Status
	switch o.Status {
	case domain.ItemParamStatusSetManually:
		if err := s.checkParams(o.Model, o.Params); err != nil {
			return domain.ItemParam{}, err
		}
		next.Model = o.Model
		next.Params = o.Params.Clone()
		next.StandardError = 0
	case domain.ItemParamStatusExcludedManually, domain.ItemParamStatusNotCalculated:
		if o.Model != "" {
			if err := s.checkParams(o.Model, o.Params); err != nil {
				return domain.ItemParam{}, err
			}
			next.Model = o.Model
			next.Params = o.Params.Clone()
		}
		if next.Model == "" {
			return domain.ItemParam{}, fmt.Errorf("%w: item %s has no parameters to keep, a model is required", ErrInvalidOverride, o.ItemID)
		}
	}
	return next, nil
}

func (s *Service) checkParams(model string, p domain.Parameters) error {
	m, err := s.strategy.Registry().Lookup(model)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if m.Polytomous() != (len(p.Thresholds) > 0) {
		return fmt.Errorf("%w: thresholds do not match model %s", ErrInvalidOverride, model)
	}
	if !m.Polytomous() && p.Discrimination == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOverride, domain.ErrDiscriminationIsZero)
	}
	return nil
}

// Rollback makes an earlier context of the scale active again.
func (s *Service) Rollback(ctx context.Context, scaleID, contextID uuid.UUID) (*domain.Context, error) {
	active, err := s.store.ActiveContext(ctx, scaleID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if active.ID == contextID {
		return target, nil
	}
	if err := s.store.Activate(ctx, scaleID, contextID, active.ID); err != nil {
		return nil, err
	}
	s.logger.Info("context rolled back",
		slog.String("scale_id", scaleID.String()),
		slog.String("from", active.ID.String()),
		slog.String("to", contextID.String()))
	announced := *target
	announced.ParentID = active.ID
	s.announce(context.WithoutCancel(ctx), announced)
	return target, nil
}

func sortedKeys[V any](m map[uuid.UUID]V) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}
