package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Scale and item validation errors
var (
	ErrEmptyScaleID     = errors.New("scale ID cannot be empty")
	ErrEmptyItemID      = errors.New("item ID cannot be empty")
	ErrEmptyItemScaleID = errors.New("item scale ID cannot be empty")
	ErrScaleCycle       = errors.New("scale hierarchy contains a cycle")
)

// Scale is a node of the scale hierarchy. ParentID is uuid.Nil for a root.
type Scale struct {
	ID       uuid.UUID `json:"id"`
	ParentID uuid.UUID `json:"parent_id"`
	Name     string    `json:"name"`
}

// Item is a test question belonging to exactly one scale.
type Item struct {
	ID      uuid.UUID `json:"id"`
	ScaleID uuid.UUID `json:"scale_id"`
	Label   string    `json:"label"`
	Active  bool      `json:"active"`
}

// Validate checks if the Item has valid data.
func (i *Item) Validate() error {
	if i.ID == uuid.Nil {
		return ErrEmptyItemID
	}
	if i.ScaleID == uuid.Nil {
		return ErrEmptyItemScaleID
	}
	return nil
}

// PoolItem is an item offered to the selector together with the last time
// the examinee saw it in another attempt (zero when never).
type PoolItem struct {
	Item
	LastAttemptedAt time.Time `json:"last_attempted_at"`
}

// ScaleTree resolves the scale hierarchy through parent ids held in a lookup
// table. Scales never reference each other directly.
type ScaleTree struct {
	scales   map[uuid.UUID]Scale
	children map[uuid.UUID][]uuid.UUID
}

// NewScaleTree indexes the given scales. It rejects hierarchies with cycles.
func NewScaleTree(scales []Scale) (*ScaleTree, error) {
	t := &ScaleTree{
		scales:   make(map[uuid.UUID]Scale, len(scales)),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
	for _, s := range scales {
		if s.ID == uuid.Nil {
			return nil, ErrEmptyScaleID
		}
		t.scales[s.ID] = s
	}
	for _, s := range scales {
		if s.ParentID != uuid.Nil {
			t.children[s.ParentID] = append(t.children[s.ParentID], s.ID)
		}
	}
	for _, s := range scales {
		seen := map[uuid.UUID]bool{s.ID: true}
		for p := s.ParentID; p != uuid.Nil; p = t.scales[p].ParentID {
			if seen[p] {
				return nil, ErrScaleCycle
			}
			seen[p] = true
		}
	}
	return t, nil
}

// Scale returns the scale with the given id.
func (t *ScaleTree) Scale(id uuid.UUID) (Scale, bool) {
	s, ok := t.scales[id]
	return s, ok
}

// Ancestors returns the parent chain of id, nearest first. Unknown parents
// end the chain.
func (t *ScaleTree) Ancestors(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	s, ok := t.scales[id]
	for ok && s.ParentID != uuid.Nil {
		out = append(out, s.ParentID)
		s, ok = t.scales[s.ParentID]
	}
	return out
}

// WithAncestors returns id followed by its ancestors.
func (t *ScaleTree) WithAncestors(id uuid.UUID) []uuid.UUID {
	return append([]uuid.UUID{id}, t.Ancestors(id)...)
}

// Descendants returns every scale below id in depth-first order.
func (t *ScaleTree) Descendants(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	stack := append([]uuid.UUID(nil), t.children[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		stack = append(stack, t.children[n]...)
	}
	return out
}

// Contains reports whether scale id is root or one of its descendants.
func (t *ScaleTree) Contains(root, id uuid.UUID) bool {
	if root == id {
		return true
	}
	for _, a := range t.Ancestors(id) {
		if a == root {
			return true
		}
	}
	return false
}
