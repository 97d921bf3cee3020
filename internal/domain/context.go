package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Context
var (
	ErrEmptyContextID      = errors.New("context ID cannot be empty")
	ErrEmptyContextScaleID = errors.New("context scale ID cannot be empty")
)

// Context is an immutable, versioned snapshot under which one coherent set
// of item and person parameters was computed. A calibration run always
// produces a new Context; the parent is the one that was active when the
// run started.
type Context struct {
	ID        uuid.UUID `json:"id"`
	ScaleID   uuid.UUID `json:"scale_id"`
	ParentID  uuid.UUID `json:"parent_id"`
	Name      string    `json:"name"`
	Criterion string    `json:"criterion"`
	Converged bool      `json:"converged"`
	CreatedAt time.Time `json:"created_at"`
}

// NewContext creates a context for a scale with a fresh ID.
func NewContext(scaleID, parentID uuid.UUID, name string, now time.Time) (*Context, error) {
	c := &Context{
		ID:        uuid.New(),
		ScaleID:   scaleID,
		ParentID:  parentID,
		Name:      name,
		CreatedAt: now.UTC(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks if the Context has valid data.
func (c *Context) Validate() error {
	if c.ID == uuid.Nil {
		return ErrEmptyContextID
	}
	if c.ScaleID == uuid.Nil {
		return ErrEmptyContextScaleID
	}
	return nil
}

// Snapshot is a Context together with everything computed under it.
// Snapshots are read concurrently by attempts and are never mutated after
// construction.
type Snapshot struct {
	Context Context
	Items   map[uuid.UUID]ItemParam
	Persons map[uuid.UUID]PersonParam
}

// NewSnapshot indexes item and person parameters by id. When an item has
// parameters for several models the first usable one wins.
func NewSnapshot(c Context, items []ItemParam, persons []PersonParam) *Snapshot {
	s := &Snapshot{
		Context: c,
		Items:   make(map[uuid.UUID]ItemParam, len(items)),
		Persons: make(map[uuid.UUID]PersonParam, len(persons)),
	}
	for _, ip := range items {
		if prev, ok := s.Items[ip.ItemID]; ok && prev.Usable() {
			continue
		}
		s.Items[ip.ItemID] = ip
	}
	for _, pp := range persons {
		if pp.ScaleID == c.ScaleID {
			s.Persons[pp.PersonID] = pp
		}
	}
	return s
}
