package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
)

// DBTX is an interface that abstracts the database access layer.
// It is implemented by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ResponseFilter narrows a response listing.
type ResponseFilter struct {
	// ScaleIDs limits responses to items on these scales. Empty means all.
	ScaleIDs []uuid.UUID

	// Unprocessed limits responses to those not yet used by a calibration.
	Unprocessed bool

	// Until excludes responses answered after this time when non-zero.
	Until time.Time
}

// ResponseStore supplies scored responses.
type ResponseStore interface {
	// AddResponse appends one response. Responses are never updated.
	AddResponse(ctx context.Context, r domain.ResponseRecord) error

	// ListResponses returns responses ordered by answer time.
	ListResponses(ctx context.Context, f ResponseFilter) ([]domain.ResponseRecord, error)

	// MarkProcessed tags every matching unprocessed response with the
	// context that consumed it and returns how many were tagged.
	MarkProcessed(ctx context.Context, f ResponseFilter, contextID uuid.UUID) (int64, error)
}

// ScaleStore supplies the scale hierarchy.
type ScaleStore interface {
	CreateScale(ctx context.Context, s domain.Scale) error

	// GetScale returns ErrScaleNotFound for unknown ids.
	GetScale(ctx context.Context, id uuid.UUID) (*domain.Scale, error)

	ListScales(ctx context.Context) ([]domain.Scale, error)
}

// ItemStore supplies items and the per-person item pool.
type ItemStore interface {
	CreateItem(ctx context.Context, item domain.Item) error

	// GetItem returns ErrItemNotFound for unknown ids.
	GetItem(ctx context.Context, id uuid.UUID) (*domain.Item, error)

	// SetItemActive switches an item in or out of the pool.
	SetItemActive(ctx context.Context, id uuid.UUID, active bool) error

	// Pool returns every item on the given scales together with the last
	// time personID answered it.
	Pool(ctx context.Context, scaleIDs []uuid.UUID, personID uuid.UUID) ([]domain.PoolItem, error)
}

// ContextStore stores immutable contexts with their parameters and keeps
// the pointer to the active context of every scale.
type ContextStore interface {
	// ActiveContext returns ErrContextNotFound when the scale has none.
	ActiveContext(ctx context.Context, scaleID uuid.UUID) (*domain.Context, error)

	// GetContext returns ErrContextNotFound for unknown ids.
	GetContext(ctx context.Context, id uuid.UUID) (*domain.Context, error)

	// ListContexts returns the contexts of a scale, newest first.
	ListContexts(ctx context.Context, scaleID uuid.UUID) ([]domain.Context, error)

	// Snapshot loads a context together with its parameters.
	Snapshot(ctx context.Context, contextID uuid.UUID) (*domain.Snapshot, error)

	// Publish stores a new context with its parameters and makes it active
	// in one transaction. It fails with ErrContextConflict unless the active
	// context is still c.ParentID (uuid.Nil for a scale without one).
	Publish(ctx context.Context, c domain.Context, items []domain.ItemParam, persons []domain.PersonParam) error

	// Activate points the scale at an existing context, provided the active
	// context is still expected.
	Activate(ctx context.Context, scaleID, contextID, expected uuid.UUID) error
}

// Store bundles every collaborator.
type Store interface {
	ResponseStore
	ScaleStore
	ItemStore
	ContextStore
}
