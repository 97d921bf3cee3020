package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/store"
)

// CreateScale inserts a scale.
func (s *Store) CreateScale(ctx context.Context, sc domain.Scale) error {
	if sc.ID == uuid.Nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrEmptyScaleID)
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO scales (id, parent_id, name) VALUES (?, ?, ?)`),
		sc.ID, nullUUID(sc.ParentID), sc.Name)
	if err != nil {
		return store.NewStoreError("scale", "create", "insert failed", MapError(err))
	}
	return nil
}

// GetScale returns one scale.
func (s *Store) GetScale(ctx context.Context, id uuid.UUID) (*domain.Scale, error) {
	var (
		sc     domain.Scale
		parent uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, parent_id, name FROM scales WHERE id = ?`), id).
		Scan(&sc.ID, &parent, &sc.Name)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrScaleNotFound
		}
		return nil, store.NewStoreError("scale", "get", "query failed", MapError(err))
	}
	sc.ParentID = parent.UUID
	return &sc, nil
}

// ListScales returns every scale ordered by id.
func (s *Store) ListScales(ctx context.Context) ([]domain.Scale, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id, name FROM scales ORDER BY id`)
	if err != nil {
		return nil, store.NewStoreError("scale", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Scale
	for rows.Next() {
		var (
			sc     domain.Scale
			parent uuid.NullUUID
		)
		if err := rows.Scan(&sc.ID, &parent, &sc.Name); err != nil {
			return nil, store.NewStoreError("scale", "list", "scan failed", err)
		}
		sc.ParentID = parent.UUID
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("scale", "list", "iteration failed", err)
	}
	return out, nil
}
