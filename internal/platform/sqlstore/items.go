package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/store"
)

// CreateItem inserts an item.
func (s *Store) CreateItem(ctx context.Context, item domain.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO items (id, scale_id, label, active) VALUES (?, ?, ?, ?)`),
		item.ID, item.ScaleID, item.Label, item.Active)
	if err != nil {
		return store.NewStoreError("item", "create", "insert failed", MapError(err))
	}
	return nil
}

// GetItem returns one item.
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, scale_id, label, active FROM items WHERE id = ?`), id).
		Scan(&item.ID, &item.ScaleID, &item.Label, &item.Active)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrItemNotFound
		}
		return nil, store.NewStoreError("item", "get", "query failed", MapError(err))
	}
	return &item, nil
}

// SetItemActive toggles pool membership.
func (s *Store) SetItemActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE items SET active = ? WHERE id = ?`), active, id)
	if err != nil {
		return store.NewStoreError("item", "update", "update failed", MapError(err))
	}
	return CheckRowsAffected(res, store.ErrItemNotFound)
}

// Pool lists the items on scaleIDs with the last time personID answered
// each of them.
func (s *Store) Pool(ctx context.Context, scaleIDs []uuid.UUID, personID uuid.UUID) ([]domain.PoolItem, error) {
	if len(scaleIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT i.id, i.scale_id, i.label, i.active, MAX(r.answered_at)
		FROM items i
		LEFT JOIN responses r ON r.item_id = i.id AND r.person_id = ?
		WHERE i.scale_id IN (` + placeholders(len(scaleIDs)) + `)
		GROUP BY i.id, i.scale_id, i.label, i.active
		ORDER BY i.id`
	args := append([]any{personID}, idArgs(scaleIDs)...)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, store.NewStoreError("item", "pool", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PoolItem
	for rows.Next() {
		var (
			it   domain.PoolItem
			last sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.ScaleID, &it.Label, &it.Active, &last); err != nil {
			return nil, store.NewStoreError("item", "pool", "scan failed", err)
		}
		if last.Valid {
			it.LastAttemptedAt = fromNanos(last.Int64)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("item", "pool", "iteration failed", err)
	}
	return out, nil
}
