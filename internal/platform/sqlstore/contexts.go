package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/store"
)

const contextColumns = `c.id, c.scale_id, c.parent_id, c.name, c.criterion, c.converged, c.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(row rowScanner) (*domain.Context, error) {
	var (
		c       domain.Context
		parent  uuid.NullUUID
		created int64
	)
	if err := row.Scan(&c.ID, &c.ScaleID, &parent, &c.Name, &c.Criterion, &c.Converged, &created); err != nil {
		return nil, err
	}
	c.ParentID = parent.UUID
	c.CreatedAt = fromNanos(created)
	return &c, nil
}

// ActiveContext returns the context the scale currently points at.
func (s *Store) ActiveContext(ctx context.Context, scaleID uuid.UUID) (*domain.Context, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+contextColumns+`
		FROM active_contexts a
		JOIN contexts c ON c.id = a.context_id
		WHERE a.scale_id = ?`), scaleID)
	c, err := scanContext(row)
	if err != nil {
		return nil, s.contextError("active", err)
	}
	return c, nil
}

// GetContext returns one context.
func (s *Store) GetContext(ctx context.Context, id uuid.UUID) (*domain.Context, error) {
	return s.getContext(ctx, s.db, id)
}

func (s *Store) getContext(ctx context.Context, db store.DBTX, id uuid.UUID) (*domain.Context, error) {
	row := db.QueryRowContext(ctx, s.rebind(`SELECT `+contextColumns+` FROM contexts c WHERE c.id = ?`), id)
	c, err := scanContext(row)
	if err != nil {
		return nil, s.contextError("get", err)
	}
	return c, nil
}

func (s *Store) contextError(op string, err error) error {
	mapped := MapError(err)
	if store.IsNotFoundError(mapped) {
		return store.ErrContextNotFound
	}
	return store.NewStoreError("context", op, "query failed", mapped)
}

// ListContexts returns the contexts of a scale, newest first.
func (s *Store) ListContexts(ctx context.Context, scaleID uuid.UUID) ([]domain.Context, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+contextColumns+`
		FROM contexts c
		WHERE c.scale_id = ?
		ORDER BY c.created_at DESC, c.id`), scaleID)
	if err != nil {
		return nil, store.NewStoreError("context", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, store.NewStoreError("context", "list", "scan failed", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("context", "list", "iteration failed", err)
	}
	return out, nil
}

// Snapshot loads a context with all of its item and person parameters.
func (s *Store) Snapshot(ctx context.Context, contextID uuid.UUID) (*domain.Snapshot, error) {
	c, err := s.GetContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	items, err := s.itemParams(ctx, contextID)
	if err != nil {
		return nil, err
	}
	persons, err := s.personParams(ctx, contextID)
	if err != nil {
		return nil, err
	}
	return domain.NewSnapshot(*c, items, persons), nil
}

func (s *Store) itemParams(ctx context.Context, contextID uuid.UUID) ([]domain.ItemParam, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT item_id, model, params, status, standard_error, response_count, updated_at
		FROM item_params
		WHERE context_id = ?
		ORDER BY item_id, model`), contextID)
	if err != nil {
		return nil, store.NewStoreError("item_param", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ItemParam
	for rows.Next() {
		var (
			ip      domain.ItemParam
			params  string
			status  string
			se      sql.NullFloat64
			updated int64
		)
		if err := rows.Scan(&ip.ItemID, &ip.Model, &params, &status, &se, &ip.ResponseCount, &updated); err != nil {
			return nil, store.NewStoreError("item_param", "list", "scan failed", err)
		}
		if err := json.Unmarshal([]byte(params), &ip.Params); err != nil {
			return nil, store.NewStoreError("item_param", "list", "decode params", err)
		}
		ip.ContextID = contextID
		ip.Status = domain.ItemParamStatus(status)
		ip.StandardError = fromNullFloat(se)
		ip.UpdatedAt = fromNanos(updated)
		out = append(out, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("item_param", "list", "iteration failed", err)
	}
	return out, nil
}

func (s *Store) personParams(ctx context.Context, contextID uuid.UUID) ([]domain.PersonParam, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT person_id, scale_id, ability, standard_error, response_count
		FROM person_params
		WHERE context_id = ?
		ORDER BY person_id`), contextID)
	if err != nil {
		return nil, store.NewStoreError("person_param", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PersonParam
	for rows.Next() {
		var (
			pp domain.PersonParam
			se sql.NullFloat64
		)
		if err := rows.Scan(&pp.PersonID, &pp.ScaleID, &pp.Ability, &se, &pp.ResponseCount); err != nil {
			return nil, store.NewStoreError("person_param", "list", "scan failed", err)
		}
		pp.ContextID = contextID
		pp.StandardError = fromNullFloat(se)
		out = append(out, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("person_param", "list", "iteration failed", err)
	}
	return out, nil
}

// Publish stores c with its parameters and swaps it in as the active
// context of its scale, all in one transaction.
func (s *Store) Publish(ctx context.Context, c domain.Context, items []domain.ItemParam, persons []domain.PersonParam) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO contexts (id, scale_id, parent_id, name, criterion, converged, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			c.ID, c.ScaleID, nullUUID(c.ParentID), c.Name, c.Criterion, c.Converged, nanos(c.CreatedAt)); err != nil {
			return store.NewStoreError("context", "publish", "insert context", MapError(err))
		}
		if err := s.insertItemParams(ctx, tx, c.ID, items); err != nil {
			return err
		}
		if err := s.insertPersonParams(ctx, tx, c.ID, persons); err != nil {
			return err
		}
		return s.swap(ctx, tx, c.ScaleID, c.ID, c.ParentID, c.CreatedAt)
	})
	if err != nil {
		return err
	}

	s.logger.Info("context published",
		slog.String("context_id", c.ID.String()),
		slog.String("scale_id", c.ScaleID.String()),
		slog.String("parent_id", c.ParentID.String()),
		slog.Int("items", len(items)),
		slog.Int("persons", len(persons)))
	return nil
}

func (s *Store) insertItemParams(ctx context.Context, tx *sql.Tx, contextID uuid.UUID, items []domain.ItemParam) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO item_params (context_id, item_id, model, params, status, standard_error, response_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return store.NewStoreError("item_param", "publish", "prepare", MapError(err))
	}
	defer func() { _ = stmt.Close() }()

	for _, ip := range items {
		params, err := json.Marshal(ip.Params)
		if err != nil {
			return store.NewStoreError("item_param", "publish", "encode params", err)
		}
		if _, err := stmt.ExecContext(ctx, contextID, ip.ItemID, ip.Model, string(params), string(ip.Status),
			nullFloat(ip.StandardError), ip.ResponseCount, nanos(ip.UpdatedAt)); err != nil {
			return store.NewStoreError("item_param", "publish", "insert", MapError(err))
		}
	}
	return nil
}

func (s *Store) insertPersonParams(ctx context.Context, tx *sql.Tx, contextID uuid.UUID, persons []domain.PersonParam) error {
	if len(persons) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO person_params (context_id, person_id, scale_id, ability, standard_error, response_count)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return store.NewStoreError("person_param", "publish", "prepare", MapError(err))
	}
	defer func() { _ = stmt.Close() }()

	for _, pp := range persons {
		if _, err := stmt.ExecContext(ctx, contextID, pp.PersonID, pp.ScaleID, pp.Ability,
			nullFloat(pp.StandardError), pp.ResponseCount); err != nil {
			return store.NewStoreError("person_param", "publish", "insert", MapError(err))
		}
	}
	return nil
}

// Activate points scaleID at an existing context of that scale.
func (s *Store) Activate(ctx context.Context, scaleID, contextID, expected uuid.UUID) error {
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		c, err := s.getContext(ctx, tx, contextID)
		if err != nil {
			return err
		}
		if c.ScaleID != scaleID {
			return fmt.Errorf("%w: context %s belongs to scale %s", store.ErrInvalidEntity, contextID, c.ScaleID)
		}
		return s.swap(ctx, tx, scaleID, contextID, expected, time.Now())
	})
	if err != nil {
		return err
	}
	s.logger.Info("context activated",
		slog.String("context_id", contextID.String()),
		slog.String("scale_id", scaleID.String()),
		slog.String("previous_id", expected.String()))
	return nil
}

// swap moves the active pointer of scaleID from expected to contextID. It
// returns ErrContextConflict when the pointer has moved in the meantime.
func (s *Store) swap(ctx context.Context, tx *sql.Tx, scaleID, contextID, expected uuid.UUID, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if expected == uuid.Nil {
		res, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO active_contexts (scale_id, context_id, activated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (scale_id) DO NOTHING`),
			scaleID, contextID, nanos(at))
	} else {
		res, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE active_contexts SET context_id = ?, activated_at = ?
			WHERE scale_id = ? AND context_id = ?`),
			contextID, nanos(at), scaleID, expected)
	}
	if err != nil {
		return store.NewStoreError("context", "activate", "swap failed", MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.NewStoreError("context", "activate", "rows affected", err)
	}
	if n == 0 {
		return store.ErrContextConflict
	}
	return nil
}
