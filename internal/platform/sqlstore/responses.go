package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/store"
)

// AddResponse appends one response.
func (s *Store) AddResponse(ctx context.Context, r domain.ResponseRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO responses (id, person_id, item_id, fraction, answered_at) VALUES (?, ?, ?, ?, ?)`),
		uuid.New(), r.PersonID, r.ItemID, r.Fraction, nanos(r.AnsweredAt))
	if err != nil {
		return store.NewStoreError("response", "create", "insert failed", MapError(err))
	}
	return nil
}

// responseWhere renders the filter as a WHERE clause over responses r.
func responseWhere(f store.ResponseFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.ScaleIDs) > 0 {
		conds = append(conds, `r.item_id IN (SELECT id FROM items WHERE scale_id IN (`+placeholders(len(f.ScaleIDs))+`))`)
		args = append(args, idArgs(f.ScaleIDs)...)
	}
	if f.Unprocessed {
		conds = append(conds, `r.processed_context_id IS NULL`)
	}
	if !f.Until.IsZero() {
		conds = append(conds, `r.answered_at <= ?`)
		args = append(args, nanos(f.Until))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListResponses returns matching responses in answer order.
func (s *Store) ListResponses(ctx context.Context, f store.ResponseFilter) ([]domain.ResponseRecord, error) {
	where, args := responseWhere(f)
	query := `SELECT r.person_id, r.item_id, r.fraction, r.answered_at FROM responses r` + where +
		` ORDER BY r.answered_at, r.id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, store.NewStoreError("response", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ResponseRecord
	for rows.Next() {
		var (
			r  domain.ResponseRecord
			at int64
		)
		if err := rows.Scan(&r.PersonID, &r.ItemID, &r.Fraction, &at); err != nil {
			return nil, store.NewStoreError("response", "list", "scan failed", err)
		}
		r.AnsweredAt = fromNanos(at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("response", "list", "iteration failed", err)
	}
	return out, nil
}

// MarkProcessed tags unprocessed matching responses with contextID.
func (s *Store) MarkProcessed(ctx context.Context, f store.ResponseFilter, contextID uuid.UUID) (int64, error) {
	f.Unprocessed = true
	where, args := responseWhere(f)
	// UPDATE cannot alias its target in every dialect, so the filter runs
	// against a keyed subquery.
	query := `UPDATE responses SET processed_context_id = ? WHERE id IN (SELECT r.id FROM responses r` + where + `)`

	res, err := s.db.ExecContext(ctx, s.rebind(query), append([]any{contextID}, args...)...)
	if err != nil {
		return 0, store.NewStoreError("response", "mark", "update failed", MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("response", "mark", "rows affected", err)
	}
	return n, nil
}
