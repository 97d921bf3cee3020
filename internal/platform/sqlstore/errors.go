package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/phrazzld/scry-cat/internal/store"
)

// PostgreSQL error codes
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
)

// MapError maps a database error to the matching store error. The original
// error stays wrapped for debugging.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case foreignKeyViolationCode:
			return fmt.Errorf("%w: foreign key violation (%s): %v", store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case checkViolationCode:
			return fmt.Errorf("%w: check constraint violation (%s): %v", store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case notNullViolationCode:
			return fmt.Errorf("%w: not null violation (%s): %v", store.ErrInvalidEntity, pgErr.ColumnName, err)
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed"):
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: constraint violation: %v", store.ErrInvalidEntity, err)
		}
	}

	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation
// in either dialect.
func IsUniqueViolation(err error) bool {
	return errors.Is(MapError(err), store.ErrDuplicate)
}

// CheckRowsAffected returns notFound when the statement touched no rows.
func CheckRowsAffected(result sql.Result, notFound error) error {
	if result == nil {
		return fmt.Errorf("nil result provided to CheckRowsAffected")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
