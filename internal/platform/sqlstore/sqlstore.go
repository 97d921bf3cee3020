// Package sqlstore implements the store interfaces over database/sql. It
// speaks PostgreSQL through the pgx stdlib driver and SQLite through
// modernc.org/sqlite with one shared schema, managed by goose migrations
// embedded in the binary.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/phrazzld/scry-cat/internal/store"
)

// Dialect selects SQL flavour and driver.
type Dialect string

// Supported dialects
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// driverName returns the database/sql driver registered for d.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectPostgres:
		return "pgx", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported dialect %q", d)
	}
}

// Store implements store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and verifies the connection. SQLite
// databases are limited to one connection since SQLite serializes writers.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// New wraps an open database.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With(slog.String("component", "sqlstore")),
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// rebind rewrites ? placeholders into the dialect's form.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ..." for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []uuid.UUID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// nanos stores the zero time as 0 so it reads back as the zero time.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// nullFloat stores non-finite values, such as the infinite standard error of
// an uninformative estimate, as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsInf(v, 0) && !math.IsNaN(v)}
}

func fromNullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
