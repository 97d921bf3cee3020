package testdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-cat/internal/platform/sqlstore"
	"github.com/phrazzld/scry-cat/internal/testutils"
)

// TestTimeout bounds database setup in tests.
const TestTimeout = 10 * time.Second

// DatabaseURL returns the PostgreSQL URL configured for integration tests,
// or "" when none is.
func DatabaseURL() string {
	for _, key := range []string{"SCRYCAT_TEST_DATABASE_URL", "DATABASE_URL"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// NewSQLite opens a fresh, migrated SQLite database that is closed when the
// test ends.
func NewSQLite(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(OFF)"
	return open(t, sqlstore.DialectSQLite, dsn)
}

// NewStore returns a store over NewSQLite.
func NewStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	logger, _ := testutils.NewCaptureLogger()
	return sqlstore.New(NewSQLite(t), sqlstore.DialectSQLite, logger)
}

// PostgresStore returns a store over the integration database with a freshly
// reset schema. It skips the test when no database is configured.
func PostgresStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	url := DatabaseURL()
	if url == "" {
		t.Skip("SCRYCAT_TEST_DATABASE_URL or DATABASE_URL not set - skipping integration test")
	}
	db := open(t, sqlstore.DialectPostgres, url, "reset")
	logger, _ := testutils.NewCaptureLogger()
	return sqlstore.New(db, sqlstore.DialectPostgres, logger)
}

func open(t *testing.T, dialect sqlstore.Dialect, dsn string, pre ...string) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	db, err := sqlstore.Open(ctx, dialect, dsn)
	require.NoError(t, err, "failed to open %s database", dialect)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close database: %v", err)
		}
	})

	logger, _ := testutils.NewCaptureLogger()
	for _, command := range append(pre, "up") {
		require.NoError(t, sqlstore.Migrate(ctx, db, dialect, command, logger), "migrate %s", command)
	}
	return db
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "failed to begin transaction")
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("warning: failed to roll back transaction: %v", err)
		}
	}()
	fn(t, tx)
}
