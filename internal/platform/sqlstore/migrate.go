package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationTableName is the goose version table.
const MigrationTableName = "schema_migrations"

// goose keeps its settings in package state.
var gooseMu sync.Mutex

// gooseLogger forwards goose output to slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs without exiting; the error is returned to the caller.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// Migrate runs a goose command ("up", "down", "reset", "status" or
// "version") against the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "migrations"), slog.String("command", command))

	gooseDialect := "postgres"
	if dialect == DialectSQLite {
		gooseDialect = "sqlite3"
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger})
	goose.SetTableName(MigrationTableName)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, "migrations")
	case "down":
		err = goose.DownContext(ctx, db, "migrations")
	case "reset":
		err = goose.ResetContext(ctx, db, "migrations")
	case "status":
		err = goose.StatusContext(ctx, db, "migrations")
	case "version":
		err = goose.VersionContext(ctx, db, "migrations")
	default:
		return fmt.Errorf("unknown migration command: %s (expected up, down, reset, status or version)", command)
	}
	if err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	logger.Info("migration finished")
	return nil
}
