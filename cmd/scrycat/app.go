package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/config"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/platform/metrics"
	"github.com/phrazzld/scry-cat/internal/platform/sqlstore"
	"github.com/phrazzld/scry-cat/internal/selector"
	"github.com/phrazzld/scry-cat/internal/service/attempt"
	"github.com/phrazzld/scry-cat/internal/service/calibration"
	"github.com/phrazzld/scry-cat/internal/strategy"
	"github.com/phrazzld/scry-cat/internal/task"
)

// application holds the wired dependencies of one process.
type application struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *sql.DB
	store       *sqlstore.Store
	metrics     *metrics.Metrics
	emitter     *events.InMemoryEventEmitter
	calibration *calibration.Service
	attempts    *attempt.Service
	scheduler   *task.Scheduler
}

// newApplication opens the database, applies pending migrations and builds
// the services. Callers must call close.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	dialect := sqlstore.Dialect(cfg.Database.Dialect)
	db, err := sqlstore.Open(ctx, dialect, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	app := &application{cfg: cfg, logger: logger, db: db}
	if err := app.build(ctx, dialect); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *application) build(ctx context.Context, dialect sqlstore.Dialect) error {
	if err := sqlstore.Migrate(ctx, app.db, dialect, "up", app.logger); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	app.store = sqlstore.New(app.db, dialect, app.logger)
	app.metrics = metrics.New()
	app.emitter = events.NewInMemoryEventEmitter(app.logger)

	registry := irt.DefaultRegistry()
	estimator, err := catcalc.NewEstimator(app.cfg.Estimator, app.cfg.TrustRegion, registry, app.logger)
	if err != nil {
		return fmt.Errorf("failed to build estimator: %w", err)
	}
	strat, err := strategy.New(app.cfg.Strategy, estimator, app.logger)
	if err != nil {
		return fmt.Errorf("failed to build model strategy: %w", err)
	}
	sel, err := selector.New(app.cfg.Selector, registry, app.logger)
	if err != nil {
		return fmt.Errorf("failed to build selector: %w", err)
	}

	app.calibration, err = calibration.New(app.store, strat, app.emitter, app.metrics, app.logger)
	if err != nil {
		return err
	}
	app.attempts, err = attempt.New(app.store, sel, app.metrics, app.logger)
	if err != nil {
		return err
	}
	app.scheduler = task.NewScheduler(app.calibration, task.SchedulerConfig{
		Workers:   app.cfg.Calibration.Workers,
		QueueSize: app.cfg.Calibration.QueueSize,
		Timeout:   app.cfg.Calibration.Timeout,
	}, app.logger)

	app.emitter.RegisterHandler(task.NewCalibrationEventHandler(app.scheduler, app.logger))
	app.emitter.RegisterHandler(app.attempts)
	return nil
}

func (app *application) close() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", slog.String("error", err.Error()))
	}
}
