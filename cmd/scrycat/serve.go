package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-cat/internal/api"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the calibration workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApplication(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer app.close()
			return app.serve(cmd.Context(), nil)
		},
	}
}

// serve runs until ctx is cancelled, then shuts the server down within the
// configured timeout. A non-nil ready receives the bound address once the
// listener is open.
func (app *application) serve(ctx context.Context, ready chan<- string) error {
	router := api.NewRouter(api.RouterDeps{
		Attempts: app.attempts,
		Scales:   app.calibration,
		Emitter:  app.emitter,
		Tasks:    app.scheduler,
		DB:       app.store,
		Metrics:  app.metrics.Handler(),
		Logger:   app.logger,
	})

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(app.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	timeout := app.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-errCh

	app.logger.Info("server shutdown completed")
	return nil
}
