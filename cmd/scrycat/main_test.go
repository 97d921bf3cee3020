package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-cat/internal/api"
	"github.com/phrazzld/scry-cat/internal/config"
	"github.com/phrazzld/scry-cat/internal/platform/logger"
)

// useTempDatabase points configuration at a fresh SQLite file.
func useTempDatabase(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrycat.db")
	t.Setenv("SCRYCAT_DATABASE_DIALECT", "sqlite")
	t.Setenv("SCRYCAT_DATABASE_URL", "file:"+path+"?_pragma=foreign_keys(1)")
	t.Setenv("SCRYCAT_SERVER_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	useTempDatabase(t)

	_, err := execute(t, "migrate")
	require.NoError(t, err)

	_, err = execute(t, "migrate", "version")
	require.NoError(t, err)

	_, err = execute(t, "migrate", "sideways")
	assert.Error(t, err)
}

func TestCalibrateCommand(t *testing.T) {
	useTempDatabase(t)

	t.Run("requires scale", func(t *testing.T) {
		_, err := execute(t, "calibrate")
		assert.Error(t, err)
	})

	t.Run("rejects malformed scale", func(t *testing.T) {
		_, err := execute(t, "calibrate", "--scale", "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --scale")
	})

	t.Run("unknown scale", func(t *testing.T) {
		_, err := execute(t, "calibrate", "--scale", uuid.NewString())
		assert.Error(t, err)
	})
}

func TestConfigFlagRequiresExistingFile(t *testing.T) {
	useTempDatabase(t)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestServeAnswersHealthAndShutsDown(t *testing.T) {
	useTempDatabase(t)
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = time.Second

	log, err := logger.SetupWithWriter(cfg.Server, io.Discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := newApplication(ctx, cfg, log)
	require.NoError(t, err)
	defer app.close()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
