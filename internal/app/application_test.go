package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/internal/config"
	"roomcast/internal/logging"
	"roomcast/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.HTTP.Host = "127.0.0.1"
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = 0

	_, err := NewApplication(cfg, logging.Discard())
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestApplication_ServesAPIAndMetrics(t *testing.T) {
	app, err := NewApplication(testConfig(t), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.dbManager.Close() })

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []types.Room
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	assert.Len(t, rooms, 6, "seeded rooms are served")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomcast_websocket_active_connections")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestApplication_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = freePort(t)

	app, err := NewApplication(cfg, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))
	assert.True(t, strings.HasPrefix(app.Addr(), "127.0.0.1:"))

	resp, err := http.Get("http://" + app.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, app.Stop(stopCtx))

	_, open := <-app.Errors()
	assert.False(t, open, "errors channel closes on clean shutdown")
}

func TestApplication_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.HTTP.Port = ln.Addr().(*net.TCPAddr).Port

	app, err := NewApplication(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.dbManager.Close() })

	err = app.Start(context.Background())
	assert.ErrorContains(t, err, "failed to listen")
	assert.False(t, app.messageHub.IsRunning())
}
