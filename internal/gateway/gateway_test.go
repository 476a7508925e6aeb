// ABOUTME: Tests for Gateway construction, lifecycle, and health endpoints
// ABOUTME: Runs against in-memory SQLite with the scripted generation backend

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solipcord/internal/config"
	"github.com/2389/solipcord/internal/realtime"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	cfg := config.Default()
	cfg.Server.HTTPAddr = httpAddr
	cfg.Database.Path = ":memory:"
	cfg.Metrics.Enabled = true
	cfg.Generation.Backend = config.BackendScripted
	cfg.Generation.Timeout = 5 * time.Second
	cfg.Stream.HeartbeatInterval = time.Hour
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway builds a gateway with its own hub so tests stay isolated.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	cfg := testConfig(t)
	gw, err := New(cfg, testLogger(), WithHub(realtime.New(cfg.Stream.ReplaySize, testLogger())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger(), WithHub(realtime.New(0, testLogger())))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.conversation == nil {
		t.Error("conversation service should not be nil")
	}
	if gw.responders == nil {
		t.Error("responder manager should not be nil")
	}
	if gw.responders.Running() {
		t.Error("responders should not run before Initialize")
	}
}

func TestGatewayNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Backend = "telepathy"

	_, err := New(cfg, testLogger(), WithHub(realtime.New(0, testLogger())))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestGatewayNew_OllamaBackendNeedsNoServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Backend = config.BackendOllama

	gw, err := New(cfg, testLogger(), WithHub(realtime.New(0, testLogger())))
	require.NoError(t, err)
	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger(), WithHub(realtime.New(0, testLogger())))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	base := "http://" + cfg.Server.HTTPAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "gateway never became ready")

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "server should no longer accept connections")
}

func TestGatewayRun_ListenError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = occupied.Addr().String()
	gw, err := New(cfg, testLogger(), WithHub(realtime.New(0, testLogger())))
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	err = gw.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestHealthEndpoint(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("expected body 'OK', got %q", rec.Body.String())
	}
}

func TestReadyEndpoint(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, gw.Initialize(t.Context()))

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (0 responders)", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "solipcord_")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	gw, err := New(cfg, testLogger(), WithHub(realtime.New(0, testLogger())))
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSharedHub_RebuiltGatewaySeesExistingResponders(t *testing.T) {
	realtime.Reset()
	t.Cleanup(realtime.Reset)

	dbPath := filepath.Join(t.TempDir(), "shared.db")
	build := func() *Gateway {
		cfg := testConfig(t)
		cfg.Database.Path = dbPath
		gw, err := New(cfg, testLogger())
		require.NoError(t, err)
		return gw
	}

	first := build()
	require.NoError(t, first.Initialize(t.Context()))
	p, err := first.conversation.CreatePersona(t.Context(), personaReq("Alice"))
	require.NoError(t, err)
	dm, err := first.conversation.CreateDirectConversation(t.Context(), p.ID)
	require.NoError(t, err)

	second := build()
	defer second.Shutdown(context.Background())
	require.Same(t, first.hub, second.hub)

	attached, err := second.responders.Initialize(t.Context())
	require.NoError(t, err)
	assert.Zero(t, attached, "responder from the first gateway must be reused")
	assert.Equal(t, []string{dm.ID}, second.responders.Status().DMIDs)

	require.NoError(t, first.Shutdown(context.Background()))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")

	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/solipcord")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/solipcord", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".local", "share", "solipcord", "tsnet"), dir)
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "store close", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "store close", io.ErrClosedPipe)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], io.ErrClosedPipe)
	assert.Contains(t, errs[0].Error(), "store close")
}
