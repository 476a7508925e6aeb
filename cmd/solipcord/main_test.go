// ABOUTME: Tests for the solipcord CLI helpers
// ABOUTME: Covers config path resolution, init, status output, and the console log handler

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solipcord/internal/config"
	"github.com/2389/solipcord/internal/responder"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SOLIPCORD_CONFIG", "/etc/solipcord.yaml")
	assert.Equal(t, "/etc/solipcord.yaml", getConfigPath())

	t.Setenv("SOLIPCORD_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "solipcord", "gateway.yaml"), getConfigPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, filepath.Join("/home/tester", ".config", "solipcord", "gateway.yaml"), getConfigPath())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, loadDotEnv(), "missing .env is not an error")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SOLIPCORD_TEST_VALUE=from-dotenv\n"), 0o600))
	t.Setenv("SOLIPCORD_TEST_VALUE", "")
	os.Unsetenv("SOLIPCORD_TEST_VALUE")

	require.NoError(t, loadDotEnv())
	assert.Equal(t, "from-dotenv", os.Getenv("SOLIPCORD_TEST_VALUE"))
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "gateway.yaml")
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	answers := strings.Join([]string{
		path,
		"127.0.0.1:9191",
		dbPath,
		"scripted",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9191", cfg.Server.HTTPAddr)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, config.BackendScripted, cfg.Generation.Backend)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(path+"\nno\n"), &out))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestRenderConfig_OllamaAnswers(t *testing.T) {
	yaml := renderConfig(initAnswers{
		HTTPAddr:  "0.0.0.0:8080",
		DBPath:    "/data/solipcord.db",
		Backend:   "ollama",
		OllamaURL: "http://gpu-box:11434",
		Model:     "mistral",
	})
	assert.Contains(t, yaml, `http_addr: "0.0.0.0:8080"`)
	assert.Contains(t, yaml, `path: "/data/solipcord.db"`)
	assert.Contains(t, yaml, `ollama_url: "http://gpu-box:11434"`)
	assert.Contains(t, yaml, `model: "mistral"`)
}

func TestRunStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/responders", r.URL.Path)
		_ = json.NewEncoder(w).Encode(responder.Status{
			Running:        true,
			DMListeners:    1,
			GroupListeners: 1,
			DMIDs:          []string{"d1"},
			GroupIDs:       []string{"g1"},
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	cfg := "server:\n  http_addr: \"" + strings.TrimPrefix(srv.URL, "http://") + "\"\n" +
		"database:\n  path: \"" + filepath.Join(t.TempDir(), "x.db") + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	t.Setenv("SOLIPCORD_CONFIG", path)

	var out bytes.Buffer
	require.NoError(t, runStatus(context.Background(), &out))
	assert.Contains(t, out.String(), "responders: running")
	assert.Contains(t, out.String(), "dm:d1")
	assert.Contains(t, out.String(), "group:g1")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("handled", "status", 200)
	logger.Error("boom", slog.Group("err", "kind", "io"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF handled component=gateway req.status=200")
	assert.Contains(t, lines[1], "ERR boom err.kind=io")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.Debug("visible", "channel", "dm:1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "visible", rec["msg"])
	assert.Equal(t, "dm:1", rec["channel"])
}
