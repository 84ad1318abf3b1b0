package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/assessly/pkg/audit"
	"github.com/platinummonkey/assessly/pkg/config"
	"github.com/platinummonkey/assessly/pkg/middleware"
	"github.com/platinummonkey/assessly/pkg/observability"
	"github.com/platinummonkey/assessly/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "8080", HealthPort: "9090", MaxBodyBytes: 1 << 16},
		Ledger:    config.LedgerConfig{Backend: rbac.BackendMemory},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerWindow: 2, Window: time.Minute},
	}
}

func newTestManager(t *testing.T) *rbac.Manager {
	t.Helper()
	manager, err := rbac.NewManager(context.Background(), rbac.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestApplyFlags(t *testing.T) {
	cfg := testConfig()
	applyFlags(cfg, "8181", "", "sqlite", "file:grants.db", "/etc/policy.yaml", "debug")

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, rbac.BackendSQLite, cfg.Ledger.Backend)
	assert.Equal(t, "file:grants.db", cfg.Ledger.DSN)
	assert.Equal(t, "/etc/policy.yaml", cfg.Policy.File)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestAPIHandler_EndToEnd(t *testing.T) {
	cfg := testConfig()
	manager := newTestManager(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handler := newAPIHandler(cfg, manager, newLimiter(cfg, manager), metrics, observability.NewNopLogger())

	request := func(method, path, body, userID, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if userID != "" {
			req.Header.Set(middleware.HeaderUserID, userID)
			req.Header.Set(middleware.HeaderUserRole, role)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w := request(http.MethodPost, "/rbac/grants", `{"user_id":"E1","permission_id":"teams.manage","duration":"1h"}`, "A1", "org_admin")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	w = request(http.MethodGet, "/rbac/me/permissions", "", "E1", "employee")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "teams.manage")

	w = request(http.MethodGet, "/rbac/me/permissions", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A1 has used its two requests for this window
	request(http.MethodGet, "/rbac/me/permissions", "", "A1", "org_admin")
	w = request(http.MethodGet, "/rbac/me/permissions", "", "A1", "org_admin")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestNewLimiter_MemoryBackend(t *testing.T) {
	cfg := testConfig()
	assert.IsType(t, &middleware.MemoryLimiter{}, newLimiter(cfg, newTestManager(t)))
}

func TestHealthHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry).RecordGrant(true)
	handler := newHealthHandler(newTestManager(t), registry)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "assessly_permission_grants_total")
}

func TestNewAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	var stdout bytes.Buffer

	logger, closeAudit, err := newAuditLogger(config.AuditConfig{Enabled: true, File: path}, &stdout)
	require.NoError(t, err)

	event := audit.NewEvent(context.Background(), audit.EventTypeAuthzPermissionGrant, audit.EventStatusSuccess)
	event.SubjectID = "E1"
	require.NoError(t, logger.Log(context.Background(), event))
	require.NoError(t, closeAudit())

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "authz.permission_grant")
	assert.Contains(t, stdout.String(), "authz.permission_grant")

	_, _, err = newAuditLogger(config.AuditConfig{Enabled: true, File: filepath.Join(t.TempDir(), "missing", "audit.log")}, &stdout)
	assert.Error(t, err)
}
