package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/assessly/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlers(t *testing.T) (*mux.Router, *EnhancedRBAC, *clockwork.FakeClock) {
	t.Helper()
	engine, clock := newTestEngine(t)
	router := mux.NewRouter()
	NewHandlers(engine).RegisterRoutes(router)
	return router, engine, clock
}

func doRequest(router http.Handler, method, path string, body interface{}, user *User) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req = withUser(req, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_ListPermissions(t *testing.T) {
	router, engine, _ := setupHandlers(t)
	hr := newUser("H1", RoleHRManager)

	w := doRequest(router, "GET", "/rbac/permissions", nil, hr)
	require.Equal(t, http.StatusOK, w.Code)
	var all []Permission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, engine.Catalog().Len())

	w = doRequest(router, "GET", "/rbac/permissions?category=teams", nil, hr)
	require.Equal(t, http.StatusOK, w.Code)
	var teams []Permission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &teams))
	assert.Len(t, teams, 2)

	w = doRequest(router, "GET", "/rbac/permissions?category=billing", nil, hr)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "known: ")
	assert.Contains(t, w.Body.String(), "teams")

	w = doRequest(router, "GET", "/rbac/permissions", nil, newUser("E1", RoleEmployee))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(router, "GET", "/rbac/permissions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_GetPermission(t *testing.T) {
	router, _, _ := setupHandlers(t)
	hr := newUser("H1", RoleHRManager)

	w := doRequest(router, "GET", "/rbac/permissions/users.delete", nil, hr)
	require.Equal(t, http.StatusOK, w.Code)
	var p Permission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "users.delete", p.ID)
	require.Len(t, p.Conditions, 1)

	w = doRequest(router, "GET", "/rbac/permissions/users.fly", nil, hr)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_Roles(t *testing.T) {
	router, engine, _ := setupHandlers(t)
	hr := newUser("H1", RoleHRManager)

	w := doRequest(router, "GET", "/rbac/roles", nil, hr)
	require.Equal(t, http.StatusOK, w.Code)
	var roles map[Role][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
	assert.Equal(t, engine.Matrix().Permissions(RoleViewer), roles[RoleViewer])

	w = doRequest(router, "GET", "/rbac/roles/employee/permissions", nil, hr)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, engine.Matrix().Permissions(RoleEmployee), resp.Permissions)

	w = doRequest(router, "GET", "/rbac/roles/pirate/permissions", nil, hr)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Permissions)
}

func TestHandlers_Check(t *testing.T) {
	router, _, _ := setupHandlers(t)
	admin := newUser("A1", RoleOrgAdmin)

	w := doRequest(router, "POST", "/rbac/check", CheckRequest{Permission: "users.delete"}, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var result CheckResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Allowed)

	w = doRequest(router, "POST", "/rbac/check", CheckRequest{
		Permission: "users.delete",
		Context:    &EvaluationContext{Approved: true},
	}, admin)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceRole, result.Source)

	w = doRequest(router, "POST", "/rbac/check", CheckRequest{
		User:       newUser("E1", RoleEmployee),
		Permission: "teams.manage",
	}, admin)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Allowed)

	w = doRequest(router, "POST", "/rbac/check", CheckRequest{}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := withUser(httptest.NewRequest("POST", "/rbac/check", bytes.NewBufferString("{")), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_CheckOnBehalfOfAnotherUser(t *testing.T) {
	recorder := &recordingAuditLogger{}
	engine, _ := newTestEngine(t, WithAuditLogger(recorder))
	router := mux.NewRouter()
	NewHandlers(engine).RegisterRoutes(router)

	employee := newUser("E1", RoleEmployee)
	hr := newUser("H1", RoleHRManager)

	tests := []struct {
		name     string
		caller   *User
		subject  *User
		wantCode int
	}{
		{"self with own identity", employee, newUser("E1", RoleEmployee), http.StatusOK},
		{"self with elevated role", employee, newUser("E1", RoleSuperAdmin), http.StatusForbidden},
		{"another user without permissions.view", employee, newUser("E2", RoleEmployee), http.StatusForbidden},
		{"another user with permissions.view", hr, newUser("E2", RoleEmployee), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/rbac/check", CheckRequest{
				User:       tt.subject,
				Permission: "teams.manage",
			}, tt.caller)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	require.NoError(t, engine.Close())

	var checks, denials []*audit.AuditEvent
	for _, event := range recorder.Events() {
		switch event.EventType {
		case audit.EventTypeAuthzPermissionCheck:
			checks = append(checks, event)
		case audit.EventTypeAuthzAccessDenied:
			denials = append(denials, event)
		}
	}

	require.Len(t, checks, 1)
	assert.Equal(t, "H1", checks[0].ActorID)
	assert.Equal(t, "E2", checks[0].SubjectID)
	assert.Equal(t, "teams.manage", checks[0].PermissionID)
	assert.Equal(t, false, checks[0].Metadata["allowed"])

	require.Len(t, denials, 2)
	for _, denial := range denials {
		assert.Equal(t, "E1", denial.SubjectID)
		assert.Equal(t, "permissions.view", denial.PermissionID)
	}
}

func TestHandlers_GrantRevokeLifecycle(t *testing.T) {
	router, engine, clock := setupHandlers(t)
	admin := newUser("A1", RoleOrgAdmin)
	employee := newUser("E1", RoleEmployee)
	ctx := context.Background()

	w := doRequest(router, "POST", "/rbac/grants", GrantRequest{UserID: "E1", PermissionID: "teams.manage", Duration: "1h"}, admin)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, engine.HasPermission(ctx, employee, "teams.manage", nil))

	export := engine.ExportUserPermissions(ctx, employee)
	require.Len(t, export.Grants, 1)
	assert.Equal(t, "A1", export.Grants[0].GrantedBy)
	assert.True(t, clock.Now().Add(time.Hour).Equal(*export.Grants[0].ExpiresAt))

	w = doRequest(router, "GET", "/rbac/me/permissions", nil, employee)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "teams.manage")

	w = doRequest(router, "GET", "/rbac/me/export", nil, employee)
	require.Equal(t, http.StatusOK, w.Code)
	var exported PermissionExport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exported))
	assert.Len(t, exported.Grants, 1)

	w = doRequest(router, "DELETE", "/rbac/users/E1/grants/teams.manage", nil, admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, engine.HasPermission(ctx, employee, "teams.manage", nil))

	// revoking again still succeeds
	w = doRequest(router, "DELETE", "/rbac/users/E1/grants/teams.manage", nil, admin)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandlers_GrantValidation(t *testing.T) {
	router, _, _ := setupHandlers(t)
	admin := newUser("A1", RoleOrgAdmin)

	w := doRequest(router, "POST", "/rbac/grants", GrantRequest{PermissionID: "teams.manage"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, "POST", "/rbac/grants", GrantRequest{UserID: "E1", PermissionID: "teams.manage", Duration: "soon"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, "POST", "/rbac/grants", GrantRequest{UserID: "E1", PermissionID: "teams.manage"}, newUser("M1", RoleManager))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlers_GrantLedgerFailure(t *testing.T) {
	engine := NewEnhancedRBAC(nil, nil, failingLedger{})
	defer engine.Close()
	router := mux.NewRouter()
	NewHandlers(engine).RegisterRoutes(router)
	admin := newUser("A1", RoleOrgAdmin)

	w := doRequest(router, "POST", "/rbac/grants", GrantRequest{UserID: "E1", PermissionID: "teams.manage"}, admin)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doRequest(router, "DELETE", "/rbac/users/E1/grants/teams.manage", nil, admin)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandlers_Cleanup(t *testing.T) {
	router, engine, clock := setupHandlers(t)
	ctx := context.Background()

	require.True(t, engine.GrantPermission(ctx, "E1", "teams.manage", "A1", WithDuration(time.Minute)))
	require.True(t, engine.GrantPermission(ctx, "E2", "teams.manage", "A1"))
	clock.Advance(time.Hour)

	w := doRequest(router, "POST", "/rbac/grants/cleanup", nil, newUser("A1", RoleOrgAdmin))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(router, "POST", "/rbac/grants/cleanup", nil, newUser("S1", RoleSuperAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["removed"])
}
