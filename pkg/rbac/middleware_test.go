package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/assessly/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withUser(r *http.Request, user *User) *http.Request {
	return r.WithContext(contextkeys.WithUser(r.Context(), user))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestPermissionMiddleware_RequirePermission(t *testing.T) {
	recorder := &recordingAuditLogger{}
	engine, _ := newTestEngine(t, WithAuditLogger(recorder))
	pm := NewPermissionMiddleware(engine)
	handler := pm.RequirePermission("teams.manage")(okHandler)

	tests := []struct {
		name     string
		user     *User
		expected int
	}{
		{"no identity", nil, http.StatusUnauthorized},
		{"role lacks permission", newUser("E1", RoleEmployee), http.StatusForbidden},
		{"role holds permission", newUser("M1", RoleManager), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/teams", nil)
			if tt.user != nil {
				req = withUser(req, tt.user)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}

	require.NoError(t, engine.Close())
	require.Len(t, recorder.Events(), 1)
	assert.Equal(t, "teams.manage", recorder.Events()[0].PermissionID)
}

func TestPermissionMiddleware_ApprovalHeader(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := NewPermissionMiddleware(engine).RequirePermission("users.delete")(okHandler)
	admin := newUser("A1", RoleOrgAdmin)

	req := withUser(httptest.NewRequest(http.MethodDelete, "/users/9", nil), admin)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = withUser(httptest.NewRequest(http.MethodDelete, "/users/9", nil), admin)
	req.Header.Set(HeaderApprovalGranted, "true")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPermissionMiddleware_RequireAnyAndAll(t *testing.T) {
	engine, _ := newTestEngine(t)
	pm := NewPermissionMiddleware(engine)
	employee := newUser("E1", RoleEmployee)

	serve := func(h http.Handler) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/", nil), employee))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve(pm.RequireAny("teams.manage", "teams.view")(okHandler)))
	assert.Equal(t, http.StatusForbidden, serve(pm.RequireAny("teams.manage", "tags.manage")(okHandler)))
	assert.Equal(t, http.StatusOK, serve(pm.RequireAll("users.view", "teams.view")(okHandler)))
	assert.Equal(t, http.StatusForbidden, serve(pm.RequireAll("users.view", "teams.manage")(okHandler)))
}

func TestPermissionMiddleware_RequireAuthenticated(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := NewPermissionMiddleware(engine).RequireAuthenticated(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication required")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/", nil), newUser("V1", RoleViewer)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEvaluationContextFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderApprovalGranted, "1")
	req.Header.Set(HeaderResourceOwner, "E1")

	ectx := EvaluationContextFromRequest(req, newUser("E1", RoleEmployee))
	assert.True(t, ectx.Approved)
	assert.Equal(t, "E1", ectx.UserID)
	assert.Equal(t, "E1", ectx.OwnerID)
	assert.Equal(t, "org-1", ectx.OrganizationID)
	assert.Equal(t, "dept-1", ectx.DepartmentID)

	req.Header.Set(HeaderApprovalGranted, "maybe")
	assert.False(t, EvaluationContextFromRequest(req, nil).Approved)
}
